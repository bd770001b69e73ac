/*
Package colcache implements an in-memory columnar value cache with
dependency-driven incremental recomputation.

Values are kept per (model, field) in a Column: a dense, type-homogeneous
slice plus an index from record ID to slot. A Store owns the columns and the
per-record sets of dirty fields (values modified by the user and not yet
persisted).

A Schema declares models, fields and the dependency edges between fields:
an edge from A to B says that modifying A makes the computed field B stale.
The Tracker records stale (model, record, field) cells, and the Env ties
everything together: writes go through the Store and are reported to the
Tracker, reads of stale computed fields invoke the field's compute routine,
and Flush recomputes everything and hands dirty values to a Backend.

# Propagation

The Tracker only marks direct dependents. Longer chains work because a
compute routine stores its results with Write, which reports the computed
field as modified in turn. For A → B → C, writing A marks B stale; computing
B writes B, which marks C stale.

# Handles

Models and fields are addressed by small integer handles (ModelHandle,
FieldHandle) assigned by the Schema in declaration order, starting from 1.
Record IDs are chosen by the caller.

# Concurrency

Store, Tracker and Env are not safe for concurrent use; create one Env per
unit of work. A sealed Schema (see Schema.Graph) and its Graph may be shared.
*/
package colcache
