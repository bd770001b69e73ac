package colcache

import (
	"sync/atomic"
)

// Stats counts cache activity. The counters are atomic so that a metrics
// exporter may read them while the owning Env is in use.
type Stats struct {
	Writes            atomic.Uint64
	BulkLoaded        atomic.Uint64
	Recomputes        atomic.Uint64
	RecomputedRecords atomic.Uint64
	Loads             atomic.Uint64
	Flushes           atomic.Uint64
	FlushedValues     atomic.Uint64
}

type StatsSnapshot struct {
	Writes            uint64
	BulkLoaded        uint64
	Recomputes        uint64
	RecomputedRecords uint64
	Loads             uint64
	Flushes           uint64
	FlushedValues     uint64
}

func (st *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Writes:            st.Writes.Load(),
		BulkLoaded:        st.BulkLoaded.Load(),
		Recomputes:        st.Recomputes.Load(),
		RecomputedRecords: st.RecomputedRecords.Load(),
		Loads:             st.Loads.Load(),
		Flushes:           st.Flushes.Load(),
		FlushedValues:     st.FlushedValues.Load(),
	}
}
