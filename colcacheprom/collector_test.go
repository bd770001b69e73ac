package colcacheprom

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/colcache"
)

func TestCollector(t *testing.T) {
	scm := colcache.NewSchema(colcache.SchemaOpts{})
	partner := scm.AddModel("res.partner")
	name := colcache.AddField[string](partner, "name")
	display := colcache.AddField[string](partner, "display_name", colcache.Computed, colcache.DependsOn(name))
	scm.SetCompute(display, func(env *colcache.Env, ids []colcache.RecordID) error {
		names, err := colcache.ReadBatch[string](env, name, ids)
		if err != nil {
			return err
		}
		return colcache.WriteBatch(env, display, ids, names)
	})

	stats := new(colcache.Stats)
	env := colcache.NewEnv(scm, colcache.EnvOptions{Options: colcache.Options{Stats: stats}})
	require.NoError(t, colcache.WriteBatch(env, name, []colcache.RecordID{1, 2}, []string{"a", "b"}))
	require.NoError(t, env.RecomputeAll())

	c := NewCollector("colcache", stats)
	assert.Equal(t, 7, testutil.CollectAndCount(c))

	err := testutil.CollectAndCompare(c, strings.NewReader(`
# HELP colcache_writes_total Number of values written by users and compute routines.
# TYPE colcache_writes_total counter
colcache_writes_total 4
# HELP colcache_recomputes_total Number of compute routine invocations.
# TYPE colcache_recomputes_total counter
colcache_recomputes_total 1
# HELP colcache_recomputed_records_total Number of records passed to compute routines.
# TYPE colcache_recomputed_records_total counter
colcache_recomputed_records_total 2
`), "colcache_writes_total", "colcache_recomputes_total", "colcache_recomputed_records_total")
	assert.NoError(t, err)
}

func TestCollectorRegisters(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector("app", new(colcache.Stats))))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Equal(t, []string{
		"app_bulk_loaded_total",
		"app_flushed_values_total",
		"app_flushes_total",
		"app_loads_total",
		"app_recomputed_records_total",
		"app_recomputes_total",
		"app_writes_total",
	}, names)
}
