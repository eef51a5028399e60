package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	valid := testutil.ToFloat64(Blocks.WithLabelValues("valid"))
	invalid := testutil.ToFloat64(Blocks.WithLabelValues("invalid"))
	BlockProduced(true)
	BlockProduced(false)
	BlockProduced(false)
	assert.Equal(t, valid+1, testutil.ToFloat64(Blocks.WithLabelValues("valid")))
	assert.Equal(t, invalid+2, testutil.ToFloat64(Blocks.WithLabelValues("invalid")))

	ok := testutil.ToFloat64(Fixtures.WithLabelValues("blockchain_test", "ok"))
	failed := testutil.ToFloat64(Fixtures.WithLabelValues("blockchain_test", "error"))
	FixtureFilled("blockchain_test", nil)
	FixtureFilled("blockchain_test", errors.New("boom"))
	assert.Equal(t, ok+1, testutil.ToFloat64(Fixtures.WithLabelValues("blockchain_test", "ok")))
	assert.Equal(t, failed+1, testutil.ToFloat64(Fixtures.WithLabelValues("blockchain_test", "error")))
}

func TestRegistryGathers(t *testing.T) {
	ExecutorErrors.Inc()
	families, err := Registry.Gather()
	assert.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ethfill_executor_errors_total"])
}
