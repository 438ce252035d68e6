package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_IsSingleton(t *testing.T) {
	a := Registry("console_test")
	b := Registry("ignored")
	require.NotNil(t, a)
	assert.Same(t, a, b)
}

func TestRegistry_CountersIncrement(t *testing.T) {
	m := Registry("console_test")
	before := testutil.ToFloat64(m.Alerts.WithLabelValues("fetch_failed"))
	m.Alerts.WithLabelValues("fetch_failed").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(m.Alerts.WithLabelValues("fetch_failed")))
}
