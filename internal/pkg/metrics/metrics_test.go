package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.ReconciliationsTotal.WithLabelValues("created").Inc()
	m.ReconciliationsTotal.WithLabelValues("duplicate").Add(2)
	m.PaymentConflictsTotal.Inc()
	m.LifecycleTransitionsTotal.WithLabelValues("completed").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconciliationsTotal.WithLabelValues("created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReconciliationsTotal.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PaymentConflictsTotal))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "booking_reconciliations_total")
	assert.Contains(t, names, "booking_lifecycle_transitions_total")
}

func TestNewWithRegistryRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewWithRegistry(reg)

	assert.Panics(t, func() { NewWithRegistry(reg) })
}
