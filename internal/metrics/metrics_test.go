package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCoordinator_RecordTransaction(t *testing.T) {
	c := NewCoordinatorWithNamespace("test_tx_coordinator")

	c.RecordTransaction("commit", "success")
	c.RecordTransaction("commit", "success")
	c.RecordTransaction("audit", "aborted")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.TransactionsTotal.WithLabelValues("commit", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.TransactionsTotal.WithLabelValues("audit", "aborted")))
}

func TestCoordinator_SetLockHolder(t *testing.T) {
	c := NewCoordinatorWithNamespace("test_lock_coordinator")

	c.SetLockHolder("config", 7)
	assert.Equal(t, float64(7), testutil.ToFloat64(c.LockHolder.WithLabelValues("config")))

	c.SetLockHolder("config", 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(c.LockHolder.WithLabelValues("config")))
}

func TestCoordinator_RecordCompensation(t *testing.T) {
	c := NewCoordinatorWithNamespace("test_comp_coordinator")

	c.RecordCompensation()
	c.RecordCompensation()

	assert.Equal(t, float64(2), testutil.ToFloat64(c.CompensationsTotal))
}
