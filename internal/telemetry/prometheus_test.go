package telemetry

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestOperation(t *testing.T) {
	Operation("test_op", nil, "")
	Operation("test_op", errors.New("boom"), "rejected")
	Operation("test_op", fmt.Errorf("outer: %w", errors.New("inner")), "")

	assert.Equal(t, float64(1), testutil.ToFloat64(ServiceOperationCounter.WithLabelValues("test_op", "success", "")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ServiceOperationCounter.WithLabelValues("test_op", "error", "rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ServiceOperationCounter.WithLabelValues("test_op", "error", "wrapped")))
}

func TestGauges(t *testing.T) {
	RosterSize(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(promRosterSize))

	RemoteStreams(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(promRemoteStreams))
}
