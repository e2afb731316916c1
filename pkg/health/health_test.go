package health

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/orgloop/orgloop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordsExistFromInstantiation(t *testing.T) {
	s := NewSet("eng", DefaultConfig(), []string{"gh", "ci"})

	for _, id := range []string{"gh", "ci"} {
		h, ok := s.Get(id)
		require.True(t, ok)
		assert.Equal(t, types.SourceHealthy, h.Status)
		assert.Equal(t, 0, h.ConsecutiveErrors)
		assert.False(t, h.CircuitOpen)
	}
}

// Mirrors the healthy→degraded(1..4)→unhealthy walk with threshold 5.
func TestFailureWalkOpensCircuitAtThreshold(t *testing.T) {
	cfg := Config{FailureThreshold: 5, RetryAfter: time.Minute}
	s := NewSet("eng", cfg, []string{"gh"})

	for i := 1; i <= 4; i++ {
		opened := s.RecordFailure("gh", fmt.Errorf("auth failed"))
		assert.False(t, opened, "failure %d must not open the circuit", i)

		h, _ := s.Get("gh")
		assert.Equal(t, types.SourceDegraded, h.Status)
		assert.Equal(t, i, h.ConsecutiveErrors)
		assert.False(t, h.CircuitOpen)
	}

	opened := s.RecordFailure("gh", errors.New("auth failed"))
	assert.True(t, opened)

	h, _ := s.Get("gh")
	assert.Equal(t, types.SourceUnhealthy, h.Status)
	assert.Equal(t, 5, h.ConsecutiveErrors)
	assert.True(t, h.CircuitOpen)
	require.NotNil(t, h.CircuitRetryDeadline)
	assert.Equal(t, "auth failed", h.LastError)
}

func TestSuccessResetsToHealthy(t *testing.T) {
	s := NewSet("eng", Config{FailureThreshold: 5, RetryAfter: time.Minute}, []string{"gh"})

	s.RecordFailure("gh", errors.New("flaky"))
	h, _ := s.Get("gh")
	assert.Equal(t, types.SourceDegraded, h.Status)

	s.RecordSuccess("gh", 3)
	h, _ = s.Get("gh")
	assert.Equal(t, types.SourceHealthy, h.Status)
	assert.Equal(t, 0, h.ConsecutiveErrors)
	assert.Empty(t, h.LastError)
	assert.NotNil(t, h.LastSuccessfulPoll)
	assert.Equal(t, int64(3), h.TotalEventsEmitted)
}

func TestProbeSuccessClosesCircuit(t *testing.T) {
	s := NewSet("eng", Config{FailureThreshold: 2, RetryAfter: time.Minute}, []string{"gh"})

	s.RecordFailure("gh", errors.New("down"))
	s.RecordFailure("gh", errors.New("down"))

	h, _ := s.Get("gh")
	require.True(t, h.CircuitOpen)

	s.RecordSuccess("gh", 1)
	h, _ = s.Get("gh")
	assert.False(t, h.CircuitOpen)
	assert.Nil(t, h.CircuitRetryDeadline)
	assert.Equal(t, types.SourceHealthy, h.Status)
	assert.Equal(t, 0, h.ConsecutiveErrors)
}

func TestProbeFailureReArmsDeadline(t *testing.T) {
	s := NewSet("eng", Config{FailureThreshold: 2, RetryAfter: time.Minute}, []string{"gh"})

	s.RecordFailure("gh", errors.New("down"))
	s.RecordFailure("gh", errors.New("down"))
	h, _ := s.Get("gh")
	first := *h.CircuitRetryDeadline

	time.Sleep(5 * time.Millisecond)
	s.RecordFailure("gh", errors.New("still down"))

	h, _ = s.Get("gh")
	assert.True(t, h.CircuitOpen)
	assert.True(t, h.CircuitRetryDeadline.After(first))
}

func TestGateDecisions(t *testing.T) {
	retryAfter := time.Minute
	s := NewSet("eng", Config{FailureThreshold: 1, RetryAfter: retryAfter}, []string{"gh"})

	now := time.Now()
	assert.Equal(t, Allow, s.Gate("gh", now), "closed circuit polls normally")

	s.RecordFailure("gh", errors.New("down"))

	assert.Equal(t, Skip, s.Gate("gh", time.Now()), "open circuit before deadline skips")
	assert.Equal(t, Probe, s.Gate("gh", time.Now().Add(retryAfter+time.Second)), "past deadline probes")
}

func TestUnknownSourceIsAllowed(t *testing.T) {
	s := NewSet("eng", DefaultConfig(), []string{"gh"})
	assert.Equal(t, Allow, s.Gate("nope", time.Now()))
	assert.False(t, s.RecordFailure("nope", errors.New("x")))

	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewSet("eng", DefaultConfig(), []string{"gh"})

	snap := s.Snapshot()
	snap["gh"] = types.SourceHealth{Status: types.SourceUnhealthy}

	h, _ := s.Get("gh")
	assert.Equal(t, types.SourceHealthy, h.Status)
}

func TestZeroConfigGetsDefaults(t *testing.T) {
	s := NewSet("eng", Config{}, []string{"gh"})
	for i := 0; i < DefaultConfig().FailureThreshold-1; i++ {
		assert.False(t, s.RecordFailure("gh", errors.New("x")))
	}
	assert.True(t, s.RecordFailure("gh", errors.New("x")))
}
