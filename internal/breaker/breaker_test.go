package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFail = errors.New("fail")

func newTestBreaker(max int, coolOff time.Duration) (*Breaker, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("coinglass", max, coolOff)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "coinglass", b.Name())
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return errFail }), errFail)
	}
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open breaker never calls through")
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(2, time.Second)
	var transitions []string
	b.OnStateChange = func(_ string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(2 * time.Second)
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b, now := newTestBreaker(1, time.Second)
	b.Execute(func() error { return errFail })
	*now = now.Add(2 * time.Second)

	assert.ErrorIs(t, b.Execute(func() error { return errFail }), errFail)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(func() error { return nil }), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(2, time.Second)
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return nil })
	b.Execute(func() error { return errFail })
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	b, now := newTestBreaker(1, time.Second)
	b.Execute(func() error { return errFail })
	*now = now.Add(2 * time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- b.Execute(func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	require.Equal(t, StateHalfOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen, "second caller rejected while the probe runs")
	assert.False(t, called)

	close(release)
	require.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Execute(func() error { return nil }))
}

func TestBreaker_PanickingProbeReopens(t *testing.T) {
	b, now := newTestBreaker(1, time.Second)
	b.Execute(func() error { return errFail })
	*now = now.Add(2 * time.Second)

	assert.Panics(t, func() {
		b.Execute(func() error { panic("upstream client bug") })
	})
	assert.Equal(t, StateOpen, b.State(), "panic counted as a failed probe")
}
