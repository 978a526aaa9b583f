package events

import (
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_StatusChangedSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBus()
	var mu sync.Mutex
	var got []AccountStatusChanged
	require.NoError(t, b.Subscribe(TopicStatusChanged, func(e AccountStatusChanged) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}))

	b.StatusChanged(AccountStatusChanged{AccountID: "A1", OldStatus: challenge.StatusActive, NewStatus: challenge.StatusFailed, PositionsClosed: 3})
	b.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].PositionsClosed)
	assert.Equal(t, challenge.StatusFailed, got[0].NewStatus)
}

func TestBus_PositionClosedAndAlert(t *testing.T) {
	t.Parallel()

	b := NewBus()
	closed := make(chan PositionClosed, 1)
	alerts := make(chan Alert, 1)
	require.NoError(t, b.Subscribe(TopicPositionClosed, func(e PositionClosed) { closed <- e }))
	require.NoError(t, b.Subscribe(TopicAlert, func(e Alert) { alerts <- e }))

	b.PositionClosed(PositionClosed{PositionID: "P1", Reason: challenge.CloseViolation})
	b.Alert(Alert{AccountID: "A1", Stage: "evaluate"})
	b.Wait()

	select {
	case e := <-closed:
		assert.Equal(t, "P1", e.PositionID)
	case <-time.After(time.Second):
		t.Fatal("position closed not delivered")
	}
	select {
	case e := <-alerts:
		assert.Equal(t, "evaluate", e.Stage)
	case <-time.After(time.Second):
		t.Fatal("alert not delivered")
	}
}

func TestBus_StreamDropsWhenSlow(t *testing.T) {
	t.Parallel()

	b := NewBus()
	s := b.Stream("", 2)
	defer s.Close()

	for i := 0; i < 5; i++ {
		b.Metrics(MetricsUpdated{AccountID: "A1", Equity: float64(i)})
	}

	assert.Equal(t, uint64(3), s.Dropped())
	assert.Equal(t, uint64(3), b.Dropped())

	first := <-s.C
	assert.Equal(t, "metrics", first.Type)
	assert.Equal(t, 0.0, first.Metrics.Equity)
}

func TestBus_StreamFilterAndClose(t *testing.T) {
	t.Parallel()

	b := NewBus()
	only := b.Stream("A2", 4)

	b.Metrics(MetricsUpdated{AccountID: "A1"})
	b.StatusChanged(AccountStatusChanged{AccountID: "A2", NewStatus: challenge.StatusFailed})

	env := <-only.C
	assert.Equal(t, "status", env.Type)
	assert.Equal(t, "A2", env.AccountID)

	only.Close()
	only.Close()
	_, ok := <-only.C
	assert.False(t, ok)

	// publishing after close is harmless
	b.Metrics(MetricsUpdated{AccountID: "A2"})
}
