package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickStore_SetGet(t *testing.T) {
	t.Parallel()

	ts := NewTickStore()
	tk := Tick{Symbol: "EUR_USD", Bid: 1.1, Ask: 1.2, Time: time.Unix(100, 0)}

	assert.True(t, ts.Set(tk))

	got, ok := ts.Get("EUR_USD")
	require.True(t, ok)
	assert.Equal(t, tk, got)
	assert.Equal(t, 1, ts.Len())
}

func TestTickStore_GetMissing(t *testing.T) {
	t.Parallel()

	ts := NewTickStore()

	_, ok := ts.Get("NO_SUCH")
	assert.False(t, ok)

	_, err := ts.GetTick(context.Background(), "NO_SUCH")
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestTickStore_StaleTickLoses(t *testing.T) {
	t.Parallel()

	ts := NewTickStore()
	newer := Tick{Symbol: "EUR_USD", Bid: 1.2, Ask: 1.3, Time: time.Unix(200, 0)}
	older := Tick{Symbol: "EUR_USD", Bid: 1.0, Ask: 1.1, Time: time.Unix(100, 0)}

	assert.True(t, ts.Set(newer))
	assert.False(t, ts.Set(older))

	got, _ := ts.Get("EUR_USD")
	assert.Equal(t, newer, got)

	// duplicates with the same timestamp replace
	dup := Tick{Symbol: "EUR_USD", Bid: 1.25, Ask: 1.3, Time: time.Unix(200, 0)}
	assert.True(t, ts.Set(dup))
	got, _ = ts.Get("EUR_USD")
	assert.Equal(t, 1.25, got.Bid)
}

func TestTickAt(t *testing.T) {
	t.Parallel()

	tk := TickAt("BTC_USD", 100, 101, 1_700_000_000_123)
	assert.Equal(t, int64(1_700_000_000_123), tk.Time.UnixMilli())
	assert.Equal(t, time.UTC, tk.Time.Location())
	assert.InDelta(t, 100.5, tk.Mid(), 1e-9)
	assert.InDelta(t, 1.0, tk.Spread(), 1e-9)
}

func TestTickValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tick    Tick
		wantErr bool
	}{
		{"ok", Tick{Symbol: "EUR_USD", Bid: 1.1, Ask: 1.1002}, false},
		{"no symbol", Tick{Bid: 1, Ask: 1}, true},
		{"zero bid", Tick{Symbol: "EUR_USD", Ask: 1}, true},
		{"crossed", Tick{Symbol: "EUR_USD", Bid: 1.2, Ask: 1.1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tick.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
