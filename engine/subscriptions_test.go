package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptions_RefCounts(t *testing.T) {
	t.Parallel()

	s := NewSubscriptions()
	s.Add("A1", "P1", "EUR_USD")
	s.Add("A1", "P2", "EUR_USD")
	s.Add("A2", "P3", "EUR_USD", "USD_JPY")

	assert.Equal(t, []string{"A1", "A2"}, s.Accounts("EUR_USD"))
	assert.Equal(t, []string{"A2"}, s.Accounts("USD_JPY"))
	assert.Equal(t, []string{"EUR_USD", "USD_JPY"}, s.Symbols())

	s.Remove("P1")
	assert.Equal(t, []string{"A1", "A2"}, s.Accounts("EUR_USD"))
	s.Remove("P2")
	assert.Equal(t, []string{"A2"}, s.Accounts("EUR_USD"))
	s.Remove("P2")
	s.Remove("P3")
	assert.Empty(t, s.Accounts("EUR_USD"))
	assert.Empty(t, s.Symbols())
	assert.Zero(t, s.Len())
}

func TestSubscriptions_AddReplacesSymbols(t *testing.T) {
	t.Parallel()

	s := NewSubscriptions()
	s.Add("A1", "P1", "GBP_USD")
	s.Add("A1", "P1", "GBP_USD", "EUR_USD", "GBP_USD")

	assert.Equal(t, []string{"A1"}, s.Accounts("EUR_USD"))
	assert.Equal(t, []string{"A1"}, s.Accounts("GBP_USD"))
	assert.Equal(t, 1, s.Len())
}

func TestSubscriptions_Sync(t *testing.T) {
	t.Parallel()

	s := NewSubscriptions()
	s.Add("A1", "P1", "EUR_USD")
	s.Add("A1", "P2", "GBP_USD")
	s.Add("A2", "P9", "GBP_USD")

	s.Sync("A1", map[string][]string{
		"P2": {"GBP_USD"},
		"P3": {"USD_JPY"},
	})
	assert.Empty(t, s.Accounts("EUR_USD"))
	assert.Equal(t, []string{"A1", "A2"}, s.Accounts("GBP_USD"))
	assert.Equal(t, []string{"A1"}, s.Accounts("USD_JPY"))

	s.DropAccount("A1")
	assert.Equal(t, []string{"A2"}, s.Accounts("GBP_USD"))
	assert.Equal(t, 1, s.Len())
}
