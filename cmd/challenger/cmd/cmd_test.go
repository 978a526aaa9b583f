package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rustyeddy/challenger/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), buf.String())
	return buf.String()
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "challenger.yaml")

	out := run(t, "config", "init", "-o", path)
	assert.Contains(t, out, "Created default configuration")
	assert.FileExists(t, path)

	out = run(t, "config", "validate", "-f", path)
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, "daily=FAILED")
}

func TestAccountReplayViolationsFlow(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.DSN = filepath.Join(dir, "challenger.db")
	cfg.Log.Level = "error"
	cfgPath := filepath.Join(dir, "challenger.yaml")
	require.NoError(t, cfg.SaveToFile(cfgPath))

	out := run(t, "-c", cfgPath, "accounts", "create", "--id", "A1", "--balance", "10000", "--daily", "5", "--overall", "10")
	assert.Contains(t, out, "Created account A1")

	out = run(t, "-c", cfgPath, "positions", "open", "-a", "A1", "-s", "BTC_USD", "--side", "BUY", "-v", "1", "-p", "50000", "--id", "P1")
	assert.Contains(t, out, "Opened P1")

	ticks := filepath.Join(dir, "ticks.csv")
	require.NoError(t, os.WriteFile(ticks, []byte(
		"time,symbol,bid,ask\n"+
			"2024-03-04T10:00:00Z,BTC_USD,50100,50110\n"+
			"2024-03-04T10:05:00Z,BTC_USD,49500,49510\n"), 0o644))

	out = run(t, "-c", cfgPath, "replay", ticks)
	assert.Contains(t, out, "Replayed 2 ticks")
	assert.Contains(t, out, "DAILY_DRAWDOWN")

	out = run(t, "-c", cfgPath, "violations", "A1")
	assert.Contains(t, out, "DAILY_DRAWDOWN")
	assert.Contains(t, out, "2024-03-04")

	out = run(t, "-c", cfgPath, "accounts", "list", "--status", "FAILED")
	assert.Contains(t, out, "A1")
}
