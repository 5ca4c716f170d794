package runlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	l := New("flashcrash", "ETH", 15, true, dir)
	require.NotEmpty(t, l.Path())

	l.Event("run_started", Fields{"bankroll": "20"})
	l.Event("trade_opened", Fields{"side": "up", "entry_price": "0.5"})

	file, err := os.Open(l.Path())
	require.NoError(t, err)
	defer file.Close()

	var rows []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		rows = append(rows, row)
	}

	require.Len(t, rows, 2)
	assert.Equal(t, "run_started", rows[0]["event"])
	assert.Contains(t, rows[0], "ts")
	assert.Contains(t, rows[0], "elapsed_s")
	assert.Equal(t, "trade_opened", rows[1]["event"])
	assert.Equal(t, "up", rows[1]["side"])
}

func TestFileNameEncodesRunIdentity(t *testing.T) {
	dir := t.TempDir()
	l := New("FlashCrash", "ETH", 15, true, dir)

	name := filepath.Base(l.Path())
	assert.Contains(t, name, "flashcrash")
	assert.Contains(t, name, "eth")
	assert.Contains(t, name, "15m")
	assert.True(t, strings.HasSuffix(name, ".jsonl"))
}

func TestDisabledLoggerDropsEverything(t *testing.T) {
	dir := t.TempDir()
	l := New("flashcrash", "ETH", 15, false, dir)

	assert.Empty(t, l.Path())
	l.Event("run_started", Fields{"bankroll": "20"}) // must not panic or write

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.Empty(t, l.Path())
	l.Event("snapshot", nil)
}
