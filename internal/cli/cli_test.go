package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandaura/pandaura/internal/config"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func writeProgram(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const counterProgram = `
VAR
    Count : INT := 0;
END_VAR
Count := Count + 1;
`

func TestValidateCommand_ValidFile(t *testing.T) {
	path := writeProgram(t, "ok.st", counterProgram)
	assert.NoError(t, execute(t, "validate", path))
}

func TestValidateCommand_BrokenFile(t *testing.T) {
	path := writeProgram(t, "broken.st", "IF THEN END_IF")
	err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 files failed validation")
}

func TestValidateCommand_MissingFile(t *testing.T) {
	err := execute(t, "validate", filepath.Join(t.TempDir(), "absent.st"))
	assert.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	path := writeProgram(t, "counter.st", counterProgram)
	assert.NoError(t, execute(t, "run", path, "--cycles", "5"))
}

func TestRunCommand_RejectsZeroCycles(t *testing.T) {
	path := writeProgram(t, "counter.st", counterProgram)
	err := execute(t, "run", path, "--cycles", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--cycles must be positive")
}

func TestRunCommand_CompileError(t *testing.T) {
	path := writeProgram(t, "broken.st", "WHILE DO END_WHILE")
	assert.Error(t, execute(t, "run", path, "--cycles", "1"))
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-01-01")
	assert.NoError(t, execute(t, "version"))
}

func TestEngineConfigMapping(t *testing.T) {
	e := config.EngineConfig{
		ScanTimeMs:      20,
		WatchdogLimitMs: 75,
		LatencyBaseMs:   1.5,
		LatencyJitterMs: 0.25,
		StopOnError:     true,
		Seed:            7,
	}

	got := engineConfig(e)
	assert.Equal(t, 20, got.ScanTimeMs)
	assert.Equal(t, 75, got.WatchdogLimitMs)
	assert.InDelta(t, 1.5, got.LatencyBaseMs, 0.001)
	assert.InDelta(t, 0.25, got.LatencyJitterMs, 0.001)
	assert.True(t, got.StopOnError)
	assert.Equal(t, int64(7), got.Seed)

	e.LegacyScanTime = true
	assert.Equal(t, 100, engineConfig(e).ScanTimeMs)
}
