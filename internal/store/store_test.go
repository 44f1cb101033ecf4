package store

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandaura/pandaura/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), log.New(io.Discard))
	require.NoError(t, err)
	return s
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	content := []byte(strings.Repeat("Motor_Run := TRUE;\nPump_Run := FALSE;\n", 50))

	sf, err := s.Save("p1", "v1", "main.st", content, nil, false)
	require.NoError(t, err)
	assert.Equal(t, Checksum(content), sf.SHA256)
	assert.Equal(t, int64(len(content)), sf.OriginalSize)
	assert.True(t, sf.IsCompressed, "repetitive content must compress")
	assert.Less(t, sf.StoredSize, sf.OriginalSize)
	assert.False(t, sf.IsDelta)

	loaded, err := s.Load(*sf, nil)
	require.NoError(t, err)
	assert.Equal(t, content, loaded)
}

func TestStore_IncompressibleStoredRaw(t *testing.T) {
	s := newTestStore(t)
	content := []byte{0x01}

	sf, err := s.Save("p1", "v1", "tiny.bin", content, nil, false)
	require.NoError(t, err)
	assert.False(t, sf.IsCompressed)
	assert.Equal(t, int64(1), sf.StoredSize)

	loaded, err := s.Load(*sf, nil)
	require.NoError(t, err)
	assert.Equal(t, content, loaded)
}

func TestStore_DeltaRoundTrip(t *testing.T) {
	s := newTestStore(t)

	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, "Temperature_SP := 72.5; // setpoint line")
	}
	base := []byte(strings.Join(lines, "\n"))
	lines[100] = "Temperature_SP := 80.0; // raised"
	next := []byte(strings.Join(lines, "\n"))

	sf, err := s.Save("p1", "v2", "main.st", next, base, true)
	require.NoError(t, err)
	assert.True(t, sf.IsDelta, "single-line change in a large file must store as delta")

	loaded, err := s.Load(*sf, base)
	require.NoError(t, err)
	assert.Equal(t, next, loaded)
}

func TestStore_DeltaRejectedWhenTooLarge(t *testing.T) {
	s := newTestStore(t)
	base := []byte("a\nb\nc")
	next := []byte("x\ny\nz")

	sf, err := s.Save("p1", "v2", "main.st", next, base, true)
	require.NoError(t, err)
	assert.False(t, sf.IsDelta, "full rewrite of a tiny file must store raw")

	loaded, err := s.Load(*sf, nil)
	require.NoError(t, err)
	assert.Equal(t, next, loaded)
}

func TestStore_DeltaRequiresBase(t *testing.T) {
	s := newTestStore(t)

	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, "FOR i := 1 TO 10 DO END_FOR;")
	}
	base := []byte(strings.Join(lines, "\n"))
	next := []byte(strings.Join(lines, "\n") + "\nExtra := 1;")

	sf, err := s.Save("p1", "v2", "main.st", next, base, true)
	require.NoError(t, err)
	require.True(t, sf.IsDelta)

	_, err = s.Load(*sf, nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPrecondition))
}

func TestStore_ChecksumMismatch(t *testing.T) {
	s := newTestStore(t)
	content := []byte("Motor_Run := TRUE;")

	sf, err := s.Save("p1", "v1", "main.st", content, nil, false)
	require.NoError(t, err)

	sf.SHA256 = strings.Repeat("0", 64)
	_, err = s.Load(*sf, nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindIntegrity))
}

func TestStore_PathSanitisation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Save("p1", "v1", "../escape.st", []byte("x"), nil, false)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	_, err = s.Save("p1", "v1", "/abs.st", []byte("x"), nil, false)
	require.Error(t, err)

	sf, err := s.Save("p1", "v1", "logic/sub/./main.st", []byte("x"), nil, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("versions", "p1", "v1", "logic", "sub", "main.st"), sf.StoragePath)
}

func TestDelta_ExactRoundTripWithTrailingNewline(t *testing.T) {
	base := []byte("a\nb\nc\n")
	next := []byte("a\nB\nc")

	delta, err := encodeDelta(base, next)
	require.NoError(t, err)
	decoded, err := decodeDelta(base, delta)
	require.NoError(t, err)
	assert.Equal(t, next, decoded)
}

func TestBundle_PackExtract(t *testing.T) {
	s := newTestStore(t)
	files := map[string][]byte{
		"main.st":        []byte("Motor_Run := TRUE;\n"),
		"logic/valve.st": []byte("Valve_Open := FALSE;\n"),
	}

	data, checksum, err := s.PackBundle("p1", "v1", "r1", files, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, Checksum(data), checksum)

	dest := t.TempDir()
	bundle, err := s.ExtractBundle(data, dest)
	require.NoError(t, err)
	assert.Equal(t, "p1", bundle.ProjectID)
	assert.Equal(t, "r1", bundle.ReleaseID)
	assert.Equal(t, "2026-03-01T12:00:00Z", bundle.CreatedAt)
	require.Len(t, bundle.Files, 2)

	for path, content := range files {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(path)))
		require.NoError(t, err)
		assert.Equal(t, content, got)
	}
}

func TestBundle_Deterministic(t *testing.T) {
	s := newTestStore(t)
	files := map[string][]byte{"b.st": []byte("b"), "a.st": []byte("a")}
	at := time.Unix(1_700_000_000, 0)

	first, c1, err := s.PackBundle("p", "v", "r", files, at)
	require.NoError(t, err)
	second, c2, err := s.PackBundle("p", "v", "r", files, at)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second))
	assert.Equal(t, c1, c2)
}

func TestBundle_RejectsInvalid(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.PackBundle("p", "v", "r", nil, time.Now())
	require.Error(t, err)

	garbage, err := compress([]byte(`{"version":"9.9"}`))
	require.NoError(t, err)
	_, err = s.ExtractBundle(garbage, t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestStore_PruneVersions(t *testing.T) {
	s := newTestStore(t)

	for i, v := range []string{"v1", "v2", "v3", "v4"} {
		_, err := s.Save("p1", v, "main.st", []byte("content"), nil, false)
		require.NoError(t, err)
		// Distinct mtimes so recency ordering is stable.
		dir := filepath.Join(s.Root(), "versions", "p1", v)
		stamp := time.Now().Add(time.Duration(i-10) * time.Minute)
		require.NoError(t, os.Chtimes(dir, stamp, stamp))
	}

	removed, err := s.PruneVersions("p1", 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v1", "v2"}, removed)

	entries, err := os.ReadDir(filepath.Join(s.Root(), "versions", "p1"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Nothing to prune under the keep count, unknown project is a no-op.
	removed, err = s.PruneVersions("p1", 10)
	require.NoError(t, err)
	assert.Empty(t, removed)
	removed, err = s.PruneVersions("ghost", 1)
	require.NoError(t, err)
	assert.Empty(t, removed)

	_, err = s.PruneVersions("p1", -1)
	require.Error(t, err)
}

func TestStore_DeleteVersion(t *testing.T) {
	s := newTestStore(t)
	sf, err := s.Save("p1", "v1", "main.st", []byte("x"), nil, false)
	require.NoError(t, err)

	require.NoError(t, s.DeleteVersion("p1", "v1"))
	_, err = s.Load(*sf, nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindIO))
}
