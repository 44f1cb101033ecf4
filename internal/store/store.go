// Package store is the content-addressed file store: SHA-256 addressed
// blobs with Brotli compression, optional line-delta encoding against a
// base revision, release bundles, and retention pruning.
package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/charmbracelet/log"

	"github.com/pandaura/pandaura/internal/errors"
	"github.com/pandaura/pandaura/internal/fileutil"
)

// compressionQuality is the Brotli quality used for blobs and bundles.
const compressionQuality = 6

// deltaThreshold keeps a delta only when its serialised form is below this
// fraction of the original content.
const deltaThreshold = 0.7

// StoredFile describes one persisted blob.
type StoredFile struct {
	Path         string `json:"path"`
	SHA256       string `json:"sha256"`
	OriginalSize int64  `json:"originalSize"`
	StoredSize   int64  `json:"storedSize"`
	IsCompressed bool   `json:"isCompressed"`
	IsDelta      bool   `json:"isDelta"`
	// StoragePath is relative to the store root.
	StoragePath string `json:"storagePath"`
}

// Store writes blobs under <root>/versions/<projectId>/<versionId>/.
type Store struct {
	root   string
	logger *log.Logger
}

// New creates the store root if needed.
func New(root string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "versions"), 0o755); err != nil {
		return nil, errors.IOWrap(err, "store.New", "failed to create store root")
	}
	return &Store{root: root, logger: logger}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string {
	return s.root
}

// Checksum returns the SHA-256 hex digest of content.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Save persists one file's content. When base is non-nil and allowDelta is
// set, a line-delta against base is stored instead of the full content if
// the delta is small enough. The payload is Brotli-compressed when that is
// strictly smaller.
func (s *Store) Save(projectID, versionID, path string, content, base []byte, allowDelta bool) (*StoredFile, error) {
	const op = "store.Save"

	rel, err := sanitizePath(path)
	if err != nil {
		return nil, err
	}

	sf := &StoredFile{
		Path:         path,
		SHA256:       Checksum(content),
		OriginalSize: int64(len(content)),
		StoragePath:  filepath.Join("versions", projectID, versionID, rel),
	}

	payload := content
	if allowDelta && base != nil {
		delta, err := encodeDelta(base, content)
		if err != nil {
			return nil, err
		}
		if len(content) > 0 && float64(len(delta)) < deltaThreshold*float64(len(content)) {
			payload = delta
			sf.IsDelta = true
		}
	}

	compressed, err := compress(payload)
	if err != nil {
		return nil, err
	}
	stored := payload
	if len(compressed) < len(payload) {
		stored = compressed
		sf.IsCompressed = true
	}
	sf.StoredSize = int64(len(stored))

	full := filepath.Join(s.root, sf.StoragePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, errors.IOWrap(err, op, "failed to create version directory")
	}
	if err := fileutil.WriteFileAtomic(full, stored, 0o644); err != nil {
		return nil, errors.IOWrap(err, op, "failed to write blob")
	}

	s.logger.Debug("stored blob",
		"path", path,
		"size", sf.OriginalSize,
		"stored", sf.StoredSize,
		"delta", sf.IsDelta,
		"compressed", sf.IsCompressed)
	return sf, nil
}

// Load reconstitutes a stored file. The base content must be supplied for
// delta blobs. The result is verified against the recorded checksum.
func (s *Store) Load(sf StoredFile, base []byte) ([]byte, error) {
	const op = "store.Load"

	data, err := os.ReadFile(filepath.Join(s.root, sf.StoragePath))
	if err != nil {
		return nil, errors.IOWrap(err, op, "failed to read blob")
	}
	if sf.IsCompressed {
		if data, err = decompress(data); err != nil {
			return nil, err
		}
	}
	if sf.IsDelta {
		if base == nil {
			return nil, errors.Precondition(op, "delta blob requires base content")
		}
		if data, err = decodeDelta(base, data); err != nil {
			return nil, err
		}
	}
	if got := Checksum(data); got != sf.SHA256 {
		return nil, errors.Integrity(op, "checksum mismatch").
			WithDetail("path", sf.Path).
			WithDetail("expected", sf.SHA256).
			WithDetail("got", got)
	}
	return data, nil
}

// DeleteVersion removes one version folder from disk.
func (s *Store) DeleteVersion(projectID, versionID string) error {
	dir := filepath.Join(s.root, "versions", projectID, versionID)
	if err := os.RemoveAll(dir); err != nil {
		return errors.IOWrap(err, "store.DeleteVersion", "failed to remove version directory")
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterOptions(&buf, brotli.WriterOptions{Quality: compressionQuality})
	if _, err := w.Write(data); err != nil {
		return nil, errors.IOWrap(err, "store.compress", "compression failed")
	}
	if err := w.Close(); err != nil {
		return nil, errors.IOWrap(err, "store.compress", "compression failed")
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, errors.IOWrap(err, "store.decompress", "decompression failed")
	}
	return out, nil
}

// sanitizePath normalises a caller-supplied relative path and rejects
// anything that would escape the version folder.
func sanitizePath(path string) (string, error) {
	const op = "store.sanitizePath"

	if path == "" {
		return "", errors.Validation(op, "path is required")
	}
	cleaned := filepath.ToSlash(filepath.Clean(path))
	if strings.HasPrefix(cleaned, "/") || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.Validation(op, "path must be relative to the version folder").
			WithDetail("path", path)
	}
	return filepath.FromSlash(cleaned), nil
}
