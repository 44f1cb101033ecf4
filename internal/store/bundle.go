package store

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pandaura/pandaura/internal/errors"
)

// bundleFormatVersion tags the bundle document layout.
const bundleFormatVersion = "1.0"

// BundleFile is one file inside a release bundle.
type BundleFile struct {
	Path    string `json:"path"`
	Content string `json:"content"` // base64
	Size    int64  `json:"size"`
}

// Bundle is the release bundle document. On disk it is stored as
// Brotli-compressed JSON.
type Bundle struct {
	Version   string       `json:"version"`
	ProjectID string       `json:"projectId"`
	VersionID string       `json:"versionId"`
	ReleaseID string       `json:"releaseId"`
	CreatedAt string       `json:"createdAt"`
	Files     []BundleFile `json:"files"`
}

// PackBundle builds a release bundle from a path-keyed file set and returns
// the compressed document plus its checksum. Files are packed in path order
// so identical inputs produce identical bundles.
func (s *Store) PackBundle(projectID, versionID, releaseID string, files map[string][]byte, createdAt time.Time) ([]byte, string, error) {
	const op = "store.PackBundle"

	if len(files) == 0 {
		return nil, "", errors.Validation(op, "bundle requires at least one file")
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	bundle := Bundle{
		Version:   bundleFormatVersion,
		ProjectID: projectID,
		VersionID: versionID,
		ReleaseID: releaseID,
		CreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
	for _, p := range paths {
		content := files[p]
		bundle.Files = append(bundle.Files, BundleFile{
			Path:    p,
			Content: base64.StdEncoding.EncodeToString(content),
			Size:    int64(len(content)),
		})
	}

	doc, err := json.Marshal(bundle)
	if err != nil {
		return nil, "", errors.InternalWrap(err, op, "failed to marshal bundle")
	}
	compressed, err := compress(doc)
	if err != nil {
		return nil, "", err
	}
	return compressed, Checksum(compressed), nil
}

// ExtractBundle validates a bundle document and reproduces its files under
// destRoot. The parsed bundle is returned for metadata inspection.
func (s *Store) ExtractBundle(data []byte, destRoot string) (*Bundle, error) {
	const op = "store.ExtractBundle"

	doc, err := decompress(data)
	if err != nil {
		return nil, err
	}
	var bundle Bundle
	if err := json.Unmarshal(doc, &bundle); err != nil {
		return nil, errors.ValidationWrap(err, op, "invalid bundle document")
	}
	if bundle.Version != bundleFormatVersion {
		return nil, errors.Validation(op, "unsupported bundle version").WithDetail("version", bundle.Version)
	}
	if bundle.ProjectID == "" || bundle.VersionID == "" {
		return nil, errors.Validation(op, "bundle is missing project or version identity")
	}

	for _, f := range bundle.Files {
		rel, err := sanitizePath(f.Path)
		if err != nil {
			return nil, err
		}
		content, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			return nil, errors.ValidationWrap(err, op, "invalid file encoding").WithDetail("path", f.Path)
		}
		if int64(len(content)) != f.Size {
			return nil, errors.Validation(op, "file size does not match content").WithDetail("path", f.Path)
		}

		full := filepath.Join(destRoot, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, errors.IOWrap(err, op, "failed to create destination directory")
		}
		if err := os.WriteFile(full, content, 0o644); err != nil {
			return nil, errors.IOWrap(err, op, "failed to write extracted file")
		}
	}
	return &bundle, nil
}
