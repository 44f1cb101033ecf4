package versioning

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pandaura/pandaura/internal/errors"
	"github.com/pandaura/pandaura/internal/store"
)

// CreateReleaseParams collects the CreateRelease arguments.
type CreateReleaseParams struct {
	ProjectID   string
	SnapshotID  string
	VersionID   string
	Name        string
	Environment string
	CreatedBy   string
}

// CreateRelease packs the version's files into a signed bundle and records
// the release as active. The referenced version must be staged or released;
// a staged version is transitioned to released on success.
func (s *Service) CreateRelease(p CreateReleaseParams) (*Release, error) {
	const op = "versioning.CreateRelease"

	version, err := s.repo.GetVersion(p.VersionID)
	if err != nil {
		return nil, err
	}
	if version.Status != StatusStaged && version.Status != StatusReleased {
		return nil, errors.Precondition(op, "release requires a staged or released version").
			WithDetail("status", string(version.Status)).
			WithHint("stage the version first")
	}
	if p.Environment == "" {
		return nil, errors.Validation(op, "environment is required")
	}

	contents, err := s.materialize(version)
	if err != nil {
		return nil, err
	}
	files := make(map[string][]byte, len(contents))
	for path, content := range contents {
		files[path] = []byte(content)
	}

	id := s.newID()
	now := s.now()
	data, bundleChecksum, err := s.blobs.PackBundle(p.ProjectID, p.VersionID, id, files, now)
	if err != nil {
		return nil, err
	}

	bundlePath := filepath.Join(s.blobs.Root(), "releases", id+".bundle")
	if err := os.MkdirAll(filepath.Dir(bundlePath), 0o755); err != nil {
		return nil, errors.IOWrap(err, op, "failed to create bundle directory")
	}
	if err := os.WriteFile(bundlePath, data, 0o644); err != nil {
		return nil, errors.IOWrap(err, op, "failed to write bundle")
	}

	name := p.Name
	if name == "" {
		name = version.Label + "-" + p.Environment
	}

	release := &Release{
		ID:             id,
		ProjectID:      p.ProjectID,
		SnapshotID:     p.SnapshotID,
		VersionID:      p.VersionID,
		Name:           name,
		VersionLabel:   version.Label,
		Environment:    p.Environment,
		BundlePath:     bundlePath,
		BundleSize:     int64(len(data)),
		BundleChecksum: bundleChecksum,
		Signed:         true,
		Signature:      store.Checksum([]byte(id + bundleChecksum + p.CreatedBy + now.UTC().Format(time.RFC3339))),
		SignedBy:       p.CreatedBy,
		Status:         ReleaseActive,
		CreatedBy:      p.CreatedBy,
		CreatedAt:      now,
	}
	if err := s.repo.InsertRelease(release); err != nil {
		return nil, err
	}
	if err := s.appendChangelog(p.VersionID, "release_created", p.CreatedBy, name); err != nil {
		return nil, err
	}
	if version.Status == StatusStaged {
		if _, err := s.UpdateStatus(version.ID, StatusReleased, p.CreatedBy); err != nil {
			return nil, err
		}
	}

	s.logger.Info("release created",
		"project", p.ProjectID,
		"release", name,
		"environment", p.Environment,
		"bundleSize", release.BundleSize)
	return release, nil
}

// GetRelease returns one release.
func (s *Service) GetRelease(id string) (*Release, error) {
	return s.repo.GetRelease(id)
}

// ListReleases returns a project's releases.
func (s *Service) ListReleases(projectID string) ([]*Release, error) {
	return s.repo.ListReleases(projectID)
}

// PromoteRelease records an environment promotion on the release and bumps
// its deploy linkage. It does not create a deployment.
func (s *Service) PromoteRelease(releaseID, environment, promotedBy string) (*Release, error) {
	const op = "versioning.PromoteRelease"

	if environment == "" {
		return nil, errors.Validation(op, "environment is required")
	}
	release, err := s.repo.GetRelease(releaseID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	release.Promotions = append(release.Promotions, ReleasePromotion{
		Environment: environment,
		PromotedBy:  promotedBy,
		PromotedAt:  now,
	})
	release.LinkedDeploys++
	release.LastDeployedAt = now
	if err := s.repo.UpdateRelease(release); err != nil {
		return nil, err
	}
	return release, nil
}

// SignRelease re-signs a release under a new identity.
func (s *Service) SignRelease(releaseID, signedBy string) (*Release, error) {
	const op = "versioning.SignRelease"

	if signedBy == "" {
		return nil, errors.Validation(op, "signer identity is required")
	}
	release, err := s.repo.GetRelease(releaseID)
	if err != nil {
		return nil, err
	}
	if release.Signed && release.SignedBy == signedBy {
		return release, nil
	}

	now := s.now()
	release.Signature = store.Checksum([]byte(release.ID + release.BundleChecksum + signedBy + now.UTC().Format(time.RFC3339)))
	release.Signed = true
	release.SignedBy = signedBy
	if err := s.repo.UpdateRelease(release); err != nil {
		return nil, err
	}
	return release, nil
}

// LoadBundle reads a release's bundle bytes and verifies the checksum.
func (s *Service) LoadBundle(releaseID string) ([]byte, *Release, error) {
	const op = "versioning.LoadBundle"

	release, err := s.repo.GetRelease(releaseID)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(release.BundlePath)
	if err != nil {
		return nil, nil, errors.IOWrap(err, op, "failed to read bundle")
	}
	if store.Checksum(data) != release.BundleChecksum {
		return nil, nil, errors.Integrity(op, "bundle checksum mismatch").
			WithDetail("release", releaseID)
	}
	return data, release, nil
}
