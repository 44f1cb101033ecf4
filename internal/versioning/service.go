package versioning

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/pandaura/pandaura/internal/diff"
	"github.com/pandaura/pandaura/internal/errors"
	"github.com/pandaura/pandaura/internal/store"
)

// defaultApprovalsRequired applies when the caller does not override.
const defaultApprovalsRequired = 3

// diffPreviewLines caps the stored per-file diff preview.
const diffPreviewLines = 50

// Service owns version-chain operations on top of a Repository and the
// blob store.
type Service struct {
	repo   Repository
	blobs  *store.Store
	logger *log.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides entity id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// NewService wires a version service.
func NewService(repo Repository, blobs *store.Store, logger *log.Logger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		blobs:  blobs,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FileInput is one file supplied to CreateVersion. Caller order is
// preserved and is visible in the aggregate checksum.
type FileInput struct {
	Path     string
	Content  string
	FileType string
}

// CreateVersionParams collects the CreateVersion arguments.
type CreateVersionParams struct {
	ProjectID string
	BranchID  string
	Author    string
	Message   string
	Files     []FileInput
	// Label overrides the auto-generated semver label.
	Label string
	// ApprovalsRequired overrides the default of 3 when positive.
	ApprovalsRequired int
}

// CreateVersion captures an immutable version: stores every file (as a
// delta against the parent where profitable), computes the aggregate
// checksum, links the parent, and classifies per-file changes.
func (s *Service) CreateVersion(p CreateVersionParams) (*Version, error) {
	const op = "versioning.CreateVersion"

	if p.ProjectID == "" || p.BranchID == "" {
		return nil, errors.Validation(op, "projectId and branchId are required")
	}
	if p.Author == "" {
		return nil, errors.Validation(op, "author is required")
	}
	if len(p.Files) == 0 {
		return nil, errors.Validation(op, "a version requires at least one file")
	}

	parent, err := s.repo.LatestVersion(p.ProjectID, p.BranchID)
	if err != nil && !errors.IsKind(err, errors.KindNotFound) {
		return nil, err
	}

	label := p.Label
	if label == "" {
		if label, err = nextLabel(parent); err != nil {
			return nil, err
		}
	}

	parentFiles := map[string]string{}
	if parent != nil {
		if parentFiles, err = s.materialize(parent); err != nil {
			return nil, err
		}
	}

	versionID := s.newID()
	now := s.now()

	var (
		files          []VersionFile
		checksum       bytes.Buffer
		originalSize   int64
		compressedSize int64
		seen           = make(map[string]bool, len(p.Files))
	)
	for _, in := range p.Files {
		if seen[in.Path] {
			return nil, errors.Validation(op, "duplicate file path").WithDetail("path", in.Path)
		}
		seen[in.Path] = true
		checksum.WriteString(in.Path)
		checksum.WriteString(in.Content)

		base, hasBase := parentFiles[in.Path]
		var baseBytes []byte
		if hasBase {
			baseBytes = []byte(base)
		}
		sf, err := s.blobs.Save(p.ProjectID, versionID, in.Path, []byte(in.Content), baseBytes, hasBase)
		if err != nil {
			return nil, err
		}
		originalSize += sf.OriginalSize
		compressedSize += sf.StoredSize

		vf := VersionFile{
			ID:           s.newID(),
			VersionID:    versionID,
			Path:         in.Path,
			FileType:     in.FileType,
			Size:         sf.OriginalSize,
			SHA256:       sf.SHA256,
			StoragePath:  sf.StoragePath,
			IsCompressed: sf.IsCompressed,
			IsDelta:      sf.IsDelta,
		}
		switch {
		case !hasBase:
			vf.ChangeType = ChangeAdded
			vf.LinesAdded = len(diff.SplitLines(in.Content))
		case base != in.Content:
			vf.ChangeType = ChangeModified
			summary := diff.Summarize(diff.SplitLines(base), diff.SplitLines(in.Content))
			vf.LinesAdded = summary.LinesAdded
			vf.LinesDeleted = summary.LinesDeleted
			vf.DiffPreview = truncateLines(diff.Unified(base, in.Content, diff.DefaultOptions()), diffPreviewLines)
		default:
			vf.ChangeType = ChangeUnchanged
		}
		files = append(files, vf)
	}

	// Parent files missing from this capture are recorded as deletions.
	for path, content := range parentFiles {
		if seen[path] {
			continue
		}
		files = append(files, VersionFile{
			ID:           s.newID(),
			VersionID:    versionID,
			Path:         path,
			ChangeType:   ChangeDeleted,
			LinesDeleted: len(diff.SplitLines(content)),
			SHA256:       store.Checksum([]byte(content)),
		})
	}

	approvalsRequired := p.ApprovalsRequired
	if approvalsRequired <= 0 {
		approvalsRequired = defaultApprovalsRequired
	}

	v := &Version{
		ID:              versionID,
		ProjectID:       p.ProjectID,
		BranchID:        p.BranchID,
		Label:           label,
		Author:          p.Author,
		Message:         p.Message,
		Status:          StatusDraft,
		Checksum:        store.Checksum(checksum.Bytes()),
		ApprovalsNeeded: approvalsRequired,
		OriginalSize:    originalSize,
		CompressedSize:  compressedSize,
		CreatedAt:       now,
	}
	if parent != nil {
		v.ParentVersionID = parent.ID
	}

	if err := s.repo.InsertVersion(v, files); err != nil {
		return nil, err
	}
	if err := s.appendChangelog(versionID, "created", p.Author, p.Message); err != nil {
		return nil, err
	}
	s.logger.Info("version created",
		"project", p.ProjectID,
		"label", label,
		"files", len(files),
		"parent", v.ParentVersionID)
	return v, nil
}

// nextLabel bumps the parent's patch component, or starts at v1.0.0.
func nextLabel(parent *Version) (string, error) {
	if parent == nil {
		return "v1.0.0", nil
	}
	sv, err := semver.NewVersion(strings.TrimPrefix(parent.Label, "v"))
	if err != nil {
		return "", errors.ValidationWrap(err, "versioning.nextLabel", "parent has an unparseable label").
			WithDetail("label", parent.Label)
	}
	next := sv.IncPatch()
	return "v" + next.String(), nil
}

// GetVersion returns one version.
func (s *Service) GetVersion(id string) (*Version, error) {
	return s.repo.GetVersion(id)
}

// ListVersions returns a project's versions.
func (s *Service) ListVersions(projectID string) ([]*Version, error) {
	return s.repo.ListVersions(projectID)
}

// VersionFiles returns a version's file records.
func (s *Service) VersionFiles(versionID string) ([]VersionFile, error) {
	return s.repo.VersionFiles(versionID)
}

// Changelog returns a version's audit trail.
func (s *Service) Changelog(versionID string) ([]*ChangelogEntry, error) {
	return s.repo.Changelog(versionID)
}

// UpdateStatus moves a version along draft -> staged -> released ->
// deprecated. Any other transition is rejected.
func (s *Service) UpdateStatus(versionID string, next Status, actor string) (*Version, error) {
	const op = "versioning.UpdateStatus"

	v, err := s.repo.GetVersion(versionID)
	if err != nil {
		return nil, err
	}
	if validTransitions[v.Status] != next {
		return nil, errors.Conflict(op, "forbidden status transition").
			WithDetail("from", string(v.Status)).
			WithDetail("to", string(next))
	}
	v.Status = next
	if err := s.repo.UpdateVersion(v); err != nil {
		return nil, err
	}
	if err := s.appendChangelog(versionID, "status_"+string(next), actor, ""); err != nil {
		return nil, err
	}
	return v, nil
}

// Sign computes and stores the version signature. Re-signing by the same
// identity is a no-op; a different identity replaces signer and timestamp.
func (s *Service) Sign(versionID, signedBy string) (*Version, error) {
	const op = "versioning.Sign"

	if signedBy == "" {
		return nil, errors.Validation(op, "signer identity is required")
	}
	v, err := s.repo.GetVersion(versionID)
	if err != nil {
		return nil, err
	}
	if v.Signed && v.SignedBy == signedBy {
		return v, nil
	}

	now := s.now()
	v.Signature = store.Checksum([]byte(v.ID + v.Checksum + signedBy + now.UTC().Format(time.RFC3339)))
	v.Signed = true
	v.SignedBy = signedBy
	v.SignedAt = now
	if err := s.repo.UpdateVersion(v); err != nil {
		return nil, err
	}
	if err := s.appendChangelog(versionID, "signed", signedBy, ""); err != nil {
		return nil, err
	}
	return v, nil
}

// Approve appends one approval. Duplicate approvers are rejected.
func (s *Service) Approve(versionID, approver string) (*Version, error) {
	const op = "versioning.Approve"

	if approver == "" {
		return nil, errors.Validation(op, "approver is required")
	}
	v, err := s.repo.GetVersion(versionID)
	if err != nil {
		return nil, err
	}
	for _, a := range v.Approvers {
		if a.Name == approver {
			return nil, errors.Conflict(op, "approver has already approved this version").
				WithDetail("approver", approver)
		}
	}
	v.Approvers = append(v.Approvers, Approver{Name: approver, Timestamp: s.now()})
	v.Approvals = len(v.Approvers)
	if err := s.repo.UpdateVersion(v); err != nil {
		return nil, err
	}
	if err := s.appendChangelog(versionID, "approved", approver, ""); err != nil {
		return nil, err
	}
	return v, nil
}

// Compare materialises two versions and diffs their file sets.
func (s *Service) Compare(versionID1, versionID2 string) (*diff.CompareResult, error) {
	v1, err := s.repo.GetVersion(versionID1)
	if err != nil {
		return nil, err
	}
	v2, err := s.repo.GetVersion(versionID2)
	if err != nil {
		return nil, err
	}
	oldFiles, err := s.materialize(v1)
	if err != nil {
		return nil, err
	}
	newFiles, err := s.materialize(v2)
	if err != nil {
		return nil, err
	}
	result := diff.CompareFiles(oldFiles, newFiles, diff.DefaultOptions())
	return &result, nil
}

// MaterializeVersion reconstitutes every live file of a version.
func (s *Service) MaterializeVersion(versionID string) (map[string]string, error) {
	v, err := s.repo.GetVersion(versionID)
	if err != nil {
		return nil, err
	}
	return s.materialize(v)
}

// materialize resolves a version's file contents, following the parent
// chain for delta bases.
func (s *Service) materialize(v *Version) (map[string]string, error) {
	files, err := s.repo.VersionFiles(v.ID)
	if err != nil {
		return nil, err
	}

	needsParent := false
	for _, vf := range files {
		if vf.IsDelta {
			needsParent = true
			break
		}
	}
	parentFiles := map[string]string{}
	if needsParent && v.ParentVersionID != "" {
		parent, err := s.repo.GetVersion(v.ParentVersionID)
		if err != nil {
			return nil, err
		}
		if parentFiles, err = s.materialize(parent); err != nil {
			return nil, err
		}
	}

	out := make(map[string]string, len(files))
	for _, vf := range files {
		if vf.ChangeType == ChangeDeleted {
			continue
		}
		var base []byte
		if content, ok := parentFiles[vf.Path]; ok {
			base = []byte(content)
		}
		data, err := s.blobs.Load(store.StoredFile{
			Path:         vf.Path,
			SHA256:       vf.SHA256,
			OriginalSize: vf.Size,
			StoragePath:  vf.StoragePath,
			IsCompressed: vf.IsCompressed,
			IsDelta:      vf.IsDelta,
		}, base)
		if err != nil {
			return nil, err
		}
		out[vf.Path] = string(data)
	}
	return out, nil
}

func (s *Service) appendChangelog(versionID, action, actor, details string) error {
	return s.repo.AppendChangelog(&ChangelogEntry{
		ID:        s.newID(),
		VersionID: versionID,
		Action:    action,
		Actor:     actor,
		Details:   details,
		CreatedAt: s.now(),
	})
}

func truncateLines(text string, max int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= max {
		return text
	}
	return strings.Join(lines[:max], "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-max)
}
