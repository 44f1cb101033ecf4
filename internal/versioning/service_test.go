package versioning

import (
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandaura/pandaura/internal/errors"
	"github.com/pandaura/pandaura/internal/store"
)

// memRepo is an in-memory Repository for service tests.
type memRepo struct {
	versions   map[string]*Version
	order      []string
	files      map[string][]VersionFile
	snapshots  map[string]*Snapshot
	promotions map[string][]*Promotion
	releases   map[string]*Release
	changelog  map[string][]*ChangelogEntry
}

func newMemRepo() *memRepo {
	return &memRepo{
		versions:   make(map[string]*Version),
		files:      make(map[string][]VersionFile),
		snapshots:  make(map[string]*Snapshot),
		promotions: make(map[string][]*Promotion),
		releases:   make(map[string]*Release),
		changelog:  make(map[string][]*ChangelogEntry),
	}
}

func (r *memRepo) InsertVersion(v *Version, files []VersionFile) error {
	r.versions[v.ID] = v
	r.order = append(r.order, v.ID)
	r.files[v.ID] = files
	return nil
}

func (r *memRepo) GetVersion(id string) (*Version, error) {
	v, ok := r.versions[id]
	if !ok {
		return nil, errors.NotFoundf("memrepo.GetVersion", "version %s", id)
	}
	return v, nil
}

func (r *memRepo) LatestVersion(projectID, branchID string) (*Version, error) {
	for i := len(r.order) - 1; i >= 0; i-- {
		v := r.versions[r.order[i]]
		if v.ProjectID == projectID && v.BranchID == branchID {
			return v, nil
		}
	}
	return nil, errors.NotFound("memrepo.LatestVersion", "no versions on branch")
}

func (r *memRepo) ListVersions(projectID string) ([]*Version, error) {
	var out []*Version
	for _, id := range r.order {
		if r.versions[id].ProjectID == projectID {
			out = append(out, r.versions[id])
		}
	}
	return out, nil
}

func (r *memRepo) UpdateVersion(v *Version) error {
	if _, ok := r.versions[v.ID]; !ok {
		return errors.NotFound("memrepo.UpdateVersion", "version not found")
	}
	r.versions[v.ID] = v
	return nil
}

func (r *memRepo) VersionFiles(versionID string) ([]VersionFile, error) {
	return r.files[versionID], nil
}

func (r *memRepo) InsertSnapshot(s *Snapshot) error {
	r.snapshots[s.ID] = s
	return nil
}

func (r *memRepo) GetSnapshot(id string) (*Snapshot, error) {
	s, ok := r.snapshots[id]
	if !ok {
		return nil, errors.NotFoundf("memrepo.GetSnapshot", "snapshot %s", id)
	}
	return s, nil
}

func (r *memRepo) SnapshotByName(projectID, name string) (*Snapshot, error) {
	for _, s := range r.snapshots {
		if s.ProjectID == projectID && s.Name == name {
			return s, nil
		}
	}
	return nil, errors.NotFound("memrepo.SnapshotByName", "snapshot not found")
}

func (r *memRepo) ListSnapshots(projectID string) ([]*Snapshot, error) {
	var out []*Snapshot
	for _, s := range r.snapshots {
		if s.ProjectID == projectID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRepo) InsertPromotion(p *Promotion) error {
	r.promotions[p.SnapshotID] = append(r.promotions[p.SnapshotID], p)
	return nil
}

func (r *memRepo) Promotions(snapshotID string) ([]*Promotion, error) {
	return r.promotions[snapshotID], nil
}

func (r *memRepo) InsertRelease(rel *Release) error {
	r.releases[rel.ID] = rel
	return nil
}

func (r *memRepo) GetRelease(id string) (*Release, error) {
	rel, ok := r.releases[id]
	if !ok {
		return nil, errors.NotFoundf("memrepo.GetRelease", "release %s", id)
	}
	return rel, nil
}

func (r *memRepo) ListReleases(projectID string) ([]*Release, error) {
	var out []*Release
	for _, rel := range r.releases {
		if rel.ProjectID == projectID {
			out = append(out, rel)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateRelease(rel *Release) error {
	r.releases[rel.ID] = rel
	return nil
}

func (r *memRepo) AppendChangelog(e *ChangelogEntry) error {
	r.changelog[e.VersionID] = append(r.changelog[e.VersionID], e)
	return nil
}

func (r *memRepo) Changelog(versionID string) ([]*ChangelogEntry, error) {
	return r.changelog[versionID], nil
}

func newTestService(t *testing.T) (*Service, *memRepo) {
	t.Helper()
	blobs, err := store.New(t.TempDir(), log.New(io.Discard))
	require.NoError(t, err)

	repo := newMemRepo()
	counter := 0
	svc := NewService(repo, blobs, log.New(io.Discard),
		WithClock(func() time.Time { return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string {
			counter++
			return fmt.Sprintf("id-%03d", counter)
		}),
	)
	return svc, repo
}

func createVersion(t *testing.T, svc *Service, files []FileInput) *Version {
	t.Helper()
	v, err := svc.CreateVersion(CreateVersionParams{
		ProjectID: "proj",
		BranchID:  "main",
		Author:    "dana",
		Message:   "checkpoint",
		Files:     files,
	})
	require.NoError(t, err)
	return v
}

func TestCreateVersion_First(t *testing.T) {
	svc, _ := newTestService(t)

	v := createVersion(t, svc, []FileInput{
		{Path: "main.st", Content: "Motor_Run := TRUE;\n", FileType: "logic"},
	})

	assert.Equal(t, "v1.0.0", v.Label)
	assert.Equal(t, StatusDraft, v.Status)
	assert.Empty(t, v.ParentVersionID)
	assert.Equal(t, 3, v.ApprovalsNeeded)
	assert.Equal(t, store.Checksum([]byte("main.st"+"Motor_Run := TRUE;\n")), v.Checksum)

	files, err := svc.VersionFiles(v.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, ChangeAdded, files[0].ChangeType)
	assert.Equal(t, 1, files[0].LinesAdded)

	entries, err := svc.Changelog(v.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "created", entries[0].Action)
}

func TestCreateVersion_Validation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateVersion(CreateVersionParams{ProjectID: "p", BranchID: "b", Author: "a"})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	_, err = svc.CreateVersion(CreateVersionParams{
		ProjectID: "p", BranchID: "b",
		Files: []FileInput{{Path: "f", Content: "x"}},
	})
	require.Error(t, err, "author is required")

	_, err = svc.CreateVersion(CreateVersionParams{
		ProjectID: "p", BranchID: "b", Author: "a",
		Files: []FileInput{{Path: "f", Content: "x"}, {Path: "f", Content: "y"}},
	})
	require.Error(t, err, "duplicate paths are rejected")
}

func TestCreateVersion_ChainAndChangeTypes(t *testing.T) {
	svc, _ := newTestService(t)

	big := strings.Repeat("Heater_Output := 50; // keep warm\n", 100)
	v1 := createVersion(t, svc, []FileInput{
		{Path: "main.st", Content: big, FileType: "logic"},
		{Path: "pump.st", Content: "Pump_Run := TRUE;\n", FileType: "logic"},
	})

	changed := strings.Replace(big, "50", "60", 1)
	v2 := createVersion(t, svc, []FileInput{
		{Path: "main.st", Content: changed, FileType: "logic"},
		{Path: "valve.st", Content: "Valve_Open := FALSE;\n", FileType: "logic"},
	})

	assert.Equal(t, "v1.0.1", v2.Label)
	assert.Equal(t, v1.ID, v2.ParentVersionID)

	files, err := svc.VersionFiles(v2.ID)
	require.NoError(t, err)
	byPath := map[string]VersionFile{}
	for _, f := range files {
		byPath[f.Path] = f
	}

	main := byPath["main.st"]
	assert.Equal(t, ChangeModified, main.ChangeType)
	assert.Equal(t, 1, main.LinesAdded)
	assert.Equal(t, 1, main.LinesDeleted)
	assert.True(t, main.IsDelta, "one-line change in a large file stores as delta")
	assert.Contains(t, main.DiffPreview, "+Heater_Output := 60;")

	assert.Equal(t, ChangeAdded, byPath["valve.st"].ChangeType)
	assert.Equal(t, ChangeDeleted, byPath["pump.st"].ChangeType)
	assert.Equal(t, 1, byPath["pump.st"].LinesDeleted)

	// Materialisation follows the delta chain back to the parent.
	contents, err := svc.MaterializeVersion(v2.ID)
	require.NoError(t, err)
	assert.Equal(t, changed, contents["main.st"])
	assert.NotContains(t, contents, "pump.st")
}

func TestCreateVersion_ExplicitLabelAndApprovals(t *testing.T) {
	svc, _ := newTestService(t)

	v, err := svc.CreateVersion(CreateVersionParams{
		ProjectID: "proj", BranchID: "main", Author: "dana",
		Files:             []FileInput{{Path: "a.st", Content: "x"}},
		Label:             "v2.5.0",
		ApprovalsRequired: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "v2.5.0", v.Label)
	assert.Equal(t, 1, v.ApprovalsNeeded)
}

func TestUpdateStatus_Transitions(t *testing.T) {
	svc, _ := newTestService(t)
	v := createVersion(t, svc, []FileInput{{Path: "a.st", Content: "x"}})

	_, err := svc.UpdateStatus(v.ID, StatusReleased, "dana")
	require.Error(t, err, "draft cannot jump to released")
	assert.True(t, errors.IsKind(err, errors.KindConflict))

	for _, next := range []Status{StatusStaged, StatusReleased, StatusDeprecated} {
		updated, err := svc.UpdateStatus(v.ID, next, "dana")
		require.NoError(t, err)
		assert.Equal(t, next, updated.Status)
	}

	_, err = svc.UpdateStatus(v.ID, StatusDraft, "dana")
	require.Error(t, err, "deprecated is terminal")
}

func TestSign(t *testing.T) {
	svc, _ := newTestService(t)
	v := createVersion(t, svc, []FileInput{{Path: "a.st", Content: "x"}})

	signed, err := svc.Sign(v.ID, "dana")
	require.NoError(t, err)
	assert.True(t, signed.Signed)
	assert.Equal(t, "dana", signed.SignedBy)
	first := signed.Signature
	assert.Len(t, first, 64)

	// Same signer is idempotent.
	again, err := svc.Sign(v.ID, "dana")
	require.NoError(t, err)
	assert.Equal(t, first, again.Signature)

	// A different signer replaces the signature.
	other, err := svc.Sign(v.ID, "sam")
	require.NoError(t, err)
	assert.Equal(t, "sam", other.SignedBy)
	assert.NotEqual(t, first, other.Signature)
}

func TestApprove(t *testing.T) {
	svc, _ := newTestService(t)
	v := createVersion(t, svc, []FileInput{{Path: "a.st", Content: "x"}})

	_, err := svc.Approve(v.ID, "dana")
	require.NoError(t, err)
	approved, err := svc.Approve(v.ID, "sam")
	require.NoError(t, err)
	assert.Equal(t, 2, approved.Approvals)

	_, err = svc.Approve(v.ID, "dana")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestCompare(t *testing.T) {
	svc, _ := newTestService(t)
	v1 := createVersion(t, svc, []FileInput{{Path: "main.st", Content: "a\nb\nc\n"}})
	v2 := createVersion(t, svc, []FileInput{{Path: "main.st", Content: "a\nB\nc\n"}})

	result, err := svc.Compare(v1.ID, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesModified)
	assert.Equal(t, 1, result.TotalLinesAdded)
	assert.Equal(t, 1, result.TotalLinesDeleted)
}

func TestSnapshot_CreateAndUniqueness(t *testing.T) {
	svc, _ := newTestService(t)
	v := createVersion(t, svc, []FileInput{{Path: "a.st", Content: "x"}})

	snap, err := svc.CreateSnapshot(CreateSnapshotParams{
		ProjectID: "proj", VersionID: v.ID, Name: "pre-commissioning", CreatedBy: "dana",
	})
	require.NoError(t, err)
	assert.Equal(t, v.ID, snap.VersionID)

	_, err = svc.CreateSnapshot(CreateSnapshotParams{
		ProjectID: "proj", VersionID: v.ID, Name: "pre-commissioning", CreatedBy: "sam",
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConflict))

	_, err = svc.CreateSnapshot(CreateSnapshotParams{
		ProjectID: "proj", VersionID: "missing", Name: "other", CreatedBy: "dana",
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestPromote_StageOrdering(t *testing.T) {
	svc, _ := newTestService(t)
	v := createVersion(t, svc, []FileInput{{Path: "a.st", Content: "x"}})
	_, err := svc.UpdateStatus(v.ID, StatusStaged, "dana")
	require.NoError(t, err)
	snap, err := svc.CreateSnapshot(CreateSnapshotParams{
		ProjectID: "proj", VersionID: v.ID, Name: "s1", CreatedBy: "dana",
	})
	require.NoError(t, err)

	// Skipping qa is rejected.
	_, _, err = svc.Promote(snap.ID, StageStaging, "dana", "")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPrecondition))

	promo, release, err := svc.Promote(snap.ID, StageQA, "dana", "smoke passed")
	require.NoError(t, err)
	assert.Equal(t, StageDev, promo.FromStage)
	assert.Nil(t, release, "qa promotion does not mint a release")

	// Backwards movement is rejected.
	_, _, err = svc.Promote(snap.ID, StageQA, "dana", "")
	require.Error(t, err)

	promo, release, err = svc.Promote(snap.ID, StageStaging, "dana", "")
	require.NoError(t, err)
	assert.Equal(t, StageQA, promo.FromStage)
	require.NotNil(t, release, "staging promotion mints a release")
	assert.Equal(t, "staging", release.Environment)
	assert.True(t, release.Signed)

	_, release, err = svc.Promote(snap.ID, StageProd, "dana", "")
	require.NoError(t, err)
	require.NotNil(t, release)
	assert.Equal(t, "prod", release.Environment)

	history, err := svc.SnapshotPromotions(snap.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestPromote_DraftVersionLeavesNoPartialState(t *testing.T) {
	svc, _ := newTestService(t)
	v := createVersion(t, svc, []FileInput{{Path: "a.st", Content: "x"}})
	snap, err := svc.CreateSnapshot(CreateSnapshotParams{
		ProjectID: "proj", VersionID: v.ID, Name: "s1", CreatedBy: "dana",
	})
	require.NoError(t, err)

	_, _, err = svc.Promote(snap.ID, StageQA, "dana", "")
	require.NoError(t, err)

	// The version is still draft, so the staging promotion is refused
	// before any promotion row is written.
	_, _, err = svc.Promote(snap.ID, StageStaging, "dana", "")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPrecondition))

	history, err := svc.SnapshotPromotions(snap.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StageQA, history[0].ToStage)

	// Staging the version unblocks the identical retry.
	_, err = svc.UpdateStatus(v.ID, StatusStaged, "dana")
	require.NoError(t, err)
	promo, release, err := svc.Promote(snap.ID, StageStaging, "dana", "")
	require.NoError(t, err)
	assert.Equal(t, StageQA, promo.FromStage)
	require.NotNil(t, release, "staging promotion mints a release")
}

func TestCreateRelease(t *testing.T) {
	svc, _ := newTestService(t)
	v := createVersion(t, svc, []FileInput{{Path: "main.st", Content: "Motor_Run := TRUE;\n"}})

	// A draft version cannot be released.
	_, err := svc.CreateRelease(CreateReleaseParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "staging", CreatedBy: "dana",
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPrecondition))

	_, err = svc.UpdateStatus(v.ID, StatusStaged, "dana")
	require.NoError(t, err)

	release, err := svc.CreateRelease(CreateReleaseParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "staging", CreatedBy: "dana",
	})
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0-staging", release.Name)
	assert.Equal(t, ReleaseActive, release.Status)
	assert.True(t, release.Signed)
	assert.FileExists(t, release.BundlePath)

	// The underlying version moved to released.
	updated, err := svc.GetVersion(v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, updated.Status)

	// Bundle round trip with checksum verification.
	data, _, err := svc.LoadBundle(release.ID)
	require.NoError(t, err)
	assert.Equal(t, release.BundleChecksum, store.Checksum(data))

	// Corrupting the bundle is caught.
	require.NoError(t, os.WriteFile(release.BundlePath, []byte("garbage"), 0o644))
	_, _, err = svc.LoadBundle(release.ID)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindIntegrity))
}

func TestPromoteRelease(t *testing.T) {
	svc, _ := newTestService(t)
	v := createVersion(t, svc, []FileInput{{Path: "a.st", Content: "x"}})
	_, err := svc.UpdateStatus(v.ID, StatusStaged, "dana")
	require.NoError(t, err)
	release, err := svc.CreateRelease(CreateReleaseParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "staging", CreatedBy: "dana",
	})
	require.NoError(t, err)

	promoted, err := svc.PromoteRelease(release.ID, "prod", "sam")
	require.NoError(t, err)
	assert.Equal(t, 1, promoted.LinkedDeploys)
	require.Len(t, promoted.Promotions, 1)
	assert.Equal(t, "prod", promoted.Promotions[0].Environment)
	assert.False(t, promoted.LastDeployedAt.IsZero())
}
