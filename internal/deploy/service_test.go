package deploy

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandaura/pandaura/internal/errors"
	"github.com/pandaura/pandaura/internal/store"
	"github.com/pandaura/pandaura/internal/versioning"
)

// memRepo is an in-memory deploy Repository.
type memRepo struct {
	deployments map[string]*Record
	order       []string
	approvals   map[string]*Approval
	checks      map[string][]Check
	logs        map[string][]*Log
	rollbacks   map[string][]*Rollback
}

func newMemRepo() *memRepo {
	return &memRepo{
		deployments: make(map[string]*Record),
		approvals:   make(map[string]*Approval),
		checks:      make(map[string][]Check),
		logs:        make(map[string][]*Log),
		rollbacks:   make(map[string][]*Rollback),
	}
}

func (r *memRepo) InsertDeployment(rec *Record) error {
	r.deployments[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	return nil
}

func (r *memRepo) GetDeployment(id string) (*Record, error) {
	rec, ok := r.deployments[id]
	if !ok {
		return nil, errors.NotFoundf("memrepo.GetDeployment", "deployment %s", id)
	}
	clone := *rec
	return &clone, nil
}

func (r *memRepo) UpdateDeployment(rec *Record) error {
	if _, ok := r.deployments[rec.ID]; !ok {
		return errors.NotFound("memrepo.UpdateDeployment", "deployment not found")
	}
	clone := *rec
	r.deployments[rec.ID] = &clone
	return nil
}

func (r *memRepo) ListDeployments(projectID string) ([]*Record, error) {
	var out []*Record
	for _, id := range r.order {
		if r.deployments[id].ProjectID == projectID {
			out = append(out, r.deployments[id])
		}
	}
	return out, nil
}

func (r *memRepo) LatestSuccessful(projectID, environment string) (*Record, error) {
	for i := len(r.order) - 1; i >= 0; i-- {
		rec := r.deployments[r.order[i]]
		if rec.ProjectID == projectID && rec.Environment == environment && rec.Status == StatusSuccess {
			return rec, nil
		}
	}
	return nil, errors.NotFound("memrepo.LatestSuccessful", "no successful deployment")
}

func (r *memRepo) InsertApproval(a *Approval) error {
	r.approvals[a.ID] = a
	return nil
}

func (r *memRepo) GetApproval(id string) (*Approval, error) {
	a, ok := r.approvals[id]
	if !ok {
		return nil, errors.NotFoundf("memrepo.GetApproval", "approval %s", id)
	}
	return a, nil
}

func (r *memRepo) UpdateApproval(a *Approval) error {
	r.approvals[a.ID] = a
	return nil
}

func (r *memRepo) Approvals(deployID string) ([]*Approval, error) {
	var out []*Approval
	for _, a := range r.approvals {
		if a.DeployID == deployID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) ReplaceChecks(deployID string, checks []Check) error {
	r.checks[deployID] = checks
	return nil
}

func (r *memRepo) Checks(deployID string) ([]Check, error) {
	return r.checks[deployID], nil
}

func (r *memRepo) AppendLog(l *Log) error {
	r.logs[l.DeployID] = append(r.logs[l.DeployID], l)
	return nil
}

func (r *memRepo) Logs(deployID string) ([]*Log, error) {
	return r.logs[deployID], nil
}

func (r *memRepo) InsertRollback(rb *Rollback) error {
	r.rollbacks[rb.DeployID] = append(r.rollbacks[rb.DeployID], rb)
	return nil
}

func (r *memRepo) UpdateRollback(rb *Rollback) error {
	for i, existing := range r.rollbacks[rb.DeployID] {
		if existing.ID == rb.ID {
			r.rollbacks[rb.DeployID][i] = rb
			return nil
		}
	}
	return errors.NotFound("memrepo.UpdateRollback", "rollback not found")
}

func (r *memRepo) Rollbacks(deployID string) ([]*Rollback, error) {
	return r.rollbacks[deployID], nil
}

// memVersionRepo is a minimal in-memory versioning.Repository.
type memVersionRepo struct {
	versions   map[string]*versioning.Version
	files      map[string][]versioning.VersionFile
	snapshots  map[string]*versioning.Snapshot
	promotions map[string][]*versioning.Promotion
}

func newMemVersionRepo() *memVersionRepo {
	return &memVersionRepo{
		versions:   make(map[string]*versioning.Version),
		files:      make(map[string][]versioning.VersionFile),
		snapshots:  make(map[string]*versioning.Snapshot),
		promotions: make(map[string][]*versioning.Promotion),
	}
}

func (r *memVersionRepo) InsertVersion(v *versioning.Version, files []versioning.VersionFile) error {
	r.versions[v.ID] = v
	r.files[v.ID] = files
	return nil
}

func (r *memVersionRepo) GetVersion(id string) (*versioning.Version, error) {
	v, ok := r.versions[id]
	if !ok {
		return nil, errors.NotFoundf("memversions.GetVersion", "version %s", id)
	}
	return v, nil
}

func (r *memVersionRepo) LatestVersion(string, string) (*versioning.Version, error) {
	return nil, errors.NotFound("memversions.LatestVersion", "none")
}

func (r *memVersionRepo) ListVersions(string) ([]*versioning.Version, error) { return nil, nil }

func (r *memVersionRepo) UpdateVersion(v *versioning.Version) error {
	r.versions[v.ID] = v
	return nil
}

func (r *memVersionRepo) VersionFiles(versionID string) ([]versioning.VersionFile, error) {
	return r.files[versionID], nil
}

func (r *memVersionRepo) InsertSnapshot(s *versioning.Snapshot) error {
	r.snapshots[s.ID] = s
	return nil
}

func (r *memVersionRepo) GetSnapshot(id string) (*versioning.Snapshot, error) {
	s, ok := r.snapshots[id]
	if !ok {
		return nil, errors.NotFoundf("memversions.GetSnapshot", "snapshot %s", id)
	}
	return s, nil
}

func (r *memVersionRepo) SnapshotByName(string, string) (*versioning.Snapshot, error) {
	return nil, errors.NotFound("memversions.SnapshotByName", "none")
}

func (r *memVersionRepo) ListSnapshots(string) ([]*versioning.Snapshot, error) { return nil, nil }

func (r *memVersionRepo) InsertPromotion(p *versioning.Promotion) error {
	r.promotions[p.SnapshotID] = append(r.promotions[p.SnapshotID], p)
	return nil
}

func (r *memVersionRepo) Promotions(snapshotID string) ([]*versioning.Promotion, error) {
	return r.promotions[snapshotID], nil
}

func (r *memVersionRepo) InsertRelease(*versioning.Release) error        { return nil }
func (r *memVersionRepo) GetRelease(string) (*versioning.Release, error) {
	return nil, errors.NotFound("memversions.GetRelease", "none")
}
func (r *memVersionRepo) ListReleases(string) ([]*versioning.Release, error) { return nil, nil }
func (r *memVersionRepo) UpdateRelease(*versioning.Release) error            { return nil }
func (r *memVersionRepo) AppendChangelog(*versioning.ChangelogEntry) error   { return nil }
func (r *memVersionRepo) Changelog(string) ([]*versioning.ChangelogEntry, error) {
	return nil, nil
}

const validLogic = `
VAR
	Motor_Run : BOOL := FALSE;
	Speed : INT := 0;
END_VAR
Motor_Run := TRUE;
Speed := Speed + 1;
`

type fixture struct {
	svc      *Service
	repo     *memRepo
	versions *versioning.Service
	vrepo    *memVersionRepo
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	blobs, err := store.New(t.TempDir(), log.New(io.Discard))
	require.NoError(t, err)

	vrepo := newMemVersionRepo()
	counter := 0
	gen := func() string {
		counter++
		return fmt.Sprintf("id-%03d", counter)
	}
	versions := versioning.NewService(vrepo, blobs, log.New(io.Discard),
		versioning.WithIDGenerator(gen))

	repo := newMemRepo()
	base := []Option{WithStepDelay(0), WithIDGenerator(gen)}
	svc := NewService(repo, versions, log.New(io.Discard), append(base, opts...)...)
	return &fixture{svc: svc, repo: repo, versions: versions, vrepo: vrepo}
}

func (f *fixture) createVersion(t *testing.T, content string) *versioning.Version {
	t.Helper()
	v, err := f.versions.CreateVersion(versioning.CreateVersionParams{
		ProjectID: "proj", BranchID: "main", Author: "dana",
		Files: []versioning.FileInput{{Path: "main.st", Content: content, FileType: "logic"}},
	})
	require.NoError(t, err)
	return v
}

func TestCreate_DevEnvironment(t *testing.T) {
	f := newFixture(t)
	v := f.createVersion(t, validLogic)

	rec, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "dev", InitiatedBy: "dana",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Zero(t, rec.ApprovalsRequired)
	assert.True(t, rec.ChecksPassed)
	assert.Empty(t, rec.PreviousVersionID)
	assert.NotEmpty(t, rec.EstimatedDowntime)

	approvals, err := f.svc.Approvals(rec.ID)
	require.NoError(t, err)
	assert.Empty(t, approvals, "dev deployments need no approvals")

	checks, err := f.svc.Checks(rec.ID)
	require.NoError(t, err)
	require.Len(t, checks, len(checkSuite))
	assert.Equal(t, "Static Analysis", checks[0].Name)
	assert.Equal(t, CheckPassed, checks[0].Status)
}

func TestCreate_ApprovalRows(t *testing.T) {
	f := newFixture(t)
	v := f.createVersion(t, validLogic)

	staging, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "staging", InitiatedBy: "dana",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, staging.ApprovalsRequired)
	approvals, _ := f.svc.Approvals(staging.ID)
	require.Len(t, approvals, 1)
	assert.Equal(t, RoleOperationsManager, approvals[0].ApproverRole)

	prod, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "prod", InitiatedBy: "dana",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, prod.ApprovalsRequired)
	approvals, _ = f.svc.Approvals(prod.ID)
	require.Len(t, approvals, 2)
	roles := map[ApproverRole]bool{}
	for _, a := range approvals {
		roles[a.ApproverRole] = true
		assert.Equal(t, ApprovalPending, a.Status)
		assert.True(t, a.IsRequired)
	}
	assert.True(t, roles[RoleSafetyEngineer])
	assert.True(t, roles[RoleLeadDeveloper])
}

func TestCreate_StageProgressionGate(t *testing.T) {
	f := newFixture(t)
	v := f.createVersion(t, validLogic)
	require.NoError(t, f.vrepo.InsertSnapshot(&versioning.Snapshot{
		ID: "snap-1", ProjectID: "proj", VersionID: v.ID, Name: "s1",
	}))

	_, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, SnapshotID: "snap-1",
		Environment: "staging", InitiatedBy: "dana",
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConflict))

	require.NoError(t, f.vrepo.InsertPromotion(&versioning.Promotion{
		SnapshotID: "snap-1", FromStage: versioning.StageQA, ToStage: versioning.StageStaging,
	}))
	_, err = f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, SnapshotID: "snap-1",
		Environment: "staging", InitiatedBy: "dana",
	})
	require.NoError(t, err)
}

func TestCreate_FailedChecksStayPending(t *testing.T) {
	f := newFixture(t)
	v := f.createVersion(t, "IF THEN END_IF")

	rec, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "dev", InitiatedBy: "dana",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.False(t, rec.ChecksPassed)

	// checksPassed gates Start.
	_, err = f.svc.Start(context.Background(), rec.ID)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPrecondition))
}

func TestStart_FullRollout(t *testing.T) {
	f := newFixture(t)
	v := f.createVersion(t, validLogic)
	var activated []string
	f.svc.activate = func(_ context.Context, versionID string) error {
		activated = append(activated, versionID)
		return nil
	}

	rec, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "dev", InitiatedBy: "dana",
	})
	require.NoError(t, err)

	result, err := f.svc.Start(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 100, result.ProgressPercent)
	assert.False(t, result.CompletedAt.IsZero())
	assert.Equal(t, []string{v.ID}, activated)

	logs, err := f.svc.Logs(rec.ID)
	require.NoError(t, err)
	var steps []string
	for _, l := range logs {
		if l.Step != "" && l.Level == LogSuccess {
			steps = append(steps, l.Step)
		}
	}
	assert.Equal(t, []string{"validation", "backup", "upload", "compile", "apply", "verify", "complete"}, steps)

	// A second start is rejected.
	_, err = f.svc.Start(context.Background(), rec.ID)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestStart_ApprovalGate(t *testing.T) {
	f := newFixture(t)
	v := f.createVersion(t, validLogic)

	rec, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "staging", InitiatedBy: "dana",
	})
	require.NoError(t, err)

	_, err = f.svc.Start(context.Background(), rec.ID)
	require.Error(t, err, "unapproved staging deployment must not start")
	assert.True(t, errors.IsKind(err, errors.KindPrecondition))

	approvals, _ := f.svc.Approvals(rec.ID)
	require.Len(t, approvals, 1)
	updated, err := f.svc.SubmitApproval(approvals[0].ID, "olga", ApprovalApproved, "lgtm")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.ApprovalCount)
	assert.Equal(t, "olga", updated.ApprovedBy)

	result, err := f.svc.Start(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
}

func TestSubmitApproval_RejectionDoesNotCount(t *testing.T) {
	f := newFixture(t)
	v := f.createVersion(t, validLogic)
	rec, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "prod", InitiatedBy: "dana",
	})
	require.NoError(t, err)

	approvals, _ := f.svc.Approvals(rec.ID)
	require.Len(t, approvals, 2)

	updated, err := f.svc.SubmitApproval(approvals[0].ID, "sam", ApprovalRejected, "unsafe")
	require.NoError(t, err)
	assert.Zero(t, updated.ApprovalCount)

	updated, err = f.svc.SubmitApproval(approvals[1].ID, "lee", ApprovalApproved, "")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.ApprovalCount, "one approval short of the prod gate")

	_, err = f.svc.Start(context.Background(), rec.ID)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPrecondition))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	v := f.createVersion(t, validLogic)
	rec, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "dev", InitiatedBy: "dana",
	})
	require.NoError(t, err)

	canceled, err := f.svc.Cancel(rec.ID, "dana")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, canceled.Status)

	_, err = f.svc.Cancel(rec.ID, "dana")
	require.Error(t, err, "a finished deployment cannot be canceled")
}

func TestResume_SkipsLoggedSteps(t *testing.T) {
	f := newFixture(t)
	v := f.createVersion(t, validLogic)
	rec, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "dev", InitiatedBy: "dana",
	})
	require.NoError(t, err)

	// Simulate a run paused after the first two steps.
	stored, _ := f.repo.GetDeployment(rec.ID)
	stored.Status = StatusPaused
	stored.StartedAt = time.Now()
	stored.ProgressPercent = 25
	require.NoError(t, f.repo.UpdateDeployment(stored))
	for _, step := range []string{"validation", "backup"} {
		require.NoError(t, f.repo.AppendLog(&Log{
			ID: "log-" + step, DeployID: rec.ID, Level: LogSuccess, Step: step,
		}))
	}

	result, err := f.svc.Resume(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)

	logs, _ := f.svc.Logs(rec.ID)
	counts := map[string]int{}
	for _, l := range logs {
		if l.Step != "" && l.Level == LogSuccess {
			counts[l.Step]++
		}
	}
	assert.Equal(t, 1, counts["validation"], "already-logged steps are not repeated")
	assert.Equal(t, 1, counts["upload"])
}

func TestRollback_RequiresPreviousVersion(t *testing.T) {
	f := newFixture(t)
	v := f.createVersion(t, validLogic)
	rec, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "dev", InitiatedBy: "dana",
	})
	require.NoError(t, err)

	_, err = f.svc.ExecuteRollback(context.Background(), rec.ID, "dana", "manual", false)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPrecondition))
}

func TestRollback_Manual(t *testing.T) {
	f := newFixture(t)
	v1 := f.createVersion(t, validLogic)

	first, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v1.ID, Environment: "dev", InitiatedBy: "dana",
	})
	require.NoError(t, err)
	_, err = f.svc.Start(context.Background(), first.ID)
	require.NoError(t, err)

	v2, err := f.versions.CreateVersion(versioning.CreateVersionParams{
		ProjectID: "proj", BranchID: "main", Author: "dana", Label: "v1.0.1",
		Files: []versioning.FileInput{{Path: "main.st", Content: validLogic, FileType: "logic"}},
	})
	require.NoError(t, err)

	var activated []string
	f.svc.activate = func(_ context.Context, versionID string) error {
		activated = append(activated, versionID)
		return nil
	}
	second, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v2.ID, Environment: "dev", InitiatedBy: "dana",
	})
	require.NoError(t, err)
	assert.Equal(t, v1.ID, second.PreviousVersionID)
	_, err = f.svc.Start(context.Background(), second.ID)
	require.NoError(t, err)

	rolled, err := f.svc.ExecuteRollback(context.Background(), second.ID, "dana", "operator request", false)
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, rolled.Status)
	assert.Equal(t, "operator request", rolled.RollbackReason)
	assert.Contains(t, activated, v1.ID, "rollback re-activates the previous version")

	rollbacks, err := f.svc.Rollbacks(second.ID)
	require.NoError(t, err)
	require.Len(t, rollbacks, 1)
	assert.Equal(t, RollbackSuccess, rollbacks[0].Status)
	assert.False(t, rollbacks[0].IsAutomatic)
}

func TestStart_AutoRollbackOnHealthFailure(t *testing.T) {
	f := newFixture(t)
	v1 := f.createVersion(t, validLogic)

	first, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v1.ID, Environment: "dev", InitiatedBy: "dana",
	})
	require.NoError(t, err)
	_, err = f.svc.Start(context.Background(), first.ID)
	require.NoError(t, err)

	v2, err := f.versions.CreateVersion(versioning.CreateVersionParams{
		ProjectID: "proj", BranchID: "main", Author: "dana", Label: "v1.0.1",
		Files: []versioning.FileInput{{Path: "main.st", Content: validLogic, FileType: "logic"}},
	})
	require.NoError(t, err)

	f.svc.health = func(context.Context, *Record) error {
		return fmt.Errorf("runtime unreachable")
	}
	second, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v2.ID, Environment: "dev", InitiatedBy: "dana",
	})
	require.NoError(t, err)

	result, err := f.svc.Start(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, result.Status)
	assert.Equal(t, "Health checks failed", result.RollbackReason)

	rollbacks, _ := f.svc.Rollbacks(second.ID)
	require.Len(t, rollbacks, 1)
	assert.True(t, rollbacks[0].IsAutomatic)
}

func TestStart_HealthFailureWithoutPreviousVersion(t *testing.T) {
	f := newFixture(t)
	v := f.createVersion(t, validLogic)
	f.svc.health = func(context.Context, *Record) error {
		return fmt.Errorf("runtime unreachable")
	}

	rec, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "dev", InitiatedBy: "dana",
	})
	require.NoError(t, err)
	require.Empty(t, rec.PreviousVersionID)

	// No rollback target exists, so the deployment stays successful.
	result, err := f.svc.Start(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)

	rollbacks, err := f.svc.Rollbacks(rec.ID)
	require.NoError(t, err)
	assert.Empty(t, rollbacks)
}

func TestRerunChecks(t *testing.T) {
	f := newFixture(t)
	v := f.createVersion(t, validLogic)
	rec, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "dev", InitiatedBy: "dana",
	})
	require.NoError(t, err)
	require.True(t, rec.ChecksPassed)

	// Rerun with a conflicting address table flips the outcome.
	updated, err := f.svc.RerunChecks(rec.ID, CheckInput{
		Files: map[string]string{"main.st": validLogic},
		TagAddresses: map[string]string{
			"Motor_Run": "%Q0.0",
			"Pump_Run":  "%Q0.0",
		},
	})
	require.NoError(t, err)
	assert.False(t, updated.ChecksPassed)

	checks, _ := f.svc.Checks(rec.ID)
	var address Check
	for _, c := range checks {
		if c.Name == "IO Address Conflicts" {
			address = c
		}
	}
	assert.Equal(t, CheckFailed, address.Status)
	assert.Contains(t, address.Details, "%Q0.0")
}

func TestChecks_CriticalOverwriteWarns(t *testing.T) {
	f := newFixture(t)
	logic := `
VAR
	E_Stop : BOOL := FALSE;
END_VAR
E_Stop := FALSE;
`
	v := f.createVersion(t, logic)
	rec, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "dev",
		InitiatedBy: "dana", CriticalTags: []string{"E_Stop"},
	})
	require.NoError(t, err)
	assert.True(t, rec.ChecksPassed, "warnings do not block")

	checks, _ := f.svc.Checks(rec.ID)
	var overwrite Check
	for _, c := range checks {
		if c.Name == "Critical Tag Overwrites" {
			overwrite = c
		}
	}
	assert.Equal(t, CheckWarning, overwrite.Status)
	assert.Contains(t, overwrite.Details, "E_Stop")
}

func TestChecks_TagDependencies(t *testing.T) {
	f := newFixture(t)
	logic := `
VAR
	Local : BOOL := FALSE;
END_VAR
Local := External_Tag;
`
	v := f.createVersion(t, logic)

	rec, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "dev", InitiatedBy: "dana",
	})
	require.NoError(t, err)
	assert.False(t, rec.ChecksPassed, "unresolved reference is critical")

	rec2, err := f.svc.Create(CreateParams{
		ProjectID: "proj", VersionID: v.ID, Environment: "dev",
		InitiatedBy: "dana", KnownTags: []string{"External_Tag"},
	})
	require.NoError(t, err)
	assert.True(t, rec2.ChecksPassed)
}

func TestMachine_Transitions(t *testing.T) {
	rec := &Record{ChecksPassed: true, ApprovalCount: 1, ApprovalsRequired: 1}
	m, err := NewMachine(rec)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, m.Current())

	require.NoError(t, m.Send(EventStart))
	assert.Equal(t, StatusRunning, m.Current())
	require.NoError(t, m.Send(EventStepOK))
	assert.Equal(t, StatusRunning, m.Current())
	require.NoError(t, m.Send(EventPause))
	require.NoError(t, m.Send(EventResume))
	require.NoError(t, m.Send(EventComplete))
	assert.Equal(t, StatusSuccess, m.Current())

	require.NoError(t, m.Send(EventRollback))
	assert.Equal(t, StatusRolledBack, m.Current())
	assert.True(t, m.Done())
}

func TestMachine_StartGuard(t *testing.T) {
	rec := &Record{ChecksPassed: false}
	m, err := NewMachine(rec)
	require.NoError(t, err)

	err = m.Send(EventStart)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPrecondition))
	assert.Equal(t, StatusPending, m.Current())

	// Gate opens once the record satisfies it.
	rec.ChecksPassed = true
	require.NoError(t, m.Send(EventStart))
	assert.Equal(t, StatusRunning, m.Current())
}

func TestMachine_RebuildAtStatus(t *testing.T) {
	rec := &Record{Status: StatusPaused, ChecksPassed: true}
	m, err := NewMachineAt(rec)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, m.Current())

	require.NoError(t, m.Send(EventResume))
	assert.Equal(t, StatusRunning, m.Current())
}
