package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"

	"github.com/pandaura/pandaura/internal/errors"
	"github.com/pandaura/pandaura/internal/observability"
	"github.com/pandaura/pandaura/internal/versioning"
)

// HealthChecker probes the target after a rollout completes. A returned
// error triggers automatic rollback.
type HealthChecker func(ctx context.Context, rec *Record) error

// Activator re-materialises a version as the active image on the target
// runtime. It backs both rollout apply and rollback.
type Activator func(ctx context.Context, versionID string) error

// Service drives deployments against a Repository, using the version
// service for file materialisation and promotion history.
type Service struct {
	repo     Repository
	versions *versioning.Service
	logger   *log.Logger

	health    HealthChecker
	activate  Activator
	retrier   retry.Retry[struct{}]
	stepDelay time.Duration
	now       func() time.Time
	newID     func() string
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

// WithHealthChecker sets the post-deploy health probe.
func WithHealthChecker(h HealthChecker) Option {
	return func(s *Service) { s.health = h }
}

// WithActivator sets the runtime activation hook.
func WithActivator(a Activator) Option {
	return func(s *Service) { s.activate = a }
}

// WithStepDelay sets the pause between rollout steps.
func WithStepDelay(d time.Duration) Option {
	return func(s *Service) { s.stepDelay = d }
}

// NewService wires a deployment service.
func NewService(repo Repository, versions *versioning.Service, logger *log.Logger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		versions:  versions,
		logger:    logger,
		health:    func(context.Context, *Record) error { return nil },
		activate:  func(context.Context, string) error { return nil },
		stepDelay: 200 * time.Millisecond,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	probeDelay := s.stepDelay
	if probeDelay <= 0 {
		probeDelay = time.Millisecond
	}
	s.retrier = retry.New[struct{}](retry.Config{
		MaxAttempts:   3,
		InitialDelay:  probeDelay,
		MaxDelay:      10 * probeDelay,
		BackoffPolicy: retry.BackoffExponential,
		Multiplier:    2.0,
	})
	return s
}

// CreateParams collects the CreateDeployment arguments.
type CreateParams struct {
	ProjectID      string
	ReleaseID      string
	VersionID      string
	SnapshotID     string
	Name           string
	Environment    string
	Strategy       Strategy
	InitiatedBy    string
	TargetRuntimes []string
	// Tags feeds the safety-check pipeline.
	KnownTags    []string
	CriticalTags []string
	TagAddresses map[string]string
}

// Create validates stage progression, derives the approval gate for the
// environment, inserts pending approvals per required role, and runs the
// safety-check pipeline. The deployment stays pending regardless of check
// outcome; checksPassed gates Start.
func (s *Service) Create(p CreateParams) (*Record, error) {
	const op = "deploy.Create"

	if p.ProjectID == "" || p.VersionID == "" || p.Environment == "" {
		return nil, errors.Validation(op, "projectId, versionId, and environment are required")
	}
	if p.Strategy == "" {
		p.Strategy = StrategyAtomic
	}

	if err := s.validateStageProgression(p.SnapshotID, p.Environment); err != nil {
		return nil, err
	}

	// The most recent success on this environment is the rollback target.
	previousVersionID := ""
	if prev, err := s.repo.LatestSuccessful(p.ProjectID, p.Environment); err == nil {
		previousVersionID = prev.VersionID
	} else if !errors.IsKind(err, errors.KindNotFound) {
		return nil, err
	}

	now := s.now()
	rec := &Record{
		ID:                s.newID(),
		ProjectID:         p.ProjectID,
		ReleaseID:         p.ReleaseID,
		VersionID:         p.VersionID,
		SnapshotID:        p.SnapshotID,
		Name:              p.Name,
		Environment:       p.Environment,
		Strategy:          p.Strategy,
		Status:            StatusPending,
		CreatedAt:         now,
		InitiatedBy:       p.InitiatedBy,
		ApprovalsRequired: approvalsRequiredFor(p.Environment),
		TargetRuntimes:    p.TargetRuntimes,
		PreviousVersionID: previousVersionID,
	}
	if err := s.repo.InsertDeployment(rec); err != nil {
		return nil, err
	}

	for _, role := range requiredRoles[p.Environment] {
		approval := &Approval{
			ID:           s.newID(),
			DeployID:     rec.ID,
			ApproverRole: role,
			Status:       ApprovalPending,
			RequestedAt:  now,
			IsRequired:   true,
		}
		if err := s.repo.InsertApproval(approval); err != nil {
			return nil, err
		}
	}

	files, err := s.versions.MaterializeVersion(p.VersionID)
	if err != nil {
		return nil, err
	}
	checks, passed, err := s.runChecks(rec.ID, CheckInput{
		Files:        files,
		KnownTags:    p.KnownTags,
		CriticalTags: p.CriticalTags,
		TagAddresses: p.TagAddresses,
	})
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceChecks(rec.ID, checks); err != nil {
		return nil, err
	}
	rec.ChecksPassed = passed
	downtime := checksDowntime(checks)
	if downtime != "" {
		rec.EstimatedDowntime = downtime
	}
	if err := s.repo.UpdateDeployment(rec); err != nil {
		return nil, err
	}

	s.appendLog(rec.ID, LogInfo, "", fmt.Sprintf("deployment created for %s (checksPassed=%t)", p.Environment, passed))
	s.logger.Info("deployment created",
		"project", p.ProjectID,
		"environment", p.Environment,
		"approvalsRequired", rec.ApprovalsRequired,
		"checksPassed", passed)
	return rec, nil
}

func checksDowntime(checks []Check) string {
	for _, c := range checks {
		if c.Name == "Estimated Downtime" {
			return c.Message
		}
	}
	return ""
}

// validateStageProgression requires the snapshot to have been promoted into
// the target environment before deploying there. Dev needs no promotion.
func (s *Service) validateStageProgression(snapshotID, environment string) error {
	const op = "deploy.validateStageProgression"

	stage := versioning.Stage(environment)
	if environment == "production" {
		stage = versioning.StageProd
	}
	if snapshotID == "" || stage == versioning.StageDev {
		return nil
	}
	history, err := s.versions.SnapshotPromotions(snapshotID)
	if err != nil {
		return err
	}
	for _, promo := range history {
		if promo.ToStage == stage {
			return nil
		}
	}
	return errors.Conflict(op, "snapshot has not been promoted to the target stage").
		WithDetail("environment", environment).
		WithHint(fmt.Sprintf("promote the snapshot to %s first", stage))
}

// Get returns one deployment.
func (s *Service) Get(id string) (*Record, error) {
	return s.repo.GetDeployment(id)
}

// List returns a project's deployments.
func (s *Service) List(projectID string) ([]*Record, error) {
	return s.repo.ListDeployments(projectID)
}

// Checks returns a deployment's safety-check results.
func (s *Service) Checks(deployID string) ([]Check, error) {
	return s.repo.Checks(deployID)
}

// Logs returns a deployment's log entries.
func (s *Service) Logs(deployID string) ([]*Log, error) {
	return s.repo.Logs(deployID)
}

// Approvals returns a deployment's approval rows.
func (s *Service) Approvals(deployID string) ([]*Approval, error) {
	return s.repo.Approvals(deployID)
}

// Rollbacks returns a deployment's rollback executions.
func (s *Service) Rollbacks(deployID string) ([]*Rollback, error) {
	return s.repo.Rollbacks(deployID)
}

// RerunChecks re-executes the safety pipeline for a pending deployment.
func (s *Service) RerunChecks(deployID string, in CheckInput) (*Record, error) {
	const op = "deploy.RerunChecks"

	rec, err := s.repo.GetDeployment(deployID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return nil, errors.Conflict(op, "checks can only be rerun while pending").
			WithDetail("status", string(rec.Status))
	}
	if in.Files == nil {
		if in.Files, err = s.versions.MaterializeVersion(rec.VersionID); err != nil {
			return nil, err
		}
	}
	checks, passed, err := s.runChecks(deployID, in)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceChecks(deployID, checks); err != nil {
		return nil, err
	}
	rec.ChecksPassed = passed
	if err := s.repo.UpdateDeployment(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// SubmitApproval records one approver's response and recomputes the
// deployment's approval count. The most recent approver wins approvedBy;
// history stays in the approvals table.
func (s *Service) SubmitApproval(approvalID, approverName string, status ApprovalStatus, comment string) (*Record, error) {
	const op = "deploy.SubmitApproval"

	if status != ApprovalApproved && status != ApprovalRejected {
		return nil, errors.Validation(op, "status must be approved or rejected")
	}
	approval, err := s.repo.GetApproval(approvalID)
	if err != nil {
		return nil, err
	}
	approval.ApproverName = approverName
	approval.Status = status
	approval.Comment = comment
	approval.RespondedAt = s.now()
	if err := s.repo.UpdateApproval(approval); err != nil {
		return nil, err
	}

	rec, err := s.repo.GetDeployment(approval.DeployID)
	if err != nil {
		return nil, err
	}
	all, err := s.repo.Approvals(approval.DeployID)
	if err != nil {
		return nil, err
	}
	count := 0
	for _, a := range all {
		if a.Status == ApprovalApproved {
			count++
		}
	}
	rec.ApprovalCount = count
	if status == ApprovalApproved {
		rec.ApprovedBy = approverName
	}
	if err := s.repo.UpdateDeployment(rec); err != nil {
		return nil, err
	}
	s.appendLog(rec.ID, LogInfo, "", fmt.Sprintf("approval %s by %s (%d/%d)", status, approverName, count, rec.ApprovalsRequired))
	return rec, nil
}

// Start gates on checks and approvals, transitions the deployment to
// running, and drives the rollout script to completion. After the final
// step it runs post-deploy health checks; a health failure triggers
// automatic rollback.
func (s *Service) Start(ctx context.Context, deployID string) (*Record, error) {
	const op = "deploy.Start"

	rec, err := s.repo.GetDeployment(deployID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return nil, errors.Conflict(op, "deployment is not pending").
			WithDetail("status", string(rec.Status))
	}

	machine, err := NewMachine(rec)
	if err != nil {
		return nil, err
	}
	if err := machine.Send(EventStart); err != nil {
		return nil, err
	}

	rec.Status = StatusRunning
	rec.StartedAt = s.now()
	rec.ProgressPercent = 0
	if err := s.repo.UpdateDeployment(rec); err != nil {
		return nil, err
	}
	s.appendLog(rec.ID, LogInfo, "", "deployment started")

	return s.runRollout(ctx, rec, machine)
}

// Resume re-enters the rollout at the first step not yet logged.
func (s *Service) Resume(ctx context.Context, deployID string) (*Record, error) {
	const op = "deploy.Resume"

	rec, err := s.repo.GetDeployment(deployID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPaused {
		return nil, errors.Conflict(op, "deployment is not paused").
			WithDetail("status", string(rec.Status))
	}

	machine, err := NewMachineAt(rec)
	if err != nil {
		return nil, err
	}
	if err := machine.Send(EventResume); err != nil {
		return nil, err
	}
	rec.Status = StatusRunning
	if err := s.repo.UpdateDeployment(rec); err != nil {
		return nil, err
	}
	s.appendLog(rec.ID, LogInfo, "", "deployment resumed")

	return s.runRollout(ctx, rec, machine)
}

// runRollout drives the remaining script steps. Between steps it re-reads
// the record so an external pause or cancel takes effect at the next step
// boundary.
func (s *Service) runRollout(ctx context.Context, rec *Record, machine *Machine) (*Record, error) {
	observability.Global().IncrementActiveDeploys()
	defer observability.Global().DecrementActiveDeploys()

	done, err := s.completedSteps(rec.ID)
	if err != nil {
		return nil, err
	}

	for _, step := range rolloutScript {
		if done[step.name] {
			continue
		}

		current, err := s.repo.GetDeployment(rec.ID)
		if err != nil {
			return nil, err
		}
		switch current.Status {
		case StatusPaused:
			return current, nil
		case StatusFailed, StatusRolledBack:
			return current, nil
		}

		if s.stepDelay > 0 {
			select {
			case <-ctx.Done():
				return rec, ctx.Err()
			case <-time.After(s.stepDelay):
			}
		}

		if step.name == "apply" {
			if err := s.activate(ctx, rec.VersionID); err != nil {
				return s.failRollout(rec, machine, step.name, err)
			}
		}

		if err := machine.Send(EventStepOK); err != nil {
			return nil, err
		}
		rec.ProgressPercent = step.progress
		if err := s.repo.UpdateDeployment(rec); err != nil {
			return nil, err
		}
		s.appendLog(rec.ID, LogSuccess, step.name, fmt.Sprintf("step %s complete (%d%%)", step.name, step.progress))
	}

	if err := machine.Send(EventComplete); err != nil {
		return nil, err
	}
	now := s.now()
	rec.Status = StatusSuccess
	rec.CompletedAt = now
	rec.ProgressPercent = 100
	if !rec.StartedAt.IsZero() {
		rec.DurationSeconds = now.Sub(rec.StartedAt).Seconds()
	}
	if err := s.repo.UpdateDeployment(rec); err != nil {
		return nil, err
	}
	s.appendLog(rec.ID, LogSuccess, "", "deployment succeeded")
	s.logger.Info("deployment succeeded", "deploy", rec.ID, "environment", rec.Environment)
	observability.Global().RecordDeployment(rec.Environment, true, now.Sub(rec.StartedAt))

	// Post-deploy health. Retries absorb transient probe failures; a final
	// error rolls the deployment back.
	_, healthErr := s.retrier.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.health(ctx, rec)
	})
	if healthErr != nil {
		s.appendLog(rec.ID, LogError, "", "post-deploy health checks failed: "+healthErr.Error())
		if rec.PreviousVersionID == "" {
			// A first deployment has no rollback target. The failure is
			// logged against the record, which stays in place.
			s.logger.Warn("health checks failed with no previous version to roll back to",
				"deploy", rec.ID, "environment", rec.Environment)
			return rec, nil
		}
		return s.ExecuteRollback(ctx, rec.ID, "system", "Health checks failed", true)
	}
	return rec, nil
}

func (s *Service) failRollout(rec *Record, machine *Machine, step string, cause error) (*Record, error) {
	_ = machine.Send(EventFail)
	rec.Status = StatusFailed
	rec.ErrorMessage = cause.Error()
	if err := s.repo.UpdateDeployment(rec); err != nil {
		return nil, err
	}
	s.appendLog(rec.ID, LogError, step, "step failed: "+cause.Error())
	observability.Global().RecordDeployment(rec.Environment, false, 0)
	return rec, errors.Wrapf(cause, errors.KindInternal, "deploy.runRollout", "step %s failed", step)
}

// completedSteps reads the step breadcrumbs already logged.
func (s *Service) completedSteps(deployID string) (map[string]bool, error) {
	logs, err := s.repo.Logs(deployID)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool)
	for _, l := range logs {
		if l.Level == LogSuccess && l.Step != "" {
			done[l.Step] = true
		}
	}
	return done, nil
}

// Pause suspends a running deployment at the next step boundary.
func (s *Service) Pause(deployID string) (*Record, error) {
	const op = "deploy.Pause"

	rec, err := s.repo.GetDeployment(deployID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusRunning {
		return nil, errors.Conflict(op, "only a running deployment can be paused").
			WithDetail("status", string(rec.Status))
	}
	rec.Status = StatusPaused
	if err := s.repo.UpdateDeployment(rec); err != nil {
		return nil, err
	}
	s.appendLog(rec.ID, LogInfo, "", "deployment paused")
	return rec, nil
}

// Cancel marks a pending, running, or paused deployment as failed.
func (s *Service) Cancel(deployID, canceledBy string) (*Record, error) {
	const op = "deploy.Cancel"

	rec, err := s.repo.GetDeployment(deployID)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case StatusPending, StatusRunning, StatusPaused:
	default:
		return nil, errors.Conflict(op, "deployment can no longer be canceled").
			WithDetail("status", string(rec.Status))
	}
	rec.Status = StatusFailed
	rec.ErrorMessage = "canceled by " + canceledBy
	if err := s.repo.UpdateDeployment(rec); err != nil {
		return nil, err
	}
	s.appendLog(rec.ID, LogWarning, "", "deployment canceled by "+canceledBy)
	return rec, nil
}

// ExecuteRollback re-materialises the previous version as the active image
// and marks the deployment rolled back. It requires a rollback target.
func (s *Service) ExecuteRollback(ctx context.Context, deployID, triggeredBy, reason string, isAutomatic bool) (*Record, error) {
	const op = "deploy.ExecuteRollback"

	rec, err := s.repo.GetDeployment(deployID)
	if err != nil {
		return nil, err
	}
	if rec.PreviousVersionID == "" {
		return nil, errors.Precondition(op, "no previous version to roll back to").
			WithHint("a first deployment cannot be rolled back")
	}

	rollback := &Rollback{
		ID:          s.newID(),
		DeployID:    deployID,
		TriggeredBy: triggeredBy,
		Reason:      reason,
		TriggeredAt: s.now(),
		Status:      RollbackRunning,
		IsAutomatic: isAutomatic,
	}
	if err := s.repo.InsertRollback(rollback); err != nil {
		return nil, err
	}
	s.appendLog(deployID, LogWarning, "", "rollback started: "+reason)

	if err := s.activate(ctx, rec.PreviousVersionID); err != nil {
		rollback.Status = RollbackFailed
		rollback.CompletedAt = s.now()
		if uerr := s.repo.UpdateRollback(rollback); uerr != nil {
			return nil, uerr
		}
		s.appendLog(deployID, LogError, "", "rollback failed: "+err.Error())
		return nil, errors.Wrap(err, errors.KindInternal, op, "failed to activate previous version")
	}

	rec.Status = StatusRolledBack
	rec.RollbackReason = reason
	if err := s.repo.UpdateDeployment(rec); err != nil {
		return nil, err
	}
	rollback.Status = RollbackSuccess
	rollback.CompletedAt = s.now()
	if err := s.repo.UpdateRollback(rollback); err != nil {
		return nil, err
	}
	s.appendLog(deployID, LogSuccess, "", "rollback complete")
	observability.Global().RecordRollback()
	s.logger.Warn("deployment rolled back",
		"deploy", deployID,
		"reason", reason,
		"automatic", isAutomatic)
	return rec, nil
}

func (s *Service) appendLog(deployID string, level LogLevel, step, message string) {
	entry := &Log{
		ID:        s.newID(),
		DeployID:  deployID,
		Timestamp: s.now(),
		Level:     level,
		Message:   message,
		Step:      step,
	}
	if err := s.repo.AppendLog(entry); err != nil {
		s.logger.Error("failed to append deploy log", "deploy", deployID, "err", err)
	}
}
