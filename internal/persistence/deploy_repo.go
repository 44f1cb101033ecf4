package persistence

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"

	"github.com/jmoiron/sqlx"

	"github.com/pandaura/pandaura/internal/deploy"
	"github.com/pandaura/pandaura/internal/errors"
)

// DeployRepository is the SQLite implementation of deploy.Repository.
type DeployRepository struct {
	db *sqlx.DB
}

// NewDeployRepository wraps db as a deployment repository.
func NewDeployRepository(db *sqlx.DB) *DeployRepository {
	return &DeployRepository{db: db}
}

// deploymentRow pairs the domain struct with its JSON-encoded runtime list.
type deploymentRow struct {
	deploy.Record
	TargetRuntimesJSON string `db:"target_runtimes"`
}

func newDeploymentRow(rec *deploy.Record) (*deploymentRow, error) {
	runtimes := rec.TargetRuntimes
	if runtimes == nil {
		runtimes = []string{}
	}
	encoded, err := json.Marshal(runtimes)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "persistence.newDeploymentRow", "failed to encode target runtimes")
	}
	return &deploymentRow{Record: *rec, TargetRuntimesJSON: string(encoded)}, nil
}

func (r *deploymentRow) domain() (*deploy.Record, error) {
	rec := r.Record
	if err := json.Unmarshal([]byte(r.TargetRuntimesJSON), &rec.TargetRuntimes); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "persistence.deploymentRow", "failed to decode target runtimes")
	}
	return &rec, nil
}

const deploymentColumns = `id, project_id, release_id, version_id, snapshot_id, name,
	environment, strategy, status, created_at, started_at, completed_at,
	duration_seconds, estimated_downtime, initiated_by, approved_by,
	approval_count, approvals_required, target_runtimes, progress_percent,
	error_message, rollback_reason, previous_version_id, checks_passed`

// InsertDeployment writes one deployment record.
func (r *DeployRepository) InsertDeployment(rec *deploy.Record) error {
	const op = "persistence.InsertDeployment"

	row, err := newDeploymentRow(rec)
	if err != nil {
		return err
	}
	if _, err := r.db.NamedExec(`INSERT INTO deployments (`+deploymentColumns+`) VALUES (
		:id, :project_id, :release_id, :version_id, :snapshot_id, :name,
		:environment, :strategy, :status, :created_at, :started_at, :completed_at,
		:duration_seconds, :estimated_downtime, :initiated_by, :approved_by,
		:approval_count, :approvals_required, :target_runtimes, :progress_percent,
		:error_message, :rollback_reason, :previous_version_id, :checks_passed)`,
		row); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to insert deployment")
	}
	return nil
}

// GetDeployment returns one deployment by id.
func (r *DeployRepository) GetDeployment(id string) (*deploy.Record, error) {
	const op = "persistence.GetDeployment"

	var row deploymentRow
	err := r.db.Get(&row, `SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundf(op, "deployment %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return row.domain()
}

// UpdateDeployment rewrites a deployment's mutable columns.
func (r *DeployRepository) UpdateDeployment(rec *deploy.Record) error {
	const op = "persistence.UpdateDeployment"

	row, err := newDeploymentRow(rec)
	if err != nil {
		return err
	}
	res, err := r.db.NamedExec(`UPDATE deployments SET
		status = :status, started_at = :started_at, completed_at = :completed_at,
		duration_seconds = :duration_seconds, estimated_downtime = :estimated_downtime,
		approved_by = :approved_by, approval_count = :approval_count,
		progress_percent = :progress_percent, error_message = :error_message,
		rollback_reason = :rollback_reason, checks_passed = :checks_passed
		WHERE id = :id`, row)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "update failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf(op, "deployment %s not found", rec.ID)
	}
	return nil
}

// ListUnfinished returns every running or paused deployment across
// projects. Startup uses it to recover rollouts a restart interrupted.
func (r *DeployRepository) ListUnfinished() ([]*deploy.Record, error) {
	const op = "persistence.ListUnfinished"

	var rows []deploymentRow
	if err := r.db.Select(&rows, `SELECT `+deploymentColumns+` FROM deployments
		WHERE status IN (?, ?) ORDER BY created_at`, deploy.StatusRunning, deploy.StatusPaused); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	out := make([]*deploy.Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].domain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListDeployments returns a project's deployments, newest first.
func (r *DeployRepository) ListDeployments(projectID string) ([]*deploy.Record, error) {
	const op = "persistence.ListDeployments"

	var rows []deploymentRow
	if err := r.db.Select(&rows, `SELECT `+deploymentColumns+` FROM deployments
		WHERE project_id = ? ORDER BY created_at DESC, rowid DESC`, projectID); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	out := make([]*deploy.Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].domain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// LatestSuccessful returns the most recent success for a project and
// environment.
func (r *DeployRepository) LatestSuccessful(projectID, environment string) (*deploy.Record, error) {
	const op = "persistence.LatestSuccessful"

	var row deploymentRow
	err := r.db.Get(&row, `SELECT `+deploymentColumns+` FROM deployments
		WHERE project_id = ? AND environment = ? AND status = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		projectID, environment, deploy.StatusSuccess)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound(op, "no successful deployment for environment")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return row.domain()
}

// InsertApproval writes one approval row.
func (r *DeployRepository) InsertApproval(a *deploy.Approval) error {
	const op = "persistence.InsertApproval"

	if _, err := r.db.NamedExec(`INSERT INTO deploy_approvals (
		id, deploy_id, approver_name, approver_role, status, comment, requested_at, responded_at, is_required) VALUES (
		:id, :deploy_id, :approver_name, :approver_role, :status, :comment, :requested_at, :responded_at, :is_required)`,
		a); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to insert approval")
	}
	return nil
}

// GetApproval returns one approval row by id.
func (r *DeployRepository) GetApproval(id string) (*deploy.Approval, error) {
	const op = "persistence.GetApproval"

	var a deploy.Approval
	err := r.db.Get(&a, `SELECT id, deploy_id, approver_name, approver_role, status,
		comment, requested_at, responded_at, is_required
		FROM deploy_approvals WHERE id = ?`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundf(op, "approval %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return &a, nil
}

// UpdateApproval rewrites an approval's response columns.
func (r *DeployRepository) UpdateApproval(a *deploy.Approval) error {
	const op = "persistence.UpdateApproval"

	res, err := r.db.NamedExec(`UPDATE deploy_approvals SET
		approver_name = :approver_name, status = :status, comment = :comment,
		responded_at = :responded_at
		WHERE id = :id`, a)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "update failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf(op, "approval %s not found", a.ID)
	}
	return nil
}

// Approvals returns a deployment's approval rows in request order.
func (r *DeployRepository) Approvals(deployID string) ([]*deploy.Approval, error) {
	const op = "persistence.Approvals"

	var out []*deploy.Approval
	if err := r.db.Select(&out, `SELECT id, deploy_id, approver_name, approver_role, status,
		comment, requested_at, responded_at, is_required
		FROM deploy_approvals WHERE deploy_id = ? ORDER BY rowid`, deployID); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return out, nil
}

// checkRow carries the suite position alongside the domain struct.
type checkRow struct {
	deploy.Check
	Position int `db:"position"`
}

// ReplaceChecks swaps a deployment's check results for a fresh run.
func (r *DeployRepository) ReplaceChecks(deployID string, checks []deploy.Check) error {
	const op = "persistence.ReplaceChecks"

	tx, err := r.db.Beginx()
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM deploy_checks WHERE deploy_id = ?`, deployID); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to clear checks")
	}
	for i := range checks {
		row := checkRow{Check: checks[i], Position: i}
		if _, err := tx.NamedExec(`INSERT INTO deploy_checks (
			id, deploy_id, name, type, status, severity, message, details, duration_ms, position) VALUES (
			:id, :deploy_id, :name, :type, :status, :severity, :message, :details, :duration_ms, :position)`,
			&row); err != nil {
			return errors.Wrap(err, errors.KindInternal, op, "failed to insert check")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to commit checks")
	}
	return nil
}

// Checks returns a deployment's check results in suite order.
func (r *DeployRepository) Checks(deployID string) ([]deploy.Check, error) {
	const op = "persistence.Checks"

	var rows []checkRow
	if err := r.db.Select(&rows, `SELECT id, deploy_id, name, type, status, severity,
		message, details, duration_ms, position
		FROM deploy_checks WHERE deploy_id = ? ORDER BY position`, deployID); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	out := make([]deploy.Check, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Check)
	}
	return out, nil
}

// AppendLog writes one log entry.
func (r *DeployRepository) AppendLog(l *deploy.Log) error {
	const op = "persistence.AppendLog"

	if _, err := r.db.NamedExec(`INSERT INTO deploy_logs (id, deploy_id, timestamp, level, message, step)
		VALUES (:id, :deploy_id, :timestamp, :level, :message, :step)`, l); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to insert log entry")
	}
	return nil
}

// Logs returns a deployment's log entries in append order.
func (r *DeployRepository) Logs(deployID string) ([]*deploy.Log, error) {
	const op = "persistence.Logs"

	var out []*deploy.Log
	if err := r.db.Select(&out, `SELECT id, deploy_id, timestamp, level, message, step
		FROM deploy_logs WHERE deploy_id = ? ORDER BY seq`, deployID); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return out, nil
}

// InsertRollback writes one rollback execution.
func (r *DeployRepository) InsertRollback(rb *deploy.Rollback) error {
	const op = "persistence.InsertRollback"

	if _, err := r.db.NamedExec(`INSERT INTO deploy_rollbacks (
		id, deploy_id, triggered_by, reason, triggered_at, completed_at, status, is_automatic) VALUES (
		:id, :deploy_id, :triggered_by, :reason, :triggered_at, :completed_at, :status, :is_automatic)`,
		rb); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to insert rollback")
	}
	return nil
}

// UpdateRollback rewrites a rollback's completion columns.
func (r *DeployRepository) UpdateRollback(rb *deploy.Rollback) error {
	const op = "persistence.UpdateRollback"

	res, err := r.db.NamedExec(`UPDATE deploy_rollbacks SET
		status = :status, completed_at = :completed_at
		WHERE id = :id`, rb)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "update failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf(op, "rollback %s not found", rb.ID)
	}
	return nil
}

// Rollbacks returns a deployment's rollback executions in trigger order.
func (r *DeployRepository) Rollbacks(deployID string) ([]*deploy.Rollback, error) {
	const op = "persistence.Rollbacks"

	var out []*deploy.Rollback
	if err := r.db.Select(&out, `SELECT id, deploy_id, triggered_by, reason,
		triggered_at, completed_at, status, is_automatic
		FROM deploy_rollbacks WHERE deploy_id = ? ORDER BY triggered_at, rowid`, deployID); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return out, nil
}
