// Package deploy implements the gated deployment workflow: safety checks,
// role-based approvals, a statekit-backed rollout state machine, post-deploy
// health monitoring, and rollback.
package deploy

import "time"

// Status is the deployment lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled-back"
)

// Strategy is the rollout strategy.
type Strategy string

const (
	StrategyAtomic Strategy = "atomic"
	StrategyCanary Strategy = "canary"
	StrategyStaged Strategy = "staged"
)

// ApproverRole names the roles that may gate a deployment.
type ApproverRole string

const (
	RoleOperationsManager ApproverRole = "operations_manager"
	RoleSafetyEngineer    ApproverRole = "safety_engineer"
	RoleLeadDeveloper     ApproverRole = "lead_developer"
)

// requiredRoles maps a target environment to the approver roles that get a
// pending approval row on creation.
var requiredRoles = map[string][]ApproverRole{
	"staging":    {RoleOperationsManager},
	"prod":       {RoleSafetyEngineer, RoleLeadDeveloper},
	"production": {RoleSafetyEngineer, RoleLeadDeveloper},
}

// approvalsRequiredFor returns the approval count gate for an environment:
// 0 below staging, 1 for staging, 2 for production.
func approvalsRequiredFor(environment string) int {
	switch environment {
	case "staging":
		return 1
	case "prod", "production":
		return 2
	default:
		return 0
	}
}

// Record is one deployment.
type Record struct {
	ID                string    `json:"id" db:"id"`
	ProjectID         string    `json:"projectId" db:"project_id"`
	ReleaseID         string    `json:"releaseId" db:"release_id"`
	VersionID         string    `json:"versionId" db:"version_id"`
	SnapshotID        string    `json:"snapshotId,omitempty" db:"snapshot_id"`
	Name              string    `json:"deployName" db:"name"`
	Environment       string    `json:"environment" db:"environment"`
	Strategy          Strategy  `json:"strategy" db:"strategy"`
	Status            Status    `json:"status" db:"status"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	StartedAt         time.Time `json:"startedAt,omitzero" db:"started_at"`
	CompletedAt       time.Time `json:"completedAt,omitzero" db:"completed_at"`
	DurationSeconds   float64   `json:"durationSeconds,omitempty" db:"duration_seconds"`
	EstimatedDowntime string    `json:"estimatedDowntime,omitempty" db:"estimated_downtime"`
	InitiatedBy       string    `json:"initiatedBy" db:"initiated_by"`
	ApprovedBy        string    `json:"approvedBy,omitempty" db:"approved_by"`
	ApprovalCount     int       `json:"approvalCount" db:"approval_count"`
	ApprovalsRequired int       `json:"approvalsRequired" db:"approvals_required"`
	TargetRuntimes    []string  `json:"targetRuntimes,omitempty" db:"-"`
	ProgressPercent   int       `json:"progressPercent" db:"progress_percent"`
	ErrorMessage      string    `json:"errorMessage,omitempty" db:"error_message"`
	RollbackReason    string    `json:"rollbackReason,omitempty" db:"rollback_reason"`
	PreviousVersionID string    `json:"previousVersionId,omitempty" db:"previous_version_id"`
	ChecksPassed      bool      `json:"checksPassed" db:"checks_passed"`
}

// ApprovalStatus is the state of one approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is one approver's gate on a deployment.
type Approval struct {
	ID           string         `json:"id" db:"id"`
	DeployID     string         `json:"deployId" db:"deploy_id"`
	ApproverName string         `json:"approverName,omitempty" db:"approver_name"`
	ApproverRole ApproverRole   `json:"approverRole" db:"approver_role"`
	Status       ApprovalStatus `json:"status" db:"status"`
	Comment      string         `json:"comment,omitempty" db:"comment"`
	RequestedAt  time.Time      `json:"requestedAt" db:"requested_at"`
	RespondedAt  time.Time      `json:"respondedAt,omitzero" db:"responded_at"`
	IsRequired   bool           `json:"isRequired" db:"is_required"`
}

// CheckStatus is the outcome of one safety check.
type CheckStatus string

const (
	CheckPending CheckStatus = "pending"
	CheckRunning CheckStatus = "running"
	CheckPassed  CheckStatus = "passed"
	CheckWarning CheckStatus = "warning"
	CheckFailed  CheckStatus = "failed"
)

// CheckSeverity weights a check outcome. Only critical failures block.
type CheckSeverity string

const (
	SeverityCritical CheckSeverity = "critical"
	SeverityWarning  CheckSeverity = "warning"
	SeverityInfo     CheckSeverity = "info"
)

// Check is one safety-check result.
type Check struct {
	ID         string        `json:"id" db:"id"`
	DeployID   string        `json:"deployId" db:"deploy_id"`
	Name       string        `json:"name" db:"name"`
	Type       string        `json:"type" db:"type"`
	Status     CheckStatus   `json:"status" db:"status"`
	Severity   CheckSeverity `json:"severity" db:"severity"`
	Message    string        `json:"message,omitempty" db:"message"`
	Details    string        `json:"details,omitempty" db:"details"`
	DurationMs int64         `json:"durationMs" db:"duration_ms"`
}

// LogLevel grades a deployment log entry.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
	LogSuccess LogLevel = "success"
)

// Log is one append-only deployment log entry.
type Log struct {
	ID        string    `json:"id" db:"id"`
	DeployID  string    `json:"deployId" db:"deploy_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Level     LogLevel  `json:"level" db:"level"`
	Message   string    `json:"message" db:"message"`
	Step      string    `json:"step,omitempty" db:"step"`
}

// RollbackStatus is the state of one rollback execution.
type RollbackStatus string

const (
	RollbackPending RollbackStatus = "pending"
	RollbackRunning RollbackStatus = "running"
	RollbackSuccess RollbackStatus = "success"
	RollbackFailed  RollbackStatus = "failed"
)

// Rollback is one rollback execution record.
type Rollback struct {
	ID          string         `json:"id" db:"id"`
	DeployID    string         `json:"deployId" db:"deploy_id"`
	TriggeredBy string         `json:"triggeredBy" db:"triggered_by"`
	Reason      string         `json:"reason" db:"reason"`
	TriggeredAt time.Time      `json:"triggeredAt" db:"triggered_at"`
	CompletedAt time.Time      `json:"completedAt,omitzero" db:"completed_at"`
	Status      RollbackStatus `json:"status" db:"status"`
	IsAutomatic bool           `json:"isAutomatic" db:"is_automatic"`
}

// rolloutStep is one scripted rollout phase with its progress breadcrumb.
type rolloutStep struct {
	name     string
	progress int
}

// rolloutScript is the fixed step order driven by StartDeployment.
var rolloutScript = []rolloutStep{
	{"validation", 10},
	{"backup", 25},
	{"upload", 40},
	{"compile", 60},
	{"apply", 75},
	{"verify", 90},
	{"complete", 100},
}
