package deploy

// Repository is the persistence port for deployment records. The SQL
// implementation lives in internal/persistence.
type Repository interface {
	InsertDeployment(rec *Record) error
	GetDeployment(id string) (*Record, error)
	UpdateDeployment(rec *Record) error
	ListDeployments(projectID string) ([]*Record, error)
	// LatestSuccessful returns the most recent success for a project and
	// environment, or a not-found error.
	LatestSuccessful(projectID, environment string) (*Record, error)

	InsertApproval(a *Approval) error
	GetApproval(id string) (*Approval, error)
	UpdateApproval(a *Approval) error
	Approvals(deployID string) ([]*Approval, error)

	ReplaceChecks(deployID string, checks []Check) error
	Checks(deployID string) ([]Check, error)

	AppendLog(l *Log) error
	Logs(deployID string) ([]*Log, error)

	InsertRollback(r *Rollback) error
	UpdateRollback(r *Rollback) error
	Rollbacks(deployID string) ([]*Rollback, error)
}
