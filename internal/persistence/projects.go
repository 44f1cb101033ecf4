package persistence

import (
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pandaura/pandaura/internal/errors"
)

// Project is one workspace: a tag database plus logic files.
type Project struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// Tag is one entry in a project's tag database.
type Tag struct {
	ID           string    `json:"id" db:"id"`
	ProjectID    string    `json:"projectId" db:"project_id"`
	Name         string    `json:"name" db:"name"`
	DataType     string    `json:"dataType" db:"data_type"`
	Address      string    `json:"address,omitempty" db:"address"`
	DefaultValue string    `json:"defaultValue,omitempty" db:"default_value"`
	Comment      string    `json:"comment,omitempty" db:"comment"`
	IsCritical   bool      `json:"isCritical" db:"is_critical"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// LogicFile is one editable ST source file in a project.
type LogicFile struct {
	ID        string    `json:"id" db:"id"`
	ProjectID string    `json:"projectId" db:"project_id"`
	Path      string    `json:"path" db:"path"`
	Content   string    `json:"content" db:"content"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Session is one live editing session against a project.
type Session struct {
	ID         string    `json:"id" db:"id"`
	ProjectID  string    `json:"projectId" db:"project_id"`
	UserName   string    `json:"userName" db:"user_name"`
	StartedAt  time.Time `json:"startedAt" db:"started_at"`
	LastSeenAt time.Time `json:"lastSeenAt" db:"last_seen_at"`
}

// ProjectStore is the SQLite-backed project surface. Deleting a project
// cascades to its tags, logic files, sessions, and version chain.
type ProjectStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewProjectStore wraps db as a project store.
func NewProjectStore(db *sqlx.DB) *ProjectStore {
	return &ProjectStore{db: db, now: time.Now}
}

// WithClock overrides the store's wall clock.
func (s *ProjectStore) WithClock(now func() time.Time) *ProjectStore {
	s.now = now
	return s
}

// CreateProject inserts one project.
func (s *ProjectStore) CreateProject(p *Project) error {
	const op = "persistence.CreateProject"

	if p.ID == "" || p.Name == "" {
		return errors.Validation(op, "project id and name are required")
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if _, err := s.db.NamedExec(`INSERT INTO projects (id, name, description, created_at, updated_at)
		VALUES (:id, :name, :description, :created_at, :updated_at)`, p); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to insert project")
	}
	return nil
}

// GetProject returns one project by id.
func (s *ProjectStore) GetProject(id string) (*Project, error) {
	const op = "persistence.GetProject"

	var p Project
	err := s.db.Get(&p, `SELECT id, name, description, created_at, updated_at FROM projects WHERE id = ?`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundf(op, "project %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return &p, nil
}

// ListProjects returns all projects by name.
func (s *ProjectStore) ListProjects() ([]*Project, error) {
	const op = "persistence.ListProjects"

	var out []*Project
	if err := s.db.Select(&out, `SELECT id, name, description, created_at, updated_at
		FROM projects ORDER BY name`); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return out, nil
}

// UpdateProject rewrites a project's name and description.
func (s *ProjectStore) UpdateProject(p *Project) error {
	const op = "persistence.UpdateProject"

	p.UpdatedAt = s.now()
	res, err := s.db.NamedExec(`UPDATE projects SET name = :name, description = :description,
		updated_at = :updated_at WHERE id = :id`, p)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "update failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf(op, "project %s not found", p.ID)
	}
	return nil
}

// DeleteProject removes a project and everything hanging off it.
func (s *ProjectStore) DeleteProject(id string) error {
	const op = "persistence.DeleteProject"

	res, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "delete failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf(op, "project %s not found", id)
	}
	return nil
}

// UpsertTag inserts or rewrites one tag, keyed by project and name.
func (s *ProjectStore) UpsertTag(t *Tag) error {
	const op = "persistence.UpsertTag"

	if t.ProjectID == "" || t.Name == "" || t.DataType == "" {
		return errors.Validation(op, "projectId, name, and dataType are required")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if _, err := s.db.NamedExec(`INSERT INTO tags
		(id, project_id, name, data_type, address, default_value, comment, is_critical, created_at)
		VALUES (:id, :project_id, :name, :data_type, :address, :default_value, :comment, :is_critical, :created_at)
		ON CONFLICT (project_id, name) DO UPDATE SET
			data_type = excluded.data_type,
			address = excluded.address,
			default_value = excluded.default_value,
			comment = excluded.comment,
			is_critical = excluded.is_critical`, t); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to upsert tag")
	}
	return nil
}

// ListTags returns a project's tag database ordered by name.
func (s *ProjectStore) ListTags(projectID string) ([]*Tag, error) {
	const op = "persistence.ListTags"

	var out []*Tag
	if err := s.db.Select(&out, `SELECT id, project_id, name, data_type, address,
		default_value, comment, is_critical, created_at
		FROM tags WHERE project_id = ? ORDER BY name`, projectID); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return out, nil
}

// DeleteTag removes one tag by project and name.
func (s *ProjectStore) DeleteTag(projectID, name string) error {
	const op = "persistence.DeleteTag"

	res, err := s.db.Exec(`DELETE FROM tags WHERE project_id = ? AND name = ?`, projectID, name)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "delete failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf(op, "tag %q not found", name)
	}
	return nil
}

// SaveLogicFile inserts or rewrites one logic file, keyed by project and
// path.
func (s *ProjectStore) SaveLogicFile(f *LogicFile) error {
	const op = "persistence.SaveLogicFile"

	if f.ProjectID == "" || f.Path == "" {
		return errors.Validation(op, "projectId and path are required")
	}
	f.UpdatedAt = s.now()
	if _, err := s.db.NamedExec(`INSERT INTO logic_files (id, project_id, path, content, updated_at)
		VALUES (:id, :project_id, :path, :content, :updated_at)
		ON CONFLICT (project_id, path) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at`, f); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to save logic file")
	}
	return nil
}

// GetLogicFile returns one logic file by project and path.
func (s *ProjectStore) GetLogicFile(projectID, path string) (*LogicFile, error) {
	const op = "persistence.GetLogicFile"

	var f LogicFile
	err := s.db.Get(&f, `SELECT id, project_id, path, content, updated_at
		FROM logic_files WHERE project_id = ? AND path = ?`, projectID, path)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundf(op, "logic file %q not found", path)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return &f, nil
}

// ListLogicFiles returns a project's logic files ordered by path.
func (s *ProjectStore) ListLogicFiles(projectID string) ([]*LogicFile, error) {
	const op = "persistence.ListLogicFiles"

	var out []*LogicFile
	if err := s.db.Select(&out, `SELECT id, project_id, path, content, updated_at
		FROM logic_files WHERE project_id = ? ORDER BY path`, projectID); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return out, nil
}

// DeleteLogicFile removes one logic file by project and path.
func (s *ProjectStore) DeleteLogicFile(projectID, path string) error {
	const op = "persistence.DeleteLogicFile"

	res, err := s.db.Exec(`DELETE FROM logic_files WHERE project_id = ? AND path = ?`, projectID, path)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "delete failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf(op, "logic file %q not found", path)
	}
	return nil
}

// CreateSession registers one live session.
func (s *ProjectStore) CreateSession(sess *Session) error {
	const op = "persistence.CreateSession"

	if sess.ProjectID == "" || sess.UserName == "" {
		return errors.Validation(op, "projectId and userName are required")
	}
	now := s.now()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	sess.LastSeenAt = now
	if _, err := s.db.NamedExec(`INSERT INTO sessions (id, project_id, user_name, started_at, last_seen_at)
		VALUES (:id, :project_id, :user_name, :started_at, :last_seen_at)`, sess); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to insert session")
	}
	return nil
}

// TouchSession refreshes a session's last-seen time.
func (s *ProjectStore) TouchSession(id string) error {
	const op = "persistence.TouchSession"

	res, err := s.db.Exec(`UPDATE sessions SET last_seen_at = ? WHERE id = ?`, s.now(), id)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "update failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf(op, "session %s not found", id)
	}
	return nil
}

// ListSessions returns a project's sessions, most recently seen first.
func (s *ProjectStore) ListSessions(projectID string) ([]*Session, error) {
	const op = "persistence.ListSessions"

	var out []*Session
	if err := s.db.Select(&out, `SELECT id, project_id, user_name, started_at, last_seen_at
		FROM sessions WHERE project_id = ? ORDER BY last_seen_at DESC`, projectID); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return out, nil
}

// DeleteSession removes one session.
func (s *ProjectStore) DeleteSession(id string) error {
	const op = "persistence.DeleteSession"

	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "delete failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf(op, "session %s not found", id)
	}
	return nil
}

// PruneSessions removes sessions idle beyond maxIdle and reports how many
// were dropped.
func (s *ProjectStore) PruneSessions(maxIdle time.Duration) (int, error) {
	const op = "persistence.PruneSessions"

	cutoff := s.now().Add(-maxIdle)
	res, err := s.db.Exec(`DELETE FROM sessions WHERE last_seen_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, op, "delete failed")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
