package persistence

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"

	"github.com/jmoiron/sqlx"

	"github.com/pandaura/pandaura/internal/errors"
	"github.com/pandaura/pandaura/internal/versioning"
)

// VersionRepository is the SQLite implementation of versioning.Repository.
type VersionRepository struct {
	db *sqlx.DB
}

// NewVersionRepository wraps db as a version-chain repository.
func NewVersionRepository(db *sqlx.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

// versionRow pairs the domain struct with its JSON-encoded approver list.
type versionRow struct {
	versioning.Version
	ApproversJSON string `db:"approvers"`
}

func newVersionRow(v *versioning.Version) (*versionRow, error) {
	approvers, err := json.Marshal(orEmptyApprovers(v.Approvers))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "persistence.newVersionRow", "failed to encode approvers")
	}
	return &versionRow{Version: *v, ApproversJSON: string(approvers)}, nil
}

func orEmptyApprovers(a []versioning.Approver) []versioning.Approver {
	if a == nil {
		return []versioning.Approver{}
	}
	return a
}

func (r *versionRow) domain() (*versioning.Version, error) {
	v := r.Version
	if err := json.Unmarshal([]byte(r.ApproversJSON), &v.Approvers); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "persistence.versionRow", "failed to decode approvers")
	}
	return &v, nil
}

const versionColumns = `id, project_id, branch_id, label, author, message, status,
	checksum, parent_version_id, approvals, approvals_required, approvers,
	signed, signature, signed_by, signed_at, original_size, compressed_size, created_at`

// InsertVersion writes the version and its file records in one transaction.
func (r *VersionRepository) InsertVersion(v *versioning.Version, files []versioning.VersionFile) error {
	const op = "persistence.InsertVersion"

	row, err := newVersionRow(v)
	if err != nil {
		return err
	}
	tx, err := r.db.Beginx()
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.NamedExec(`INSERT INTO versions (`+versionColumns+`) VALUES (
		:id, :project_id, :branch_id, :label, :author, :message, :status,
		:checksum, :parent_version_id, :approvals, :approvals_required, :approvers,
		:signed, :signature, :signed_by, :signed_at, :original_size, :compressed_size, :created_at)`,
		row); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to insert version")
	}
	for i := range files {
		if _, err := tx.NamedExec(`INSERT INTO version_files (
			id, version_id, path, file_type, change_type, lines_added, lines_deleted,
			size, sha256, storage_path, is_compressed, is_delta, diff_preview) VALUES (
			:id, :version_id, :path, :file_type, :change_type, :lines_added, :lines_deleted,
			:size, :sha256, :storage_path, :is_compressed, :is_delta, :diff_preview)`,
			&files[i]); err != nil {
			return errors.Wrap(err, errors.KindInternal, op, "failed to insert version file")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to commit version")
	}
	return nil
}

// GetVersion returns one version by id.
func (r *VersionRepository) GetVersion(id string) (*versioning.Version, error) {
	const op = "persistence.GetVersion"

	var row versionRow
	err := r.db.Get(&row, `SELECT `+versionColumns+` FROM versions WHERE id = ?`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundf(op, "version %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return row.domain()
}

// LatestVersion returns the newest version on a project branch.
func (r *VersionRepository) LatestVersion(projectID, branchID string) (*versioning.Version, error) {
	const op = "persistence.LatestVersion"

	var row versionRow
	err := r.db.Get(&row, `SELECT `+versionColumns+` FROM versions
		WHERE project_id = ? AND branch_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, projectID, branchID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound(op, "no versions on branch")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return row.domain()
}

// ListVersions returns a project's versions, newest first.
func (r *VersionRepository) ListVersions(projectID string) ([]*versioning.Version, error) {
	const op = "persistence.ListVersions"

	var rows []versionRow
	if err := r.db.Select(&rows, `SELECT `+versionColumns+` FROM versions
		WHERE project_id = ? ORDER BY created_at DESC, rowid DESC`, projectID); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	out := make([]*versioning.Version, 0, len(rows))
	for i := range rows {
		v, err := rows[i].domain()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// UpdateVersion rewrites a version's mutable columns.
func (r *VersionRepository) UpdateVersion(v *versioning.Version) error {
	const op = "persistence.UpdateVersion"

	row, err := newVersionRow(v)
	if err != nil {
		return err
	}
	res, err := r.db.NamedExec(`UPDATE versions SET
		status = :status, approvals = :approvals, approvals_required = :approvals_required,
		approvers = :approvers, signed = :signed, signature = :signature,
		signed_by = :signed_by, signed_at = :signed_at, message = :message
		WHERE id = :id`, row)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "update failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf(op, "version %s not found", v.ID)
	}
	return nil
}

// VersionFiles returns a version's file records ordered by path.
func (r *VersionRepository) VersionFiles(versionID string) ([]versioning.VersionFile, error) {
	const op = "persistence.VersionFiles"

	var files []versioning.VersionFile
	if err := r.db.Select(&files, `SELECT id, version_id, path, file_type, change_type,
		lines_added, lines_deleted, size, sha256, storage_path, is_compressed, is_delta, diff_preview
		FROM version_files WHERE version_id = ? ORDER BY path`, versionID); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return files, nil
}

// snapshotRow pairs the domain struct with its JSON-encoded tag list.
type snapshotRow struct {
	versioning.Snapshot
	TagsJSON string `db:"tags"`
}

func newSnapshotRow(s *versioning.Snapshot) (*snapshotRow, error) {
	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "persistence.newSnapshotRow", "failed to encode tags")
	}
	return &snapshotRow{Snapshot: *s, TagsJSON: string(encoded)}, nil
}

func (r *snapshotRow) domain() (*versioning.Snapshot, error) {
	s := r.Snapshot
	if err := json.Unmarshal([]byte(r.TagsJSON), &s.Tags); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "persistence.snapshotRow", "failed to decode tags")
	}
	return &s, nil
}

const snapshotColumns = `id, project_id, version_id, name, description, tags, created_by, created_at`

// InsertSnapshot writes one snapshot.
func (r *VersionRepository) InsertSnapshot(s *versioning.Snapshot) error {
	const op = "persistence.InsertSnapshot"

	row, err := newSnapshotRow(s)
	if err != nil {
		return err
	}
	if _, err := r.db.NamedExec(`INSERT INTO snapshots (`+snapshotColumns+`) VALUES (
		:id, :project_id, :version_id, :name, :description, :tags, :created_by, :created_at)`,
		row); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to insert snapshot")
	}
	return nil
}

// GetSnapshot returns one snapshot by id.
func (r *VersionRepository) GetSnapshot(id string) (*versioning.Snapshot, error) {
	const op = "persistence.GetSnapshot"

	var row snapshotRow
	err := r.db.Get(&row, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundf(op, "snapshot %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return row.domain()
}

// SnapshotByName returns a project's snapshot with the given name.
func (r *VersionRepository) SnapshotByName(projectID, name string) (*versioning.Snapshot, error) {
	const op = "persistence.SnapshotByName"

	var row snapshotRow
	err := r.db.Get(&row, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE project_id = ? AND name = ?`, projectID, name)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundf(op, "snapshot %q not found", name)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return row.domain()
}

// ListSnapshots returns a project's snapshots, newest first.
func (r *VersionRepository) ListSnapshots(projectID string) ([]*versioning.Snapshot, error) {
	const op = "persistence.ListSnapshots"

	var rows []snapshotRow
	if err := r.db.Select(&rows, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE project_id = ? ORDER BY created_at DESC, rowid DESC`, projectID); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	out := make([]*versioning.Snapshot, 0, len(rows))
	for i := range rows {
		s, err := rows[i].domain()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// InsertPromotion appends one stage transition.
func (r *VersionRepository) InsertPromotion(p *versioning.Promotion) error {
	const op = "persistence.InsertPromotion"

	if _, err := r.db.NamedExec(`INSERT INTO promotions (
		id, snapshot_id, from_stage, to_stage, promoted_by, promoted_at, notes, checks_passed) VALUES (
		:id, :snapshot_id, :from_stage, :to_stage, :promoted_by, :promoted_at, :notes, :checks_passed)`,
		p); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to insert promotion")
	}
	return nil
}

// Promotions returns a snapshot's stage history in promotion order.
func (r *VersionRepository) Promotions(snapshotID string) ([]*versioning.Promotion, error) {
	const op = "persistence.Promotions"

	var out []*versioning.Promotion
	if err := r.db.Select(&out, `SELECT id, snapshot_id, from_stage, to_stage,
		promoted_by, promoted_at, notes, checks_passed
		FROM promotions WHERE snapshot_id = ? ORDER BY promoted_at, rowid`, snapshotID); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return out, nil
}

// releaseRow pairs the domain struct with its JSON-encoded promotion list.
type releaseRow struct {
	versioning.Release
	PromotionsJSON string `db:"promotions"`
}

func newReleaseRow(rel *versioning.Release) (*releaseRow, error) {
	promotions := rel.Promotions
	if promotions == nil {
		promotions = []versioning.ReleasePromotion{}
	}
	encoded, err := json.Marshal(promotions)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "persistence.newReleaseRow", "failed to encode promotions")
	}
	return &releaseRow{Release: *rel, PromotionsJSON: string(encoded)}, nil
}

func (r *releaseRow) domain() (*versioning.Release, error) {
	rel := r.Release
	if err := json.Unmarshal([]byte(r.PromotionsJSON), &rel.Promotions); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "persistence.releaseRow", "failed to decode promotions")
	}
	return &rel, nil
}

const releaseColumns = `id, project_id, snapshot_id, version_id, name, version_label,
	environment, bundle_path, bundle_size, bundle_checksum, signed, signature,
	signed_by, status, promotions, linked_deploys, last_deployed_at, created_by, created_at`

// InsertRelease writes one release.
func (r *VersionRepository) InsertRelease(rel *versioning.Release) error {
	const op = "persistence.InsertRelease"

	row, err := newReleaseRow(rel)
	if err != nil {
		return err
	}
	if _, err := r.db.NamedExec(`INSERT INTO releases (`+releaseColumns+`) VALUES (
		:id, :project_id, :snapshot_id, :version_id, :name, :version_label,
		:environment, :bundle_path, :bundle_size, :bundle_checksum, :signed, :signature,
		:signed_by, :status, :promotions, :linked_deploys, :last_deployed_at, :created_by, :created_at)`,
		row); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to insert release")
	}
	return nil
}

// GetRelease returns one release by id.
func (r *VersionRepository) GetRelease(id string) (*versioning.Release, error) {
	const op = "persistence.GetRelease"

	var row releaseRow
	err := r.db.Get(&row, `SELECT `+releaseColumns+` FROM releases WHERE id = ?`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundf(op, "release %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return row.domain()
}

// ListReleases returns a project's releases, newest first.
func (r *VersionRepository) ListReleases(projectID string) ([]*versioning.Release, error) {
	const op = "persistence.ListReleases"

	var rows []releaseRow
	if err := r.db.Select(&rows, `SELECT `+releaseColumns+` FROM releases
		WHERE project_id = ? ORDER BY created_at DESC, rowid DESC`, projectID); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	out := make([]*versioning.Release, 0, len(rows))
	for i := range rows {
		rel, err := rows[i].domain()
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

// UpdateRelease rewrites a release's mutable columns.
func (r *VersionRepository) UpdateRelease(rel *versioning.Release) error {
	const op = "persistence.UpdateRelease"

	row, err := newReleaseRow(rel)
	if err != nil {
		return err
	}
	res, err := r.db.NamedExec(`UPDATE releases SET
		signed = :signed, signature = :signature, signed_by = :signed_by,
		status = :status, promotions = :promotions, linked_deploys = :linked_deploys,
		last_deployed_at = :last_deployed_at
		WHERE id = :id`, row)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "update failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf(op, "release %s not found", rel.ID)
	}
	return nil
}

// AppendChangelog writes one audit entry.
func (r *VersionRepository) AppendChangelog(e *versioning.ChangelogEntry) error {
	const op = "persistence.AppendChangelog"

	if _, err := r.db.NamedExec(`INSERT INTO changelog (id, version_id, action, actor, details, created_at)
		VALUES (:id, :version_id, :action, :actor, :details, :created_at)`, e); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to insert changelog entry")
	}
	return nil
}

// Changelog returns a version's audit entries in append order.
func (r *VersionRepository) Changelog(versionID string) ([]*versioning.ChangelogEntry, error) {
	const op = "persistence.Changelog"

	var out []*versioning.ChangelogEntry
	if err := r.db.Select(&out, `SELECT id, version_id, action, actor, details, created_at
		FROM changelog WHERE version_id = ? ORDER BY created_at, rowid`, versionID); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "query failed")
	}
	return out, nil
}
