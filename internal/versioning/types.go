// Package versioning implements the content-addressed version chain:
// immutable versions with per-file storage records, snapshots, stage
// promotions, and signed release bundles.
package versioning

import "time"

// Status is the version lifecycle state.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusStaged     Status = "staged"
	StatusReleased   Status = "released"
	StatusDeprecated Status = "deprecated"
)

// validTransitions is the only permitted status order.
var validTransitions = map[Status]Status{
	StatusDraft:    StatusStaged,
	StatusStaged:   StatusReleased,
	StatusReleased: StatusDeprecated,
}

// Stage is a promotion environment. Stages are strictly ordered.
type Stage string

const (
	StageDev     Stage = "dev"
	StageQA      Stage = "qa"
	StageStaging Stage = "staging"
	StageProd    Stage = "prod"
)

// stageRank orders promotion stages; unknown stages rank below dev.
func stageRank(s Stage) int {
	switch s {
	case StageDev:
		return 1
	case StageQA:
		return 2
	case StageStaging:
		return 3
	case StageProd:
		return 4
	default:
		return 0
	}
}

// ChangeType classifies a file relative to the parent version.
type ChangeType string

const (
	ChangeAdded     ChangeType = "added"
	ChangeModified  ChangeType = "modified"
	ChangeDeleted   ChangeType = "deleted"
	ChangeUnchanged ChangeType = "unchanged"
)

// Approver is one recorded version approval.
type Approver struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// Version is an immutable capture of a project's files on a branch.
type Version struct {
	ID              string     `json:"id" db:"id"`
	ProjectID       string     `json:"projectId" db:"project_id"`
	BranchID        string     `json:"branchId" db:"branch_id"`
	Label           string     `json:"label" db:"label"`
	Author          string     `json:"author" db:"author"`
	Message         string     `json:"message" db:"message"`
	Status          Status     `json:"status" db:"status"`
	Checksum        string     `json:"checksum" db:"checksum"`
	ParentVersionID string     `json:"parentVersionId,omitempty" db:"parent_version_id"`
	Approvals       int        `json:"approvals" db:"approvals"`
	ApprovalsNeeded int        `json:"approvalsRequired" db:"approvals_required"`
	Approvers       []Approver `json:"approvers" db:"-"`
	Signed          bool       `json:"signed" db:"signed"`
	Signature       string     `json:"signature,omitempty" db:"signature"`
	SignedBy        string     `json:"signedBy,omitempty" db:"signed_by"`
	SignedAt        time.Time  `json:"signedAt,omitzero" db:"signed_at"`
	OriginalSize    int64      `json:"originalSize" db:"original_size"`
	CompressedSize  int64      `json:"compressedSize" db:"compressed_size"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
}

// VersionFile is one file record inside a version.
type VersionFile struct {
	ID           string     `json:"id" db:"id"`
	VersionID    string     `json:"versionId" db:"version_id"`
	Path         string     `json:"path" db:"path"`
	FileType     string     `json:"fileType" db:"file_type"`
	ChangeType   ChangeType `json:"changeType" db:"change_type"`
	LinesAdded   int        `json:"linesAdded" db:"lines_added"`
	LinesDeleted int        `json:"linesDeleted" db:"lines_deleted"`
	Size         int64      `json:"size" db:"size"`
	SHA256       string     `json:"sha256" db:"sha256"`
	StoragePath  string     `json:"storagePath,omitempty" db:"storage_path"`
	IsCompressed bool       `json:"isCompressed" db:"is_compressed"`
	IsDelta      bool       `json:"isDelta" db:"is_delta"`
	DiffPreview  string     `json:"diffPreview,omitempty" db:"diff_preview"`
}

// Snapshot is a named pointer to one version. Metadata is mutable, the
// referenced version is not.
type Snapshot struct {
	ID          string    `json:"id" db:"id"`
	ProjectID   string    `json:"projectId" db:"project_id"`
	VersionID   string    `json:"versionId" db:"version_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	Tags        []string  `json:"tags,omitempty" db:"-"`
	CreatedBy   string    `json:"createdBy" db:"created_by"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// Promotion is an immutable stage transition record for a snapshot.
type Promotion struct {
	ID           string    `json:"id" db:"id"`
	SnapshotID   string    `json:"snapshotId" db:"snapshot_id"`
	FromStage    Stage     `json:"fromStage" db:"from_stage"`
	ToStage      Stage     `json:"toStage" db:"to_stage"`
	PromotedBy   string    `json:"promotedBy" db:"promoted_by"`
	PromotedAt   time.Time `json:"promotedAt" db:"promoted_at"`
	Notes        string    `json:"notes,omitempty" db:"notes"`
	ChecksPassed bool      `json:"checksPassed" db:"checks_passed"`
}

// ReleaseStatus is the release lifecycle state.
type ReleaseStatus string

const (
	ReleaseActive     ReleaseStatus = "active"
	ReleaseDeprecated ReleaseStatus = "deprecated"
	ReleaseArchived   ReleaseStatus = "archived"
)

// ReleasePromotion is one environment promotion recorded on a release.
type ReleasePromotion struct {
	Environment string    `json:"environment"`
	PromotedBy  string    `json:"promotedBy"`
	PromotedAt  time.Time `json:"promotedAt"`
}

// Release is an immutable signed bundle referencing a snapshot's version.
type Release struct {
	ID             string             `json:"id" db:"id"`
	ProjectID      string             `json:"projectId" db:"project_id"`
	SnapshotID     string             `json:"snapshotId" db:"snapshot_id"`
	VersionID      string             `json:"versionId" db:"version_id"`
	Name           string             `json:"name" db:"name"`
	VersionLabel   string             `json:"version" db:"version_label"`
	Environment    string             `json:"environment" db:"environment"`
	BundlePath     string             `json:"bundlePath" db:"bundle_path"`
	BundleSize     int64              `json:"bundleSize" db:"bundle_size"`
	BundleChecksum string             `json:"bundleChecksum" db:"bundle_checksum"`
	Signed         bool               `json:"signed" db:"signed"`
	Signature      string             `json:"signature" db:"signature"`
	SignedBy       string             `json:"signedBy" db:"signed_by"`
	Status         ReleaseStatus      `json:"status" db:"status"`
	Promotions     []ReleasePromotion `json:"promotions,omitempty" db:"-"`
	LinkedDeploys  int                `json:"linkedDeploys" db:"linked_deploys"`
	LastDeployedAt time.Time          `json:"lastDeployedAt,omitzero" db:"last_deployed_at"`
	CreatedBy      string             `json:"createdBy" db:"created_by"`
	CreatedAt      time.Time          `json:"createdAt" db:"created_at"`
}

// ChangelogEntry is one append-only audit record for a version.
type ChangelogEntry struct {
	ID        string    `json:"id" db:"id"`
	VersionID string    `json:"versionId" db:"version_id"`
	Action    string    `json:"action" db:"action"`
	Actor     string    `json:"actor" db:"actor"`
	Details   string    `json:"details,omitempty" db:"details"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
