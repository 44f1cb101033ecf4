package versioning

// Repository is the persistence port for the version chain. The SQL
// implementation lives in internal/persistence; tests use an in-memory one.
type Repository interface {
	// Versions.
	InsertVersion(v *Version, files []VersionFile) error
	GetVersion(id string) (*Version, error)
	LatestVersion(projectID, branchID string) (*Version, error)
	ListVersions(projectID string) ([]*Version, error)
	UpdateVersion(v *Version) error
	VersionFiles(versionID string) ([]VersionFile, error)

	// Snapshots and promotions.
	InsertSnapshot(s *Snapshot) error
	GetSnapshot(id string) (*Snapshot, error)
	SnapshotByName(projectID, name string) (*Snapshot, error)
	ListSnapshots(projectID string) ([]*Snapshot, error)
	InsertPromotion(p *Promotion) error
	Promotions(snapshotID string) ([]*Promotion, error)

	// Releases.
	InsertRelease(r *Release) error
	GetRelease(id string) (*Release, error)
	ListReleases(projectID string) ([]*Release, error)
	UpdateRelease(r *Release) error

	// Changelog.
	AppendChangelog(e *ChangelogEntry) error
	Changelog(versionID string) ([]*ChangelogEntry, error)
}
