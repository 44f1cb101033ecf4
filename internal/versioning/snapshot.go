package versioning

import (
	"fmt"

	"github.com/pandaura/pandaura/internal/errors"
)

// requiredPredecessor names the promotion that must already exist in a
// snapshot's history before entering the keyed stage.
var requiredPredecessor = map[Stage]Stage{
	StageStaging: StageQA,
	StageProd:    StageStaging,
}

// CreateSnapshotParams collects the CreateSnapshot arguments.
type CreateSnapshotParams struct {
	ProjectID   string
	VersionID   string
	Name        string
	Description string
	Tags        []string
	CreatedBy   string
}

// CreateSnapshot points a named snapshot at one version. Names are unique
// within a project; no file content is copied.
func (s *Service) CreateSnapshot(p CreateSnapshotParams) (*Snapshot, error) {
	const op = "versioning.CreateSnapshot"

	if p.Name == "" {
		return nil, errors.Validation(op, "snapshot name is required")
	}
	if _, err := s.repo.GetVersion(p.VersionID); err != nil {
		return nil, err
	}
	existing, err := s.repo.SnapshotByName(p.ProjectID, p.Name)
	if err != nil && !errors.IsKind(err, errors.KindNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, errors.Conflict(op, "snapshot name already exists in this project").
			WithDetail("name", p.Name)
	}

	snap := &Snapshot{
		ID:          s.newID(),
		ProjectID:   p.ProjectID,
		VersionID:   p.VersionID,
		Name:        p.Name,
		Description: p.Description,
		Tags:        p.Tags,
		CreatedBy:   p.CreatedBy,
		CreatedAt:   s.now(),
	}
	if err := s.repo.InsertSnapshot(snap); err != nil {
		return nil, err
	}
	s.logger.Info("snapshot created", "project", p.ProjectID, "name", p.Name, "version", p.VersionID)
	return snap, nil
}

// GetSnapshot returns one snapshot.
func (s *Service) GetSnapshot(id string) (*Snapshot, error) {
	return s.repo.GetSnapshot(id)
}

// ListSnapshots returns a project's snapshots.
func (s *Service) ListSnapshots(projectID string) ([]*Snapshot, error) {
	return s.repo.ListSnapshots(projectID)
}

// SnapshotPromotions returns a snapshot's promotion history.
func (s *Service) SnapshotPromotions(snapshotID string) ([]*Promotion, error) {
	return s.repo.Promotions(snapshotID)
}

// Promote records a stage transition for a snapshot. Stages move strictly
// forward over dev < qa < staging < prod; staging requires a prior qa
// promotion and prod a prior staging one. Promotion into staging or prod
// additionally mints a release for the snapshot's version, which must
// already be staged or released.
func (s *Service) Promote(snapshotID string, toStage Stage, promotedBy, notes string) (*Promotion, *Release, error) {
	const op = "versioning.Promote"

	if stageRank(toStage) == 0 {
		return nil, nil, errors.Validation(op, "unknown target stage").WithDetail("stage", string(toStage))
	}
	snap, err := s.repo.GetSnapshot(snapshotID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.repo.Promotions(snapshotID)
	if err != nil {
		return nil, nil, err
	}

	fromStage := StageDev
	if len(history) > 0 {
		fromStage = history[len(history)-1].ToStage
	}
	if stageRank(toStage) <= stageRank(fromStage) {
		return nil, nil, errors.Conflict(op, "promotions must move strictly forward").
			WithDetail("from", string(fromStage)).
			WithDetail("to", string(toStage))
	}
	if required, ok := requiredPredecessor[toStage]; ok {
		if !hasPromotionTo(history, required) {
			return nil, nil, errors.Precondition(op, "missing predecessor promotion").
				WithDetail("required", string(required)).
				WithDetail("to", string(toStage)).
				WithHint(fmt.Sprintf("promote to %s first", required))
		}
	}

	// Entering staging or prod mints a release, so the referenced version
	// must be releasable before the promotion row is written. Otherwise a
	// failed promotion would still count in the history.
	var version *Version
	if toStage == StageStaging || toStage == StageProd {
		version, err = s.repo.GetVersion(snap.VersionID)
		if err != nil {
			return nil, nil, err
		}
		if version.Status != StatusStaged && version.Status != StatusReleased {
			return nil, nil, errors.Precondition(op, "promotion requires a staged or released version").
				WithDetail("status", string(version.Status)).
				WithHint("stage the version first")
		}
	}

	promotion := &Promotion{
		ID:           s.newID(),
		SnapshotID:   snapshotID,
		FromStage:    fromStage,
		ToStage:      toStage,
		PromotedBy:   promotedBy,
		PromotedAt:   s.now(),
		Notes:        notes,
		ChecksPassed: true,
	}
	if err := s.repo.InsertPromotion(promotion); err != nil {
		return nil, nil, err
	}

	var release *Release
	if version != nil {
		release, err = s.CreateRelease(CreateReleaseParams{
			ProjectID:   snap.ProjectID,
			SnapshotID:  snap.ID,
			VersionID:   snap.VersionID,
			Name:        fmt.Sprintf("%s-%s-%s", snap.Name, version.Label, toStage),
			Environment: string(toStage),
			CreatedBy:   promotedBy,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	s.logger.Info("snapshot promoted",
		"snapshot", snap.Name,
		"from", fromStage,
		"to", toStage,
		"release", release != nil)
	return promotion, release, nil
}

func hasPromotionTo(history []*Promotion, stage Stage) bool {
	for _, p := range history {
		if p.ToStage == stage {
			return true
		}
	}
	return false
}
