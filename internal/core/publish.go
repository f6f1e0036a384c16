package core

import (
	"context"
	"errors"
	"strings"

	"metax/pkg/domain"
)

const pidUnavailable = "Error when creating persistent identifier. Please try again later."

// PublishDataset publishes a draft. Publishing a draft of a published
// dataset merges it into the original and returns the original.
func (s *Service) PublishDataset(ctx context.Context, u User, id string) (domain.Dataset, Result, error) {
	var published domain.Dataset
	res, err := s.run(ctx, "dataset.publish", func(sc *scope) error {
		d, err := sc.dataset(id, false)
		if err != nil {
			return err
		}
		if err := requireEdit(sc.tx, u, d); err != nil {
			return err
		}
		published, err = s.publishInScope(sc, d, &d)
		return err
	})
	return published, res, err
}

// publishInScope runs the publishing steps for d. prev is the stored
// version of d, or nil when d is being created.
func (s *Service) publishInScope(sc *scope, d domain.Dataset, prev *domain.Dataset) (domain.Dataset, error) {
	if d.IsPublished() {
		// Publishing again re-saves the dataset as a new published revision.
		return s.save(sc, d, prev, saveOptions{})
	}
	if d.DraftOf != "" {
		orig, err := sc.dataset(d.DraftOf, false)
		if err != nil {
			return domain.Dataset{}, err
		}
		if prev != nil {
			// persist pending edits so the merge sees them
			stored, err := sc.tx.UpdateDataset(d.ID, func(cur *domain.Dataset) error {
				*cur = d
				return nil
			})
			if err != nil {
				return domain.Dataset{}, err
			}
			d = stored
		}
		return s.mergeDraft(sc, orig, d)
	}

	d.State = domain.StatePublished
	if d.PersistentIdentifier == "" {
		if err := ValidatePublished(d, catalogOf(sc.tx, d), false); err != nil {
			return domain.Dataset{}, err
		}
		if err := s.mintPID(sc, &d); err != nil {
			return domain.Dataset{}, err
		}
	}
	if d.Issued == "" {
		d.Issued = sc.now.Format("2006-01-02")
	}
	if prev != nil {
		if err := deleteDraftRevisions(sc, d.ID); err != nil {
			return domain.Dataset{}, err
		}
	}
	return s.save(sc, d, prev, saveOptions{})
}

func deleteDraftRevisions(sc *scope, datasetID string) error {
	for _, rev := range sc.tx.ListDatasetRevisions(datasetID) {
		if !strings.HasPrefix(rev.Reason, string(domain.StateDraft)+"-") {
			continue
		}
		if err := sc.tx.DeleteDatasetRevision(rev.ID); err != nil {
			return err
		}
	}
	return nil
}

// mintPID requests an identifier of the dataset's PID type when the dataset
// asks for one to be generated.
func (s *Service) mintPID(sc *scope, d *domain.Dataset) error {
	if d.PersistentIdentifier != "" || d.IsDraft() {
		return nil
	}
	if !d.GeneratePIDOnPublish && d.PIDType == "" {
		return nil
	}
	if d.PIDType == "" {
		d.PIDType = domain.PIDTypeURN
	}
	if err := validateCatalog(sc.tx, *d); err != nil {
		return err
	}
	if s.minter == nil {
		return domain.ServiceUnavailableError{Message: pidUnavailable, Err: errors.New("no pid minter configured")}
	}
	var (
		pid string
		err error
	)
	switch d.PIDType {
	case domain.PIDTypeURN:
		pid, err = s.minter.CreateURN(sc.ctx, d.ID)
	case domain.PIDTypeDOI:
		pid, err = s.minter.CreateDOI(sc.ctx, *d)
	default:
		return domain.NewValidationError("pid_type", "Unsupported PID type "+string(d.PIDType)+".")
	}
	if err != nil {
		s.log.Errorw("pid minting failed", "dataset", d.ID, "pid_type", d.PIDType, "error", err)
		return domain.ServiceUnavailableError{Message: pidUnavailable, Err: err}
	}
	d.PersistentIdentifier = pid
	d.GeneratePIDOnPublish = true
	return nil
}
