package core

import (
	"context"
	"fmt"
	"sort"

	"metax/pkg/domain"
)

// RevisionQuery picks a revision by reason name or publication number.
type RevisionQuery struct {
	// Name is a revision reason such as "published-2.0".
	Name string
	// Publication selects the latest revision with this published_revision.
	Publication int
}

func (s *Service) revisions(v domain.TransactionView, u User, id string) ([]domain.DatasetRevision, error) {
	d, ok := v.FindDataset(id)
	if !ok || !u.CanView(d, catalogOf(v, d)) {
		return nil, domain.NotFoundError{Entity: domain.EntityDataset, ID: id}
	}
	revs := v.ListDatasetRevisions(id)
	sort.SliceStable(revs, func(i, j int) bool { return revs[i].Created.Before(revs[j].Created) })
	return revs, nil
}

// ListRevisions returns the saved revisions of a dataset, oldest first.
func (s *Service) ListRevisions(ctx context.Context, u User, id string) ([]domain.DatasetRevision, error) {
	var out []domain.DatasetRevision
	err := s.view(ctx, func(v domain.TransactionView) error {
		var err error
		out, err = s.revisions(v, u, id)
		return err
	})
	return out, err
}

// GetRevision returns one revision of a dataset.
func (s *Service) GetRevision(ctx context.Context, u User, id string, q RevisionQuery) (domain.DatasetRevision, error) {
	var out domain.DatasetRevision
	err := s.view(ctx, func(v domain.TransactionView) error {
		revs, err := s.revisions(v, u, id)
		if err != nil {
			return err
		}
		found := false
		for _, r := range revs {
			switch {
			case q.Name != "" && r.Reason == q.Name:
			case q.Name == "" && q.Publication > 0 && r.Dataset.IsPublished() && r.PublishedRevision == q.Publication:
			default:
				continue
			}
			out, found = r, true
		}
		if !found {
			ref := q.Name
			if ref == "" {
				ref = fmt.Sprintf("publication %d", q.Publication)
			}
			return domain.NotFoundError{Entity: domain.EntityDatasetRevision, ID: id + " " + ref}
		}
		return nil
	})
	return out, err
}
