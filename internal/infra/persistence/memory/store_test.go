package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"metax/pkg/domain"
)

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindDataset("missing"); ok {
			t.Fatalf("expected missing dataset lookup")
		}
		created, err := tx.CreateDataset(domain.Dataset{Title: domain.MultiLang{"en": "Test"}, State: domain.StateDraft})
		if err != nil {
			return err
		}
		if created.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if created.Created.IsZero() || !created.Modified.Equal(created.Created) {
			t.Fatalf("expected timestamps, got %+v", created.Base)
		}
		if len(tx.Snapshot().ListDatasets()) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	countDatasets := func() int {
		var n int
		_ = store.View(ctx, func(v domain.TransactionView) error {
			n = len(v.ListDatasets())
			return nil
		})
		return n
	}
	if countDatasets() != 1 {
		t.Fatalf("expected persisted dataset")
	}
	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if countDatasets() != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if countDatasets() != 1 {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil || store.NowFunc() == nil {
		t.Fatalf("expected engine and clock")
	}
}

func TestStoreRollbackOnError(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	boom := errors.New("boom")
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateFile(domain.File{Filename: "a"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if len(v.ListFiles()) != 0 {
			t.Fatalf("expected rollback")
		}
		return nil
	})
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	res, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateDataCatalog(domain.DataCatalog{Title: domain.MultiLang{"en": "c"}})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected blocking result")
	}
	_ = store.View(context.Background(), func(v domain.TransactionView) error {
		if len(v.ListDataCatalogs()) != 0 {
			t.Fatalf("blocked transaction must not commit")
		}
		return nil
	})
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	if len(changes) == 0 {
		return domain.Result{}, nil
	}
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}

func TestStoreUpdateKeepsIdentityAndTracksChanges(t *testing.T) {
	store := NewStore(nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return now })
	ctx := context.Background()
	var id string
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		f, err := tx.CreateFile(domain.File{Filename: "a.txt", DirectoryPath: "/"})
		id = f.ID
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	now = now.Add(time.Hour)
	_, touched, err := store.RunTracked(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateFile(id, func(f *domain.File) error {
			f.ID = "hijack"
			f.Size = 10
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(touched) != 1 || touched[0] != domain.EntityFile {
		t.Fatalf("unexpected touched buckets %v", touched)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		f, ok := v.FindFile(id)
		if !ok || f.Size != 10 || !f.Modified.Equal(now) || f.Created.Equal(now) {
			t.Fatalf("unexpected file %+v", f)
		}
		return nil
	})
}

func TestStoreUpdateMissingAndDuplicateCreate(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateDataset("nope", func(*domain.Dataset) error { return nil })
		return err
	})
	var nf domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateConcept(domain.Concept{Base: domain.Base{ID: "c1"}}); err != nil {
			return err
		}
		_, err := tx.CreateConcept(domain.Concept{Base: domain.Base{ID: "c1"}})
		return err
	})
	var conflict domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestViewIsIsolatedFromLaterCommits(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	err := store.View(ctx, func(v domain.TransactionView) error {
		_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, err := tx.CreateOrganization(domain.Organization{PrefLabel: domain.MultiLang{"en": "o"}})
			return err
		})
		if err != nil {
			return err
		}
		if len(v.ListOrganizations()) != 0 {
			t.Fatalf("view observed a later commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
