package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"metax/internal/core"
	"metax/internal/infra/persistence/memory"
	"metax/internal/logging"
	"metax/pkg/domain"
)

func renderTitle(calls *int) RenderFunc {
	return func(_ context.Context, d domain.Dataset) ([]byte, error) {
		*calls++
		return json.Marshal(d.Title)
	}
}

func TestRender(t *testing.T) {
	c := New(2, logging.Test(t))
	ctx := context.Background()
	modified := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := domain.Dataset{Base: domain.Base{ID: "a", Modified: modified}, Title: domain.MultiLang{"en": "A"}}

	var calls int
	body, err := c.Render(ctx, d, renderTitle(&calls))
	require.NoError(t, err)
	require.JSONEq(t, `{"en": "A"}`, string(body))
	_, err = c.Render(ctx, d, renderTitle(&calls))
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	// A newer modification time is a miss.
	d.Modified = modified.Add(time.Second)
	d.Title = domain.MultiLang{"en": "B"}
	body, err = c.Render(ctx, d, renderTitle(&calls))
	require.NoError(t, err)
	require.JSONEq(t, `{"en": "B"}`, string(body))
	require.Equal(t, 2, calls)

	c.DatasetChanged(ctx, core.DatasetEvent{Kind: core.EventUpdated, Dataset: domain.Dataset{Base: domain.Base{ID: "draft"}, DraftOf: "a"}})
	_, ok := c.Get(d)
	require.False(t, ok)
	require.Equal(t, Stats{Size: 0, Hits: 1, Misses: 3}, c.Stats())

	_, err = c.Render(ctx, d, func(context.Context, domain.Dataset) ([]byte, error) { return nil, errors.New("boom") })
	require.EqualError(t, err, "boom")
}

func TestDisabled(t *testing.T) {
	c := New(0, nil)
	require.Nil(t, c)
	var calls int
	d := domain.Dataset{Base: domain.Base{ID: "a"}}
	_, err := c.Render(context.Background(), d, renderTitle(&calls))
	require.NoError(t, err)
	_, err = c.Render(context.Background(), d, renderTitle(&calls))
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	c.DatasetChanged(context.Background(), core.DatasetEvent{Dataset: d})
	require.Equal(t, Stats{}, c.Stats())
}

func TestWarm(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(core.NewDefaultRulesEngine())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for i, st := range []domain.State{domain.StatePublished, domain.StatePublished, domain.StateDraft, domain.StatePublished} {
			if _, err := tx.CreateDataset(domain.Dataset{
				Base:  domain.Base{ID: string(rune('a' + i)), Created: base, Modified: base.Add(time.Duration(i) * time.Hour)},
				Title: domain.MultiLang{"en": "x"},
				State: st,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	c := New(2, logging.Test(t))
	var calls int
	n, err := c.Warm(ctx, store, renderTitle(&calls))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	for id, want := range map[string]bool{"d": true, "b": true, "a": false, "c": false} {
		_, ok := c.lru.Peek(id)
		require.Equal(t, want, ok, id)
	}

	n, err = c.Warm(ctx, store, renderTitle(&calls))
	require.NoError(t, err)
	require.Zero(t, n)
}
