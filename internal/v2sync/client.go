// Package v2sync replicates dataset changes to the legacy V2 metadata
// service and tracks the outcome of every sync in V2SyncStatus records.
package v2sync

import (
	"context"
	"encoding/base64"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"metax/internal/config"
	"metax/internal/httpx"
	"metax/internal/logging"
	"metax/pkg/domain"
)

// V2 is the subset of the V2 REST API used for syncing.
type V2 interface {
	DeleteDataset(ctx context.Context, d domain.Dataset, soft bool) error
	UpdateAPIMeta(ctx context.Context, datasetID string) error
	UpdateDataset(ctx context.Context, doc Document, created bool) error
	UpdateDatasetFiles(ctx context.Context, datasetID string, files []domain.File, fs domain.FileSet, created bool) error
}

// Client calls the V2 REST API with basic auth.
type Client struct {
	http *httpx.Client
	log  logging.Logger
}

// NewClient returns a client for the host in cfg.
func NewClient(cfg config.V2Config, log logging.Logger) *Client {
	host := strings.TrimRight(cfg.Host, "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	auth := base64.StdEncoding.EncodeToString([]byte(cfg.User + ":" + cfg.Password))
	return &Client{
		http: httpx.New(host+"/rest/v2", http.Header{"Authorization": {"Basic " + auth}}),
		log:  logging.OrNop(log),
	}
}

// DeleteDataset removes the dataset from V2. Published datasets are hard
// deleted unless soft is set; drafts are always hard deleted by V2 itself.
func (c *Client) DeleteDataset(ctx context.Context, d domain.Dataset, soft bool) error {
	q := url.Values{"removed": {"true"}}
	if !soft && !d.IsDraft() {
		q.Set("hard", "true")
	}
	_, err := c.http.Do(ctx, httpx.Request{
		Method: http.MethodDelete,
		Path:   "/datasets/" + d.ID + "?" + q.Encode(),
		Accept: []int{http.StatusNotFound},
	})
	if err != nil {
		return fmt.Errorf("delete dataset %s from v2: %w", d.ID, err)
	}
	c.log.Infow("deleted dataset from v2", "dataset", d.ID, "soft", soft)
	return nil
}

// UpdateAPIMeta marks the dataset as managed by V3, which makes it read-only
// in the V2 API.
func (c *Client) UpdateAPIMeta(ctx context.Context, datasetID string) error {
	_, err := c.http.Do(ctx, httpx.Request{
		Method: http.MethodPatch,
		Path:   "/datasets/" + datasetID,
		Body:   map[string]any{"identifier": datasetID, "api_meta": map[string]int{"version": 3}},
	})
	if err != nil {
		return fmt.Errorf("mark dataset %s as v3 dataset: %w", datasetID, err)
	}
	return nil
}

// UpdateDataset writes doc to V2. Unless created is set the dataset is
// looked up first and replaced when it exists.
func (c *Client) UpdateDataset(ctx context.Context, doc Document, created bool) error {
	id := doc.ID()
	found := false
	if !created {
		resp, err := c.http.Do(ctx, httpx.Request{
			Method: http.MethodGet,
			Path:   "/datasets/" + id,
			Accept: []int{http.StatusNotFound},
		})
		if err != nil {
			return fmt.Errorf("sync dataset %s to v2: %w", id, err)
		}
		found = resp.Status == http.StatusOK
	}
	req := httpx.Request{Method: http.MethodPost, Path: "/datasets?migration_override", Body: doc}
	if found {
		req = httpx.Request{Method: http.MethodPut, Path: "/datasets/" + id + "?migration_override", Body: doc}
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("sync dataset %s to v2: %w", id, err)
	}
	c.log.Infow("synced dataset to v2", "dataset", id, "status", resp.Status)
	return nil
}

// UpdateDatasetFiles replaces the file list and user metadata of the dataset
// in V2. Every file must have a legacy id.
func (c *Client) UpdateDatasetFiles(ctx context.Context, datasetID string, files []domain.File, fs domain.FileSet, created bool) error {
	ids := make([]int64, 0, len(files))
	missing := 0
	for _, f := range files {
		if f.LegacyID == 0 {
			missing++
			continue
		}
		ids = append(ids, f.LegacyID)
	}
	if missing > 0 {
		return fmt.Errorf("sync dataset %s files to v2: %d files are missing legacy_id", datasetID, missing)
	}
	if created && len(ids) == 0 {
		return nil
	}
	_, err := c.http.Do(ctx, httpx.Request{
		Method: http.MethodPost,
		Path:   "/datasets/" + datasetID + "/files_from_v3",
		Body:   map[string]any{"file_ids": ids, "user_metadata": userMetadata(files, fs)},
	})
	if err != nil {
		return fmt.Errorf("sync dataset %s files to v2: %w", datasetID, err)
	}
	c.log.Infow("synced dataset files to v2", "dataset", datasetID, "files", len(ids))
	return nil
}

func sortedKeys[V any](m map[string]V) []string { return slices.Sorted(maps.Keys(m)) }
