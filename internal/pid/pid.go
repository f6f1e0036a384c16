// Package pid mints URN and DOI identifiers through the PID microservice.
package pid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"metax/internal/config"
	"metax/internal/core"
	"metax/internal/datacite"
	"metax/internal/httpx"
	"metax/internal/logging"
	"metax/pkg/domain"
)

// DefaultDOIPrefix is the DOI prefix registered for minted datasets.
const DefaultDOIPrefix = "10.82614"

const unavailable = "Error when creating persistent identifier. Please try again later."

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l logging.Logger) Option { return func(c *Client) { c.log = logging.OrNop(l) } }

// WithDOIPrefix overrides DefaultDOIPrefix.
func WithDOIPrefix(p string) Option { return func(c *Client) { c.doiPrefix = p } }

// WithBuilder sets the DataCite builder used for DOI payloads.
func WithBuilder(b *datacite.Builder) Option { return func(c *Client) { c.builder = b } }

// WithTotalSize reports the total size of the files of a dataset for the
// DataCite sizes field.
func WithTotalSize(fn func(ctx context.Context, datasetID string) int64) Option {
	return func(c *Client) { c.totalSize = fn }
}

// Client talks to the PID microservice.
type Client struct {
	http      *httpx.Client
	etsinURL  string
	doiPrefix string
	builder   *datacite.Builder
	totalSize func(ctx context.Context, datasetID string) int64
	log       logging.Logger
}

// New returns a client for cfg.
func New(cfg config.PIDConfig, opts ...Option) *Client {
	base := cfg.BaseURL
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	hc := httpx.New(base, http.Header{"Apikey": {cfg.APIKey}})
	if cfg.Timeout > 0 {
		hc.HTTP.Timeout = cfg.Timeout
	}
	c := &Client{
		http:      hc,
		etsinURL:  cfg.EtsinURL,
		doiPrefix: DefaultDOIPrefix,
		builder:   datacite.NewBuilder(),
		log:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LandingPage is the public URL a minted identifier resolves to.
func (c *Client) LandingPage(datasetID string) string {
	return strings.TrimRight(c.etsinURL, "/") + "/" + datasetID
}

func (c *Client) fail(op, datasetID string, err error) error {
	c.log.Errorw("pid service request failed", "operation", op, "dataset", datasetID, "error", err)
	return domain.ServiceUnavailableError{Message: unavailable, Err: err}
}

// CreateURN mints a URN pointing at the landing page of the dataset.
func (c *Client) CreateURN(ctx context.Context, datasetID string) (string, error) {
	resp, err := c.http.Do(ctx, httpx.Request{
		Method: http.MethodPost,
		Path:   "/v1/pid",
		Body:   map[string]any{"url": c.LandingPage(datasetID), "type": "URN", "persist": 0},
	})
	if err != nil {
		return "", c.fail("create_urn", datasetID, err)
	}
	urn := strings.TrimSpace(string(resp.Body))
	if !strings.HasPrefix(urn, "urn:") {
		return "", c.fail("create_urn", datasetID, fmt.Errorf("unexpected response %q", urn))
	}
	return urn, nil
}

func (c *Client) doiPayload(ctx context.Context, d domain.Dataset) map[string]any {
	var size int64
	if c.totalSize != nil {
		size = c.totalSize(ctx, d.ID)
	}
	doc := c.builder.Build(d, size)
	doc.Event = "publish"
	doc.URL = c.LandingPage(d.ID)
	return map[string]any{"data": map[string]any{"type": "dois", "attributes": doc}}
}

// CreateDOI registers a new DOI with the DataCite metadata of d and returns
// it with the doi: prefix.
func (c *Client) CreateDOI(ctx context.Context, d domain.Dataset) (string, error) {
	resp, err := c.http.Do(ctx, httpx.Request{
		Method: http.MethodPost,
		Path:   "/v1/pid/doi",
		Body:   c.doiPayload(ctx, d),
	})
	if err != nil {
		return "", c.fail("create_doi", d.ID, err)
	}
	doi := strings.TrimSpace(string(resp.Body))
	if !strings.HasPrefix(doi, c.doiPrefix) {
		return "", c.fail("create_doi", d.ID, fmt.Errorf("unexpected response %q", doi))
	}
	return "doi:" + doi, nil
}

// UpdateDOI refreshes the DataCite metadata of a dataset that already has a
// DOI. A DOI missing from the PID service is inserted first.
func (c *Client) UpdateDOI(ctx context.Context, d domain.Dataset) error {
	doi, ok := strings.CutPrefix(d.PersistentIdentifier, "doi:")
	if !ok {
		return fmt.Errorf("dataset %s has no doi", d.ID)
	}
	landing := c.LandingPage(d.ID)
	resp, err := c.http.Do(ctx, httpx.Request{
		Method: http.MethodGet,
		Path:   "/get/v1/pid/" + doi,
		Accept: []int{http.StatusNotFound},
	})
	if err != nil {
		return c.fail("update_doi", d.ID, err)
	}
	if resp.Status == http.StatusNotFound {
		if _, err := c.http.Do(ctx, httpx.Request{
			Method: http.MethodPost,
			Path:   "/v1/pid/" + doi,
			Body:   map[string]string{"URL": landing},
		}); err != nil {
			return c.fail("update_doi", d.ID, err)
		}
	} else if got := strings.TrimSpace(string(resp.Body)); got != landing {
		return c.fail("update_doi", d.ID, fmt.Errorf("doi %s resolves to %q, expected %q", doi, got, landing))
	}
	if _, err := c.http.Do(ctx, httpx.Request{
		Method: http.MethodPut,
		Path:   "/v1/pid/doi/" + doi,
		Body:   c.doiPayload(ctx, d),
	}); err != nil {
		return c.fail("update_doi", d.ID, err)
	}
	return nil
}

// Dummy mints random identifiers without any network access.
type Dummy struct{}

// CreateURN returns a random dummy URN.
func (Dummy) CreateURN(context.Context, string) (string, error) {
	return "urn:nbn:fi:fd-dummy-" + uuid.NewString(), nil
}

// CreateDOI returns a random DOI under DefaultDOIPrefix.
func (Dummy) CreateDOI(context.Context, domain.Dataset) (string, error) {
	return "doi:" + DefaultDOIPrefix + "/" + uuid.NewString(), nil
}

// UpdateDOI does nothing.
func (Dummy) UpdateDOI(context.Context, domain.Dataset) error { return nil }

// Updater refreshes DOI metadata after a dataset changes.
type Updater interface {
	UpdateDOI(ctx context.Context, d domain.Dataset) error
}

// Minter mints identifiers and keeps DOI metadata current.
type Minter interface {
	core.Minter
	Updater
}

// NewMinter returns the dummy minter when cfg.Dummy is set and a client otherwise.
func NewMinter(cfg config.PIDConfig, opts ...Option) Minter {
	if cfg.Dummy {
		return Dummy{}
	}
	return New(cfg, opts...)
}

// DOIObserver pushes updated DataCite metadata for published datasets that
// have a DOI. Failures are logged.
func DOIObserver(u Updater, log logging.Logger) core.Observer {
	log = logging.OrNop(log)
	return core.ObserverFunc(func(ctx context.Context, ev core.DatasetEvent) {
		d := ev.Dataset
		if ev.Kind != core.EventUpdated || d.State != domain.StatePublished || !strings.HasPrefix(d.PersistentIdentifier, "doi:") {
			return
		}
		if err := u.UpdateDOI(ctx, d); err != nil {
			var su domain.ServiceUnavailableError
			if !errors.As(err, &su) {
				log.Warnw("doi metadata update skipped", "dataset", d.ID, "error", err)
			}
		}
	})
}
