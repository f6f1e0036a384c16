package datacite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"metax/internal/blob"
	"metax/pkg/domain"
)

// ExportKey is the blob key of the XML export of a dataset.
func ExportKey(datasetID string) string { return "datacite/" + datasetID + ".xml" }

// Export stores the XML rendering of d and returns a download URL when the
// store can presign one. The URL is empty otherwise.
func (b *Builder) Export(ctx context.Context, store blob.Store, d domain.Dataset, totalSize int64) (blob.Info, error) {
	data, err := b.Build(d, totalSize).XML()
	if err != nil {
		return blob.Info{}, err
	}
	key := ExportKey(d.ID)
	info, err := store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: "application/xml",
		Metadata:    map[string]string{"dataset": d.ID},
		Overwrite:   true,
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("store datacite export %s: %w", key, err)
	}
	url, err := store.PresignURL(ctx, key, blob.SignedURLOptions{Method: "GET", Expiry: 15 * time.Minute})
	switch {
	case err == nil:
		info.URL = url
	case !errors.Is(err, blob.ErrUnsupported):
		b.log.Warnw("presign datacite export failed", "dataset", d.ID, "error", err)
	}
	return info, nil
}
