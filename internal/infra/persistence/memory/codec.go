package memory

import (
	"encoding/json"
	"fmt"

	"metax/pkg/domain"
)

// EncodeBucket serializes one bucket of the snapshot.
func EncodeBucket(snapshot *Snapshot, kind domain.EntityType) ([]byte, error) {
	target := snapshot.Bucket(kind)
	if target == nil {
		return nil, fmt.Errorf("unknown bucket %s", kind)
	}
	data, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return data, nil
}

// DecodeBucket fills one bucket of the snapshot from payload. Unknown
// buckets are ignored so older databases keep loading.
func DecodeBucket(snapshot *Snapshot, bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	target := snapshot.Bucket(domain.EntityType(bucket))
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
