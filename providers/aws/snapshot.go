package aws

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/stratumsec/warden/retry"
	"github.com/stratumsec/warden/types"
)

// SnapshotFetcher downloads and decodes bulk snapshot objects: a
// gzip-compressed JSON document holding every current configuration
// item.
type SnapshotFetcher struct {
	api    S3API
	policy retry.Policy
}

// NewSnapshotFetcher creates the fetcher.
func NewSnapshotFetcher(api S3API) *SnapshotFetcher {
	return &SnapshotFetcher{api: api, policy: defaultPolicy()}
}

// Fetch downloads bucket/key, decompresses it, and returns the
// contained configuration items.
func (sf *SnapshotFetcher) Fetch(ctx context.Context, bucket, key string) ([]types.ConfigurationItem, error) {
	out, err := retry.Do(ctx, sf.policy, func() (*s3.GetObjectOutput, error) {
		return sf.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: awssdk.String(bucket),
			Key:    awssdk.String(key),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot s3://%s/%s: %w", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	gz, err := gzip.NewReader(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	defer func() { _ = gz.Close() }()

	var snapshot struct {
		ConfigurationItems []types.ConfigurationItem `json:"configurationItems"`
	}
	if err := json.NewDecoder(gz).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return snapshot.ConfigurationItems, nil
}
