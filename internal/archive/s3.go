// Package archive stores raw vendor payloads in S3 as an audit trail beside
// the staging table. The pipeline treats archival as best effort: a failed
// write is logged, never fatal.
package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archive implements pipeline.Archiver against an S3 bucket.
type S3Archive struct {
	client *s3.Client
	bucket string
}

// NewS3Archive creates an S3-backed payload archive.
func NewS3Archive(ctx context.Context, bucket, region string) (*S3Archive, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for payload archive: %w", err)
	}
	return &S3Archive{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

// objectKey addresses one payload by its staging natural key.
func (a *S3Archive) objectKey(barID int64, dataType, date string) string {
	return fmt.Sprintf("raw/%d/%s/%s.json", barID, dataType, date)
}

// Save writes one collected payload. Re-collection of the same key
// overwrites the object; the archive always mirrors the latest pull.
func (a *S3Archive) Save(ctx context.Context, barID int64, dataType, date string, payload []byte) error {
	key := a.objectKey(barID, dataType, date)
	contentType := "application/json"
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s/%s: %w", a.bucket, key, err)
	}
	return nil
}
