package storage

import (
	"context"
	"errors"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// Copier moves objects between Cloud Storage locations. The snapshot
// freezer uses it to pin submission uploads under immutable paths.
type Copier struct {
	client *gcs.Client
}

// NewCopier wraps the provided Cloud Storage client.
func NewCopier(client *gcs.Client) (*Copier, error) {
	if client == nil {
		return nil, errors.New("storage copier: client is required")
	}
	return &Copier{client: client}, nil
}

// CopyObject server-side copies source to destination. Copying an object
// onto itself is a no-op.
func (c *Copier) CopyObject(ctx context.Context, sourceBucket, sourceObject, destBucket, destObject string) error {
	if c == nil || c.client == nil {
		return errors.New("storage copier: client is not initialised")
	}

	sourceBucket = strings.TrimSpace(sourceBucket)
	sourceObject = strings.TrimSpace(sourceObject)
	destBucket = strings.TrimSpace(destBucket)
	destObject = strings.TrimSpace(destObject)
	if sourceBucket == "" || sourceObject == "" || destBucket == "" || destObject == "" {
		return errors.New("storage copier: source and destination must be provided")
	}
	if sourceBucket == destBucket && sourceObject == destObject {
		return nil
	}

	src := c.client.Bucket(sourceBucket).Object(sourceObject)
	dst := c.client.Bucket(destBucket).Object(destObject)
	_, err := dst.CopierFrom(src).Run(ctx)
	return err
}
