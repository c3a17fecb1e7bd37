package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ObjectCopier is the copy operation the freezer depends on.
type ObjectCopier interface {
	CopyObject(ctx context.Context, sourceBucket, sourceObject, destBucket, destObject string) error
}

// SnapshotFreezer copies referenced uploads into snapshot-scoped storage so
// the frozen objects survive later edits or deletions of the originals.
type SnapshotFreezer struct {
	copier ObjectCopier
	bucket string
}

// NewSnapshotFreezer constructs a freezer writing into the given bucket.
func NewSnapshotFreezer(copier ObjectCopier, bucket string) (*SnapshotFreezer, error) {
	if copier == nil {
		return nil, errors.New("storage freezer: copier is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage freezer: bucket is required")
	}
	return &SnapshotFreezer{copier: copier, bucket: bucket}, nil
}

// FreezeImage copies the source object under the snapshot prefix and returns
// the frozen reference. Source refs may be bucket-relative object paths or
// fully qualified gs:// URIs.
func (f *SnapshotFreezer) FreezeImage(ctx context.Context, sourceRef string, snapshotID string) (string, error) {
	if f == nil || f.copier == nil {
		return "", errors.New("storage freezer: not initialised")
	}

	srcBucket, srcObject, qualified, err := splitObjectRef(sourceRef, f.bucket)
	if err != nil {
		return "", err
	}

	dstObject, err := BuildObjectPath(PurposeSnapshotFreeze, PathParams{
		SnapshotID: snapshotID,
		FileName:   path.Base(srcObject),
	})
	if err != nil {
		return "", err
	}

	if err := f.copier.CopyObject(ctx, srcBucket, srcObject, f.bucket, dstObject); err != nil {
		return "", fmt.Errorf("storage freezer: copy %s: %w", sourceRef, err)
	}

	if qualified {
		return fmt.Sprintf("gs://%s/%s", f.bucket, dstObject), nil
	}
	return dstObject, nil
}

func splitObjectRef(ref, defaultBucket string) (bucket, object string, qualified bool, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", false, errors.New("storage freezer: source ref is required")
	}
	if rest, ok := strings.CutPrefix(ref, "gs://"); ok {
		bucket, object, ok = strings.Cut(rest, "/")
		if !ok || bucket == "" || object == "" {
			return "", "", false, fmt.Errorf("storage freezer: malformed source ref %q", ref)
		}
		return bucket, object, true, nil
	}
	return defaultBucket, strings.TrimPrefix(ref, "/"), false, nil
}
