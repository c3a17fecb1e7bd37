package storage

import (
	"context"
	"errors"
	"testing"
)

type stubCopier struct {
	copyFn func(ctx context.Context, srcBucket, srcObject, dstBucket, dstObject string) error
}

func (s *stubCopier) CopyObject(ctx context.Context, srcBucket, srcObject, dstBucket, dstObject string) error {
	if s.copyFn != nil {
		return s.copyFn(ctx, srcBucket, srcObject, dstBucket, dstObject)
	}
	return nil
}

func TestFreezeImageCopiesIntoSnapshotPrefix(t *testing.T) {
	var gotSrcBucket, gotSrcObject, gotDstBucket, gotDstObject string
	freezer, err := NewSnapshotFreezer(&stubCopier{
		copyFn: func(_ context.Context, srcBucket, srcObject, dstBucket, dstObject string) error {
			gotSrcBucket, gotSrcObject = srcBucket, srcObject
			gotDstBucket, gotDstObject = dstBucket, dstObject
			return nil
		},
	}, "craftyard-assets")
	if err != nil {
		t.Fatalf("build freezer: %v", err)
	}

	ref, err := freezer.FreezeImage(context.Background(), "assets/personalization/line1/uploads/up1/monogram.png", "snap123")
	if err != nil {
		t.Fatalf("freeze image: %v", err)
	}
	if ref != "assets/snapshots/snap123/monogram.png" {
		t.Fatalf("unexpected frozen ref: %s", ref)
	}
	if gotSrcBucket != "craftyard-assets" || gotSrcObject != "assets/personalization/line1/uploads/up1/monogram.png" {
		t.Fatalf("unexpected source: %s/%s", gotSrcBucket, gotSrcObject)
	}
	if gotDstBucket != "craftyard-assets" || gotDstObject != "assets/snapshots/snap123/monogram.png" {
		t.Fatalf("unexpected destination: %s/%s", gotDstBucket, gotDstObject)
	}
}

func TestFreezeImageHandlesQualifiedRefs(t *testing.T) {
	freezer, err := NewSnapshotFreezer(&stubCopier{}, "craftyard-assets")
	if err != nil {
		t.Fatalf("build freezer: %v", err)
	}

	ref, err := freezer.FreezeImage(context.Background(), "gs://uploads-bucket/tmp/crest.svg", "snap456")
	if err != nil {
		t.Fatalf("freeze image: %v", err)
	}
	if ref != "gs://craftyard-assets/assets/snapshots/snap456/crest.svg" {
		t.Fatalf("unexpected frozen ref: %s", ref)
	}
}

func TestFreezeImagePropagatesCopyFailure(t *testing.T) {
	copyErr := errors.New("copy failed")
	freezer, err := NewSnapshotFreezer(&stubCopier{
		copyFn: func(context.Context, string, string, string, string) error { return copyErr },
	}, "craftyard-assets")
	if err != nil {
		t.Fatalf("build freezer: %v", err)
	}

	if _, err := freezer.FreezeImage(context.Background(), "assets/foo.png", "snap1"); !errors.Is(err, copyErr) {
		t.Fatalf("expected copy error, got %v", err)
	}
}

func TestFreezeImageRejectsBlankRef(t *testing.T) {
	freezer, err := NewSnapshotFreezer(&stubCopier{}, "craftyard-assets")
	if err != nil {
		t.Fatalf("build freezer: %v", err)
	}
	if _, err := freezer.FreezeImage(context.Background(), "  ", "snap1"); err == nil {
		t.Fatal("expected error for blank source ref")
	}
}
