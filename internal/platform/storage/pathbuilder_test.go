package storage

import "testing"

func TestBuildProofImagePath(t *testing.T) {
	path, err := BuildObjectPath(PurposeProofImage, PathParams{
		OrderID:  "order123",
		ProofID:  "proof789",
		FileName: "front.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "assets/orders/order123/proofs/proof789/front.png"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildSnapshotFreezePath(t *testing.T) {
	path, err := BuildObjectPath(PurposeSnapshotFreeze, PathParams{
		SnapshotID: "snap123",
		FileName:   "monogram.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "assets/snapshots/snap123/monogram.png"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	_, err := BuildObjectPath(PurposePersonalizationUpload, PathParams{
		CartLineID: "../bad",
		UploadID:   "upload",
		FileName:   "file.png",
	})
	if err == nil {
		t.Fatalf("expected error for invalid segment")
	}
}
