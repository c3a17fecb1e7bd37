package pagination

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token, got %q", token)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	original := Cursor{StartAfter: []any{"2026-03-01T12:00:00Z", "doc-42"}}

	token, err := EncodeToken(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	decoded, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.StartAfter) != 2 {
		t.Fatalf("unexpected cursor: %+v", decoded)
	}
	if decoded.StartAfter[0] != "2026-03-01T12:00:00Z" || decoded.StartAfter[1] != "doc-42" {
		t.Fatalf("unexpected cursor values: %+v", decoded.StartAfter)
	}
}

func TestDecodeTokenEmptyInput(t *testing.T) {
	cursor, err := DecodeToken("  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cursor.StartAfter) != 0 || len(cursor.StartAt) != 0 {
		t.Fatalf("expected zero cursor, got %+v", cursor)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	for _, token := range []string{"not base64!!", "bm90LWpzb24"} {
		if _, err := DecodeToken(token); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("token %q: expected ErrInvalidPageToken, got %v", token, err)
		}
	}
}

func TestTimeTokenRoundTrip(t *testing.T) {
	ts := time.Date(2026, time.March, 1, 12, 0, 0, 123456789, time.UTC)

	token := EncodeTimeToken(ts, "evt-7")
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	gotTime, gotID, err := DecodeTimeToken(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !gotTime.Equal(ts) {
		t.Fatalf("expected %s, got %s", ts, gotTime)
	}
	if gotID != "evt-7" {
		t.Fatalf("expected doc id evt-7, got %q", gotID)
	}
}

func TestDecodeTimeTokenRejectsWrongShape(t *testing.T) {
	token, err := EncodeToken(Cursor{StartAfter: []any{"only-one"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, _, err := DecodeTimeToken(token); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}

	token, err = EncodeToken(Cursor{StartAfter: []any{"not a timestamp", "doc-1"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, _, err := DecodeTimeToken(token); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}
