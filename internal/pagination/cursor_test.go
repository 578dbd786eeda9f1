package pagination

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Nanosecond)
	cursor := Encode(now, "txn_abc123")

	decoded, err := Decode(cursor)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !decoded.CreatedAt.Equal(now) {
		t.Errorf("expected %v, got %v", now, decoded.CreatedAt)
	}
	if decoded.ID != "txn_abc123" {
		t.Errorf("expected txn_abc123, got %s", decoded.ID)
	}
}

func TestDecode_Empty(t *testing.T) {
	c, err := Decode("")
	if err != nil || c != nil {
		t.Fatalf("expected nil, nil for empty cursor, got %v, %v", c, err)
	}
}

func TestDecode_Garbage(t *testing.T) {
	for _, bad := range []string{"not-base64!!", "bm9waXBl", "MTIzNA=="} {
		if _, err := Decode(bad); !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("Decode(%q): expected ErrInvalidCursor, got %v", bad, err)
		}
	}
}

func TestCursors_StrictlyDecreasing(t *testing.T) {
	base := time.Now().UTC()
	newer := Encode(base, "txn_b")
	older := Encode(base.Add(-time.Minute), "txn_a")

	cNewer, _ := Decode(newer)
	cOlder, _ := Decode(older)
	if !cOlder.CreatedAt.Before(cNewer.CreatedAt) {
		t.Error("expected older cursor to decode to earlier timestamp")
	}
}

func TestComputePage(t *testing.T) {
	type row struct {
		id string
		at time.Time
	}
	base := time.Now().UTC()
	rows := []row{
		{"txn_3", base},
		{"txn_2", base.Add(-time.Second)},
		{"txn_1", base.Add(-2 * time.Second)},
	}

	// Fetched limit+1 rows: page has more.
	page, next, hasMore := ComputePage(rows, 2, func(r row) (time.Time, string) { return r.at, r.id })
	if len(page) != 2 || !hasMore || next == "" {
		t.Fatalf("expected 2 rows with next cursor, got %d rows, hasMore=%v", len(page), hasMore)
	}
	c, err := Decode(next)
	if err != nil {
		t.Fatalf("Decode next cursor: %v", err)
	}
	if c.ID != "txn_2" {
		t.Errorf("expected cursor at txn_2, got %s", c.ID)
	}

	// Exact fit: no next cursor.
	page, next, hasMore = ComputePage(rows, 3, func(r row) (time.Time, string) { return r.at, r.id })
	if len(page) != 3 || hasMore || next != "" {
		t.Errorf("expected full page without cursor, got %d rows, hasMore=%v, next=%q", len(page), hasMore, next)
	}
}
