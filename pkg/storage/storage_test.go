package storage

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/oarkflow/squealx/drivers/sqlite"

	"github.com/oarkflow/anchor/pkg/models"
)

func newStorage(t *testing.T) *DatabaseStorage {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "activity.db"), "sqlite")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := NewDatabaseStorage(db)
	if err != nil {
		t.Fatalf("NewDatabaseStorage() error = %v", err)
	}
	return store
}

func write(t *testing.T, store *DatabaseStorage, anchor models.AnchorNumber, ts models.Timestamp) uint64 {
	t.Helper()
	idx, err := store.WriteEntry(models.LogEntry{
		Anchor:    anchor,
		Timestamp: ts,
		Caller:    "ledger",
		Operation: models.OperationAddDevice,
		Detail:    "phone",
	})
	if err != nil {
		t.Fatalf("WriteEntry() error = %v", err)
	}
	return idx
}

func u64(v uint64) *uint64 { return &v }
func u16(v uint16) *uint16 { return &v }

func indexes(entries []models.LogEntry) []uint64 {
	out := make([]uint64, len(entries))
	for i, e := range entries {
		out[i] = e.Index
	}
	return out
}

func equal(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestWriteEntryAssignsSequentialIndexes(t *testing.T) {
	store := newStorage(t)
	for want := uint64(0); want < 3; want++ {
		if got := write(t, store, 10000, models.Timestamp(want)); got != want {
			t.Fatalf("WriteEntry() index = %d, want %d", got, want)
		}
	}
	logs, err := store.GetLogs(u64(1), u16(1))
	if err != nil {
		t.Fatal(err)
	}
	entry := logs.Entries[0]
	if entry.Anchor != 10000 || entry.Caller != "ledger" || entry.Operation != models.OperationAddDevice || entry.Detail != "phone" {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestGetLogsPaging(t *testing.T) {
	store := newStorage(t)
	for i := 0; i < 5; i++ {
		write(t, store, 10000, models.Timestamp(i))
	}

	cases := []struct {
		name    string
		index   *uint64
		limit   *uint16
		want    []uint64
		nextIdx *uint64
	}{
		{"tail by default", nil, u16(2), []uint64{3, 4}, nil},
		{"from start", u64(0), u16(2), []uint64{0, 1}, u64(2)},
		{"middle", u64(2), u16(2), []uint64{2, 3}, u64(4)},
		{"last page", u64(4), u16(2), []uint64{4}, nil},
		{"past end", u64(9), u16(2), []uint64{}, nil},
		{"index at max", u64(math.MaxUint64), u16(2), []uint64{}, nil},
		{"index near max", u64(math.MaxUint64 - 1), u16(2), []uint64{}, nil},
		{"everything", nil, nil, []uint64{0, 1, 2, 3, 4}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logs, err := store.GetLogs(tc.index, tc.limit)
			if err != nil {
				t.Fatal(err)
			}
			if got := indexes(logs.Entries); !equal(got, tc.want) {
				t.Fatalf("entries = %v, want %v", got, tc.want)
			}
			switch {
			case tc.nextIdx == nil && logs.NextIdx != nil:
				t.Fatalf("next_idx = %d, want none", *logs.NextIdx)
			case tc.nextIdx != nil && (logs.NextIdx == nil || *logs.NextIdx != *tc.nextIdx):
				t.Fatalf("next_idx = %v, want %d", logs.NextIdx, *tc.nextIdx)
			}
		})
	}
}

func TestGetLogsCapsLimit(t *testing.T) {
	store := newStorage(t).WithMaxEntries(3)
	for i := 0; i < 5; i++ {
		write(t, store, 10000, models.Timestamp(i))
	}
	logs, err := store.GetLogs(u64(0), u16(1000))
	if err != nil {
		t.Fatal(err)
	}
	if len(logs.Entries) != 3 || logs.NextIdx == nil || *logs.NextIdx != 3 {
		t.Fatalf("GetLogs() = %v, next %v", indexes(logs.Entries), logs.NextIdx)
	}
}

func TestGetAnchorLogsCursor(t *testing.T) {
	store := newStorage(t)
	write(t, store, 1, 10)
	write(t, store, 2, 15)
	write(t, store, 1, 20)
	write(t, store, 1, 30)
	write(t, store, 2, 35)
	write(t, store, 1, 40)

	first, err := store.GetAnchorLogs(1, nil, u16(2))
	if err != nil {
		t.Fatal(err)
	}
	if got := indexes(first.Entries); !equal(got, []uint64{0, 2}) {
		t.Fatalf("first page = %v", got)
	}
	if first.Cursor == nil || len(first.Cursor.NextToken) != CursorLength {
		t.Fatalf("first page cursor = %+v", first.Cursor)
	}

	second, err := store.GetAnchorLogs(1, first.Cursor, u16(2))
	if err != nil {
		t.Fatal(err)
	}
	if got := indexes(second.Entries); !equal(got, []uint64{3, 5}) {
		t.Fatalf("second page = %v", got)
	}
	if second.Cursor != nil {
		t.Fatalf("second page cursor = %+v, want none", second.Cursor)
	}

	ts := models.Timestamp(25)
	since, err := store.GetAnchorLogs(1, &models.Cursor{Timestamp: &ts}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := indexes(since.Entries); !equal(got, []uint64{3, 5}) {
		t.Fatalf("entries since 25 = %v", got)
	}
}

func TestGetAnchorLogsRejectsBadCursor(t *testing.T) {
	store := newStorage(t)
	write(t, store, 1, 10)

	if _, err := store.GetAnchorLogs(1, &models.Cursor{NextToken: []byte{1, 2, 3}}, nil); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("short token error = %v", err)
	}
	foreign := EncodeCursor(CursorKey{Anchor: 2, Timestamp: 10, Index: 0})
	if _, err := store.GetAnchorLogs(1, &models.Cursor{NextToken: foreign}, nil); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("foreign token error = %v", err)
	}
}

func TestCursorLayout(t *testing.T) {
	token := EncodeCursor(CursorKey{Anchor: 1, Timestamp: 2, Index: 3})
	if token[0] != 1 || token[8] != 2 || token[16] != 3 {
		t.Fatalf("token = %v, want little endian anchor, timestamp, index", token)
	}
	key, err := DecodeCursor(token)
	if err != nil || key != (CursorKey{Anchor: 1, Timestamp: 2, Index: 3}) {
		t.Fatalf("DecodeCursor() = %+v, %v", key, err)
	}
}

func TestPostgresPlaceholders(t *testing.T) {
	d := &DatabaseStorage{dbType: PostgreSQL}
	got := d.bind(`SELECT * FROM activity_log WHERE anchor = ? AND timestamp >= ? LIMIT ?`)
	want := `SELECT * FROM activity_log WHERE anchor = $1 AND timestamp >= $2 LIMIT $3`
	if got != want {
		t.Fatalf("bind() = %q", got)
	}
}
