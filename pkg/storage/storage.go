package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/anchor/pkg/models"
)

// DatabaseType represents the type of database
type DatabaseType string

const (
	MySQL      DatabaseType = "mysql"
	PostgreSQL DatabaseType = "postgres"
	SQLite     DatabaseType = "sqlite"
)

// MaxEntriesPerCall caps the entries returned by a single read.
const MaxEntriesPerCall uint16 = 1000

// CursorLength is the size of an encoded NextToken: anchor, timestamp and
// log index, each little endian.
const CursorLength = 24

var ErrInvalidCursor = errors.New("invalid log cursor")

// DatabaseStorage is the anchor activity log. Entries are append-only and
// indexed by anchor for per-anchor listings.
type DatabaseStorage struct {
	db         *squealx.DB
	dbType     DatabaseType
	maxEntries uint16
	mu         sync.Mutex
}

// NewDatabaseStorage creates a new database storage instance
func NewDatabaseStorage(db *squealx.DB) (*DatabaseStorage, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	storage := &DatabaseStorage{
		db:         db,
		dbType:     normalizeType(db.DriverName()),
		maxEntries: MaxEntriesPerCall,
	}

	if err := storage.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create database schema: %w", err)
	}

	return storage, nil
}

// WithMaxEntries lowers the per-call cap. Values above MaxEntriesPerCall are ignored.
func (d *DatabaseStorage) WithMaxEntries(n uint16) *DatabaseStorage {
	if n > 0 && n <= MaxEntriesPerCall {
		d.maxEntries = n
	}
	return d
}

func normalizeType(driver string) DatabaseType {
	switch {
	case strings.HasPrefix(driver, "postgres"), driver == "pgx":
		return PostgreSQL
	case strings.HasPrefix(driver, "sqlite"):
		return SQLite
	}
	return DatabaseType(driver)
}

func (d *DatabaseStorage) createTables() error {
	var queries []string

	switch d.dbType {
	case MySQL:
		queries = d.getMySQLSchema()
	case PostgreSQL:
		queries = d.getPostgreSQLSchema()
	case SQLite:
		queries = d.getSQLiteSchema()
	default:
		return fmt.Errorf("unsupported database type: %s", d.dbType)
	}

	for _, query := range queries {
		if _, err := d.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

func (d *DatabaseStorage) getMySQLSchema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS activity_log (
			log_index BIGINT UNSIGNED PRIMARY KEY,
			anchor BIGINT UNSIGNED NOT NULL,
			timestamp BIGINT UNSIGNED NOT NULL,
			caller VARCHAR(255) NOT NULL,
			operation VARCHAR(64) NOT NULL,
			detail TEXT NOT NULL,
			INDEX idx_activity_log_anchor (anchor, timestamp, log_index)
		) ENGINE=InnoDB`,
	}
}

func (d *DatabaseStorage) getPostgreSQLSchema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS activity_log (
			log_index BIGINT PRIMARY KEY,
			anchor BIGINT NOT NULL,
			timestamp BIGINT NOT NULL,
			caller VARCHAR(255) NOT NULL,
			operation VARCHAR(64) NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_log_anchor ON activity_log (anchor, timestamp, log_index)`,
	}
}

func (d *DatabaseStorage) getSQLiteSchema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS activity_log (
			log_index INTEGER PRIMARY KEY,
			anchor INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			caller TEXT NOT NULL,
			operation TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_log_anchor ON activity_log (anchor, timestamp, log_index)`,
	}
}

// bind rewrites ? placeholders for drivers that number them.
func (d *DatabaseStorage) bind(query string) string {
	if d.dbType != PostgreSQL {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// WriteEntry appends entry and returns its log index. The index field of
// entry is ignored.
func (d *DatabaseStorage) WriteEntry(entry models.LogEntry) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	length, err := d.length()
	if err != nil {
		return 0, err
	}
	query := `INSERT INTO activity_log (log_index, anchor, timestamp, caller, operation, detail)
		VALUES (:log_index, :anchor, :timestamp, :caller, :operation, :detail)`
	params := map[string]any{
		"log_index": int64(length),
		"anchor":    int64(entry.Anchor),
		"timestamp": int64(entry.Timestamp),
		"caller":    entry.Caller,
		"operation": string(entry.Operation),
		"detail":    entry.Detail,
	}
	if _, err := d.db.NamedExec(query, params); err != nil {
		return 0, fmt.Errorf("failed to write log entry: %w", err)
	}
	return length, nil
}

func (d *DatabaseStorage) length() (uint64, error) {
	var count int64
	if err := d.db.Get(&count, `SELECT COUNT(*) FROM activity_log`); err != nil {
		return 0, fmt.Errorf("failed to count log entries: %w", err)
	}
	return uint64(count), nil
}

func (d *DatabaseStorage) limit(limit *uint16) uint64 {
	if limit == nil || *limit > d.maxEntries {
		return uint64(d.maxEntries)
	}
	return uint64(*limit)
}

// GetLogs returns up to limit entries starting at index. Without an index
// the most recent entries are returned. NextIdx is set when entries remain
// after the returned ones.
func (d *DatabaseStorage) GetLogs(index *uint64, limit *uint16) (models.Logs, error) {
	num := d.limit(limit)
	length, err := d.length()
	if err != nil {
		return models.Logs{}, err
	}
	var start uint64
	if index != nil {
		start = *index
	} else if length > num {
		start = length - num
	}

	logs := models.Logs{Entries: []models.LogEntry{}}
	if start >= length {
		return logs, nil
	}
	if num < length-start {
		next := start + num
		logs.NextIdx = &next
	}
	if num == 0 {
		return logs, nil
	}
	query := d.bind(`SELECT log_index, anchor, timestamp, caller, operation, detail FROM activity_log
		WHERE log_index >= ? ORDER BY log_index LIMIT ?`)
	if err := d.db.Select(&logs.Entries, query, int64(start), int64(num)); err != nil {
		return models.Logs{}, fmt.Errorf("failed to read log entries: %w", err)
	}
	return logs, nil
}

// GetAnchorLogs lists the entries of one anchor ordered by timestamp. A
// Timestamp cursor starts at the first entry at or after it, a NextToken
// cursor resumes a previous listing.
func (d *DatabaseStorage) GetAnchorLogs(anchor models.AnchorNumber, cursor *models.Cursor, limit *uint16) (models.AnchorLogs, error) {
	num := d.limit(limit)
	var (
		query = `SELECT log_index, anchor, timestamp, caller, operation, detail FROM activity_log WHERE anchor = ?`
		args  = []any{int64(anchor)}
	)
	if cursor != nil {
		switch {
		case cursor.NextToken != nil:
			key, err := DecodeCursor(cursor.NextToken)
			if err != nil {
				return models.AnchorLogs{}, err
			}
			if key.Anchor != anchor {
				return models.AnchorLogs{}, fmt.Errorf("%w: token belongs to another anchor", ErrInvalidCursor)
			}
			query += ` AND (timestamp > ? OR (timestamp = ? AND log_index >= ?))`
			args = append(args, int64(key.Timestamp), int64(key.Timestamp), int64(key.Index))
		case cursor.Timestamp != nil:
			query += ` AND timestamp >= ?`
			args = append(args, int64(*cursor.Timestamp))
		}
	}
	query += ` ORDER BY timestamp, log_index LIMIT ?`
	args = append(args, int64(num+1))

	entries := []models.LogEntry{}
	if err := d.db.Select(&entries, d.bind(query), args...); err != nil {
		return models.AnchorLogs{}, fmt.Errorf("failed to read anchor log entries: %w", err)
	}
	result := models.AnchorLogs{Entries: entries}
	if uint64(len(entries)) > num {
		last := entries[len(entries)-1]
		result.Entries = entries[:num]
		result.Cursor = &models.Cursor{NextToken: EncodeCursor(CursorKey{
			Anchor:    last.Anchor,
			Timestamp: last.Timestamp,
			Index:     last.Index,
		})}
	}
	return result, nil
}

type CursorKey struct {
	Anchor    models.AnchorNumber
	Timestamp models.Timestamp
	Index     uint64
}

func EncodeCursor(key CursorKey) []byte {
	buf := make([]byte, CursorLength)
	binary.LittleEndian.PutUint64(buf[0:8], key.Anchor)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(key.Timestamp))
	binary.LittleEndian.PutUint64(buf[16:24], key.Index)
	return buf
}

func DecodeCursor(token []byte) (CursorKey, error) {
	if len(token) != CursorLength {
		return CursorKey{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidCursor, CursorLength, len(token))
	}
	return CursorKey{
		Anchor:    binary.LittleEndian.Uint64(token[0:8]),
		Timestamp: models.Timestamp(binary.LittleEndian.Uint64(token[8:16])),
		Index:     binary.LittleEndian.Uint64(token[16:24]),
	}, nil
}
