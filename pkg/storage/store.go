// Package storage persists the Responses a node is authoritative for, or has
// been asked to publish, in a local SQLite database.
package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	logging "github.com/ZentaChain/marp-node/pkg/log"
	"github.com/ZentaChain/marp-node/pkg/response"
)

var logger = logging.Logger("storage")

var ErrNotFound = errors.New("storage: not found")

// Entry summarizes one stored Response.
type Entry struct {
	Hash          response.Hash `json:"hash"`
	Records       int           `json:"records"`
	Authoritative bool          `json:"authoritative"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Store is the local Response database. Bodies are kept in wire format.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open database")
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "storage: enable WAL")
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS responses (
		hash BLOB PRIMARY KEY,
		body BLOB NOT NULL,
		record_count INTEGER NOT NULL,
		authoritative INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_responses_updated ON responses(updated_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, "storage: create schema")
	}
	return nil
}

// Put stores resp, replacing whatever was stored for its hash.
func (s *Store) Put(resp *response.Response) error {
	body, err := resp.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "storage: serialize")
	}
	hash := resp.Identifier()

	query := `
		INSERT INTO responses (hash, body, record_count, authoritative, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			body = excluded.body,
			record_count = excluded.record_count,
			authoritative = excluded.authoritative,
			updated_at = excluded.updated_at
	`
	_, err = s.db.Exec(query, hash[:], body, resp.RecordCount(), boolToInt(resp.IsAuthoritative()), time.Now().Unix())
	if err != nil {
		return errors.Wrap(err, "storage: put")
	}

	logger.Debugw("stored response", "hash", hash.String(), "records", resp.RecordCount(),
		"authoritative", resp.IsAuthoritative())
	return nil
}

// Get loads the Response stored for hash.
func (s *Store) Get(hash response.Hash) (*response.Response, error) {
	var body []byte
	err := s.db.QueryRow(`SELECT body FROM responses WHERE hash = ?`, hash[:]).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "storage: get")
	}

	resp, err := response.Deserialize(body)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: corrupt body for %s", hash)
	}
	return resp, nil
}

// Delete removes the Response stored for hash.
func (s *Store) Delete(hash response.Hash) error {
	res, err := s.db.Exec(`DELETE FROM responses WHERE hash = ?`, hash[:])
	if err != nil {
		return errors.Wrap(err, "storage: delete")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "storage: delete")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns stored entries, most recently updated first.
func (s *Store) List(limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT hash, record_count, authoritative, updated_at
		FROM responses
		ORDER BY updated_at DESC, hash ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			raw           []byte
			e             Entry
			authoritative int
			updated       int64
		)
		if err := rows.Scan(&raw, &e.Records, &authoritative, &updated); err != nil {
			return nil, errors.Wrap(err, "storage: scan")
		}
		copy(e.Hash[:], raw)
		e.Authoritative = authoritative != 0
		e.UpdatedAt = time.Unix(updated, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored Responses.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM responses`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "storage: count")
	}
	return n, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
