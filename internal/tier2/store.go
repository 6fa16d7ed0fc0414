// Package tier2 implements structured digests: periodic (weekly/monthly)
// summaries of Tier 1 material, queryable by theme, keyword and period.
// Content fidelity is lossy by design -- this tier optimizes for query,
// not completeness.
package tier2

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ckoons/katra-sub000/internal/katraerr"
	"github.com/ckoons/katra-sub000/internal/logging"
)

var log = logging.GetLogger("tier2")

// PeriodType names the digest cadence.
type PeriodType string

const (
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
)

// Digest is a Tier 2 structured summary record.
type Digest struct {
	ID         string
	CIID       string
	PeriodID   string // e.g. "2026-W14" or "2026-03"
	PeriodType PeriodType
	Theme      string
	Keywords   []string
	Content    string
	SourceIDs  []string // back-pointers to source Tier 1 record_ids
	CreatedAt  time.Time
}

// Criteria parameterizes QueryDigests.
type Criteria struct {
	CIID       string
	Theme      string
	Keyword    string
	PeriodType PeriodType
	Limit      int
}

// Stats reports Tier 2 occupancy for a CI.
type Stats struct {
	DigestCount int
}

// Store is the Tier 2 backend: one SQLite database shared by all CIs,
// guarded by a single process-wide mutex.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if necessary) the digest index at
// <root>/tier2/index/digests.db and ensures the schema exists.
func Open(root string) (*Store, error) {
	dir := filepath.Join(root, "tier2", "index")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, katraerr.IO("failed to create tier2 index directory", err)
	}
	path := filepath.Join(dir, "digests.db")

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, katraerr.IO("failed to open tier2 digest database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, katraerr.Wrap(katraerr.KindCorruption, "E_CORRUPTION", "failed to initialize tier2 schema", err)
	}

	log.Info("opened tier2 digest index", "path", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// StoreDigest persists a digest. It is triggered by the consolidation
// engine only, never by write traffic.
func (s *Store) StoreDigest(d *Digest) error {
	if d.CIID == "" || d.PeriodID == "" {
		return katraerr.InvalidParams("ci_id and period_id are required")
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	if d.PeriodType == "" {
		d.PeriodType = PeriodWeekly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return katraerr.IO("failed to begin tier2 transaction", err)
	}
	defer tx.Rollback()

	sourceIDs, err := json.Marshal(d.SourceIDs)
	if err != nil {
		return katraerr.Wrap(katraerr.KindFormat, "E_FORMAT", "failed to marshal source ids", err)
	}

	_, err = tx.Exec(`
		INSERT INTO digests (id, ci_id, period_id, period_type, theme, content, source_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.CIID, d.PeriodID, string(d.PeriodType), d.Theme, d.Content, string(sourceIDs), d.CreatedAt.Unix(),
	)
	if err != nil {
		return katraerr.Wrap(katraerr.KindIO, "E_IO", "failed to insert digest", err)
	}

	for _, kw := range d.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO digest_keywords (digest_id, keyword) VALUES (?, ?)`, d.ID, kw); err != nil {
			return katraerr.Wrap(katraerr.KindIO, "E_IO", "failed to insert digest keyword", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return katraerr.IO("failed to commit tier2 digest", err)
	}
	return nil
}

// QueryDigests returns digests matching criteria, most recent first.
func (s *Store) QueryDigests(crit Criteria) ([]*Digest, error) {
	if crit.CIID == "" {
		return nil, katraerr.InvalidParams("ci_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT DISTINCT d.id, d.ci_id, d.period_id, d.period_type, d.theme, d.content, d.source_ids, d.created_at
		FROM digests d`
	var args []any
	var where []string

	if crit.Keyword != "" {
		query += ` JOIN digest_keywords k ON k.digest_id = d.id`
		where = append(where, "k.keyword = ?")
		args = append(args, strings.ToLower(crit.Keyword))
	}

	where = append(where, "d.ci_id = ?")
	args = append(args, crit.CIID)

	if crit.Theme != "" {
		where = append(where, "d.theme = ?")
		args = append(args, crit.Theme)
	}
	if crit.PeriodType != "" {
		where = append(where, "d.period_type = ?")
		args = append(args, string(crit.PeriodType))
	}

	query += " WHERE " + strings.Join(where, " AND ")
	query += " ORDER BY d.created_at DESC"
	if crit.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", crit.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, katraerr.Wrap(katraerr.KindIO, "E_IO", "failed to query digests", err)
	}
	defer rows.Close()

	var out []*Digest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// RetrieveByID fetches a single digest, or katraerr KindNotFound.
func (s *Store) RetrieveByID(id string) (*Digest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT id, ci_id, period_id, period_type, theme, content, source_ids, created_at
		FROM digests WHERE id = ?`, id)

	d, err := scanDigest(row)
	if err == sql.ErrNoRows {
		return nil, katraerr.NotFound("digest not found: " + id)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDigest(row scanner) (*Digest, error) {
	var d Digest
	var createdAt int64
	var sourceIDs string
	var pt string
	err := row.Scan(&d.ID, &d.CIID, &d.PeriodID, &pt, &d.Theme, &d.Content, &sourceIDs, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, katraerr.Wrap(katraerr.KindIO, "E_IO", "failed to scan digest row", err)
	}
	d.PeriodType = PeriodType(pt)
	d.CreatedAt = time.Unix(createdAt, 0)
	if err := json.Unmarshal([]byte(sourceIDs), &d.SourceIDs); err != nil {
		return nil, katraerr.Wrap(katraerr.KindFormat, "E_FORMAT", "failed to unmarshal source ids", err)
	}
	return &d, nil
}

// StatsFor reports the digest count for a CI.
func (s *Store) StatsFor(ciID string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM digests WHERE ci_id = ?`, ciID).Scan(&count)
	if err != nil {
		return Stats{}, katraerr.Wrap(katraerr.KindIO, "E_IO", "failed to count digests", err)
	}
	return Stats{DigestCount: count}, nil
}
