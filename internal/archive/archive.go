package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/strainline/strainline/internal/candidate"
	_ "modernc.org/sqlite"
)

// Archive wraps a SQLite database holding packaged candidates and their
// artifacts.
type Archive struct {
	db *sql.DB
}

// Open opens or creates the candidate archive at dbPath. An empty dbPath
// defaults to $TMPDIR/strainline/candidates.db.
func Open(dbPath string) (*Archive, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "strainline", "candidates.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("archive: create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("archive: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("archive: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("archive: enable foreign keys: %w", err)
	}
	a := &Archive{db: db}
	if err := a.createTables(); err != nil {
		return nil, fmt.Errorf("archive: create tables: %w", err)
	}
	return a, nil
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candidates (
			id                TEXT PRIMARY KEY,
			created_at        INTEGER NOT NULL,
			merger_time       REAL NOT NULL,
			network_snr       REAL NOT NULL,
			ifar_years        REAL NOT NULL,
			far               REAL NOT NULL,
			p_astro           REAL NOT NULL,
			hw_injection      INTEGER NOT NULL DEFAULT 0,
			uploaded_event_id TEXT NOT NULL DEFAULT '',
			body              TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			candidate_id TEXT NOT NULL REFERENCES candidates(id) ON DELETE CASCADE,
			name         TEXT NOT NULL,
			content_type TEXT NOT NULL,
			data         BLOB NOT NULL,
			tags         TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (candidate_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_created_at ON candidates(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_ifar ON candidates(ifar_years DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save writes a candidate and its artifacts in one transaction. The record
// body is stored as canonical JSON so a reload reproduces every packaged
// field bit for bit.
func (a *Archive) Save(rec *candidate.Record, artifacts []candidate.Artifact) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: encode candidate %s: %w", rec.ID, err)
	}
	var pAstro float64
	if rec.Astro != nil {
		pAstro = rec.Astro.PAstro
	}
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("archive: begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO candidates
			(id, created_at, merger_time, network_snr, ifar_years, far,
			 p_astro, hw_injection, uploaded_event_id, body)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.CreatedAt.UnixNano(), rec.MergerTime, rec.NetworkSNR,
		rec.IFARYears, rec.FAR, pAstro, boolToInt(rec.HardwareInjection),
		rec.UploadedEventID, string(body),
	)
	if err != nil {
		return fmt.Errorf("archive: insert candidate %s: %w", rec.ID, err)
	}

	for _, art := range artifacts {
		tags, err := json.Marshal(art.Tags)
		if err != nil {
			return fmt.Errorf("archive: encode artifact tags: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO artifacts (candidate_id, name, content_type, data, tags)
			VALUES (?,?,?,?,?)`,
			rec.ID, art.Name, art.ContentType, art.Data, string(tags),
		); err != nil {
			return fmt.Errorf("archive: insert artifact %s: %w", art.Name, err)
		}
	}

	return tx.Commit()
}

// Load reads one candidate and its artifacts back.
func (a *Archive) Load(id string) (*candidate.Record, []candidate.Artifact, error) {
	var body string
	err := a.db.QueryRow(`SELECT body FROM candidates WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("archive: candidate not found: %s", id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("archive: load candidate %s: %w", id, err)
	}
	var rec candidate.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, nil, fmt.Errorf("archive: decode candidate %s: %w", id, err)
	}

	rows, err := a.db.Query(`
		SELECT name, content_type, data, tags FROM artifacts
		WHERE candidate_id = ? ORDER BY name`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("archive: query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []candidate.Artifact
	for rows.Next() {
		var art candidate.Artifact
		var tags string
		if err := rows.Scan(&art.Name, &art.ContentType, &art.Data, &tags); err != nil {
			return nil, nil, fmt.Errorf("archive: scan artifact: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &art.Tags); err != nil {
			return nil, nil, fmt.Errorf("archive: decode artifact tags: %w", err)
		}
		artifacts = append(artifacts, art)
	}
	return &rec, artifacts, rows.Err()
}

// MarkUploaded records the broker event identifier after a successful
// create-event call, both in the indexed column and inside the stored body.
func (a *Archive) MarkUploaded(id, eventID string) error {
	rec, _, err := a.Load(id)
	if err != nil {
		return err
	}
	rec.UploadedEventID = eventID
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: encode candidate %s: %w", id, err)
	}
	res, err := a.db.Exec(`
		UPDATE candidates SET uploaded_event_id = ?, body = ? WHERE id = ?`,
		eventID, string(body), id)
	if err != nil {
		return fmt.Errorf("archive: mark uploaded %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("archive: candidate not found: %s", id)
	}
	return nil
}

// Summary is the lightweight listing row for recent candidates.
type Summary struct {
	ID                string    `json:"id"`
	CreatedAt         time.Time `json:"created_at"`
	MergerTime        float64   `json:"merger_time"`
	NetworkSNR        float64   `json:"network_snr"`
	IFARYears         float64   `json:"ifar_years"`
	FAR               float64   `json:"far"`
	PAstro            float64   `json:"p_astro"`
	HardwareInjection bool      `json:"hardware_injection"`
	UploadedEventID   string    `json:"uploaded_event_id,omitempty"`
}

// Recent lists the n most recently packaged candidates, newest first.
func (a *Archive) Recent(n int) ([]Summary, error) {
	rows, err := a.db.Query(`
		SELECT id, created_at, merger_time, network_snr, ifar_years, far,
		       p_astro, hw_injection, uploaded_event_id
		FROM candidates ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("archive: query candidates: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var s Summary
		var createdAtNano int64
		var hwInjection int
		if err := rows.Scan(
			&s.ID, &createdAtNano, &s.MergerTime, &s.NetworkSNR, &s.IFARYears,
			&s.FAR, &s.PAstro, &hwInjection, &s.UploadedEventID,
		); err != nil {
			return nil, fmt.Errorf("archive: scan candidate: %w", err)
		}
		s.CreatedAt = time.Unix(0, createdAtNano).UTC()
		s.HardwareInjection = hwInjection != 0
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
