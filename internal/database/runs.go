package database

import (
	"github.com/google/uuid"
)

// StartRun records the start of a run and returns its id.
func (db *DB) StartRun(kind string) (string, error) {
	id := uuid.NewString()
	if _, err := db.conn.Exec("INSERT INTO runs (id, kind) VALUES (?, ?)", id, kind); err != nil {
		return "", err
	}
	return id, nil
}

// FinishRun stamps a run with its outcome counts.
func (db *DB) FinishRun(id string, processed, succeeded, failed int) error {
	_, err := db.conn.Exec(
		`UPDATE runs SET finished_at = datetime('now'), processed = ?, succeeded = ?, failed = ?
		WHERE id = ?`,
		processed, succeeded, failed, id,
	)
	return err
}

// GetRecentRuns returns up to limit runs, newest first.
func (db *DB) GetRecentRuns(limit int) ([]Run, error) {
	rows, err := db.conn.Query(
		`SELECT id, kind, started_at, finished_at, processed, succeeded, failed
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Kind, &r.StartedAt, &r.FinishedAt,
			&r.Processed, &r.Succeeded, &r.Failed); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// InsertRepair records one repair action taken during a run.
func (db *DB) InsertRepair(runID, slug, action string) error {
	_, err := db.conn.Exec(
		"INSERT INTO repairs (run_id, slug, action) VALUES (?, ?, ?)",
		runID, slug, action,
	)
	return err
}

// GetRepairs returns the repair history of a story, oldest first.
func (db *DB) GetRepairs(slug string) ([]Repair, error) {
	rows, err := db.conn.Query(
		"SELECT id, run_id, slug, action, created_at FROM repairs WHERE slug = ? ORDER BY id", slug,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repairs []Repair
	for rows.Next() {
		var r Repair
		if err := rows.Scan(&r.ID, &r.RunID, &r.Slug, &r.Action, &r.CreatedAt); err != nil {
			return nil, err
		}
		repairs = append(repairs, r)
	}
	return repairs, rows.Err()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM stories", &s.Stories},
		{"SELECT COUNT(*) FROM stories WHERE fallbacks > 0", &s.StoriesWithFallbacks},
		{"SELECT COUNT(*) FROM runs", &s.Runs},
		{"SELECT COUNT(*) FROM repairs", &s.Repairs},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}
