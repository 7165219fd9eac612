package database

import (
	"database/sql"
	"errors"
)

// UpsertStory inserts a story or updates the existing record with the same slug.
func (db *DB) UpsertStory(s Story) error {
	_, err := db.conn.Exec(
		`INSERT INTO stories (slug, title, premise, folder, segment_count, duration_seconds, fallbacks)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			title = excluded.title,
			premise = COALESCE(excluded.premise, stories.premise),
			folder = excluded.folder,
			segment_count = excluded.segment_count,
			duration_seconds = excluded.duration_seconds,
			fallbacks = excluded.fallbacks,
			updated_at = datetime('now')`,
		s.Slug, s.Title, s.Premise, s.Folder, s.SegmentCount, s.DurationSeconds, s.Fallbacks,
	)
	return err
}

// GetStory returns the story with the given slug, or nil if unknown.
func (db *DB) GetStory(slug string) (*Story, error) {
	row := db.conn.QueryRow(
		`SELECT id, slug, title, premise, folder, segment_count, duration_seconds, fallbacks, created_at, updated_at
		FROM stories WHERE slug = ?`, slug,
	)
	s, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListStories returns all stories, most recently updated first.
func (db *DB) ListStories() ([]Story, error) {
	rows, err := db.conn.Query(
		`SELECT id, slug, title, premise, folder, segment_count, duration_seconds, fallbacks, created_at, updated_at
		FROM stories ORDER BY updated_at DESC, slug`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stories []Story
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, *s)
	}
	return stories, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStory(row scanner) (*Story, error) {
	var s Story
	if err := row.Scan(&s.ID, &s.Slug, &s.Title, &s.Premise, &s.Folder, &s.SegmentCount,
		&s.DurationSeconds, &s.Fallbacks, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
