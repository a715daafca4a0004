package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *SQLiteStore) ListTimetables(ctx context.Context) ([]Timetable, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, department, year, file_name, storage_locator, content, COALESCE(user_id, 0), created_at
        FROM timetables
        ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query timetables: %w", err)
	}
	defer rows.Close()

	timetables := []Timetable{}
	for rows.Next() {
		var t Timetable
		if err := rows.Scan(&t.ID, &t.Department, &t.Year, &t.FileName, &t.StorageLocator, &t.Content, &t.UserID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan timetable row: %w", err)
		}
		timetables = append(timetables, t)
	}
	return timetables, rows.Err()
}

func (s *SQLiteStore) GetTimetable(ctx context.Context, id int64) (*Timetable, error) {
	var t Timetable
	err := s.db.QueryRowContext(ctx, `
        SELECT id, department, year, file_name, storage_locator, content, COALESCE(user_id, 0), created_at
        FROM timetables WHERE id = ?`, id,
	).Scan(&t.ID, &t.Department, &t.Year, &t.FileName, &t.StorageLocator, &t.Content, &t.UserID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get timetable: %w", err)
	}
	return &t, nil
}

// CreateTimetable inserts t and fills in its ID and CreatedAt.
func (s *SQLiteStore) CreateTimetable(ctx context.Context, t *Timetable) error {
	t.CreatedAt = time.Now().UTC()
	var userID any
	if t.UserID != 0 {
		userID = t.UserID
	}
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO timetables (department, year, file_name, storage_locator, content, user_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Department, t.Year, t.FileName, t.StorageLocator, t.Content, userID, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert timetable: %w", err)
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) DeleteTimetable(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM timetables WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete timetable: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
