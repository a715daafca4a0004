package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const knowledgeBaseRowID = 1

// GetKnowledgeBase returns the shared corpus. A missing row is an empty corpus.
func (s *SQLiteStore) GetKnowledgeBase(ctx context.Context) (*KnowledgeBase, error) {
	return getKnowledgeBase(ctx, s.db)
}

// UpdateKnowledgeBase reads the latest corpus, hands it to mutate and writes
// the result back inside one transaction. If mutate returns an error nothing
// is written.
func (s *SQLiteStore) UpdateKnowledgeBase(ctx context.Context, mutate func(kb *KnowledgeBase) error) (*KnowledgeBase, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin knowledge base transaction: %w", err)
	}
	defer tx.Rollback()

	kb, err := getKnowledgeBase(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := mutate(kb); err != nil {
		return nil, err
	}
	if err := setKnowledgeBase(ctx, tx, kb); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit knowledge base: %w", err)
	}
	return kb, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getKnowledgeBase(ctx context.Context, q queryer) (*KnowledgeBase, error) {
	var (
		kb        KnowledgeBase
		filesJSON string
		updatedAt sql.NullTime
	)
	err := q.QueryRowContext(ctx,
		"SELECT content, files_json, updated_at FROM knowledge_base WHERE id = ?", knowledgeBaseRowID,
	).Scan(&kb.Content, &filesJSON, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &KnowledgeBase{Files: []KnowledgeFile{}}, nil
		}
		return nil, fmt.Errorf("failed to query knowledge base: %w", err)
	}
	if filesJSON != "" {
		if err := json.Unmarshal([]byte(filesJSON), &kb.Files); err != nil {
			return nil, fmt.Errorf("failed to unmarshal knowledge files: %w", err)
		}
	}
	if kb.Files == nil {
		kb.Files = []KnowledgeFile{}
	}
	if updatedAt.Valid {
		kb.UpdatedAt = updatedAt.Time
	}
	return &kb, nil
}

func setKnowledgeBase(ctx context.Context, q queryer, kb *KnowledgeBase) error {
	files := kb.Files
	if files == nil {
		files = []KnowledgeFile{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("failed to marshal knowledge files: %w", err)
	}
	kb.UpdatedAt = time.Now().UTC()
	_, err = q.ExecContext(ctx, `
        INSERT INTO knowledge_base (id, content, files_json, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET content = excluded.content, files_json = excluded.files_json, updated_at = excluded.updated_at`,
		knowledgeBaseRowID, kb.Content, string(filesJSON), kb.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save knowledge base: %w", err)
	}
	return nil
}
