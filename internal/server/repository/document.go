package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"couplesync/internal/common"
	"couplesync/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Filter narrows a List call to documents whose payload matches.
type Filter struct {
	Field string
	Op    string // "eq" or "contains"
	Value string
}

// Order sorts a List result by a single payload field.
type Order struct {
	Field string
	Desc  bool
}

// DocumentRepository handles database operations for documents
type DocumentRepository struct {
	db *pgxpool.Pool
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (id, collection, version, fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		doc.ID, doc.Collection, doc.Version, doc.Fields, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// Get retrieves a document by collection and id
func (r *DocumentRepository) Get(ctx context.Context, collection, id string) (*models.Document, error) {
	query := `
		SELECT id, collection, version, fields, created_at, updated_at
		FROM documents
		WHERE collection = $1 AND id = $2
	`
	var doc models.Document
	err := r.db.QueryRow(ctx, query, collection, id).Scan(
		&doc.ID, &doc.Collection, &doc.Version, &doc.Fields, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %s/%s: %w", collection, id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// Update merges patch into the document's payload only if the stored
// version still equals expectedVersion. A version mismatch fails with
// common.ErrConflict, a missing document with common.ErrNotFound.
func (r *DocumentRepository) Update(ctx context.Context, collection, id string, expectedVersion int64, patch map[string]any) (*models.Document, error) {
	query := `
		UPDATE documents
		SET fields = fields || $4, version = version + 1, updated_at = now()
		WHERE collection = $1 AND id = $2 AND version = $3
		RETURNING id, collection, version, fields, created_at, updated_at
	`
	var doc models.Document
	err := r.db.QueryRow(ctx, query, collection, id, expectedVersion, patch).Scan(
		&doc.ID, &doc.Collection, &doc.Version, &doc.Fields, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err == nil {
		return &doc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	// No row matched: distinguish a stale version from a missing document.
	if _, getErr := r.Get(ctx, collection, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("document %s/%s: stale version %d: %w", collection, id, expectedVersion, common.ErrConflict)
}

// Delete removes a document and returns its last state for the change feed
func (r *DocumentRepository) Delete(ctx context.Context, collection, id string) (*models.Document, error) {
	query := `
		DELETE FROM documents
		WHERE collection = $1 AND id = $2
		RETURNING id, collection, version, fields, created_at, updated_at
	`
	var doc models.Document
	err := r.db.QueryRow(ctx, query, collection, id).Scan(
		&doc.ID, &doc.Collection, &doc.Version, &doc.Fields, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %s/%s: %w", collection, id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to delete document: %w", err)
	}
	return &doc, nil
}

// List retrieves documents in a collection matching every filter
func (r *DocumentRepository) List(ctx context.Context, collection string, filters []Filter, order *Order) ([]*models.Document, error) {
	query := `
		SELECT id, collection, version, fields, created_at, updated_at
		FROM documents
		WHERE collection = $1
	`
	args := []any{collection}

	for _, f := range filters {
		switch f.Op {
		case "eq":
			args = append(args, f.Field, f.Value)
			query += fmt.Sprintf(" AND fields->>$%d = $%d", len(args)-1, len(args))
		case "contains":
			member, err := json.Marshal([]string{f.Value})
			if err != nil {
				return nil, fmt.Errorf("failed to encode filter value: %w", err)
			}
			args = append(args, f.Field, string(member))
			query += fmt.Sprintf(" AND fields->$%d @> $%d::jsonb", len(args)-1, len(args))
		default:
			return nil, fmt.Errorf("unsupported filter op %q: %w", f.Op, common.ErrValidation)
		}
	}

	if order != nil {
		args = append(args, order.Field)
		dir := "ASC"
		if order.Desc {
			dir = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY fields->>$%d %s", len(args), dir)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]*models.Document, 0)
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(&doc.ID, &doc.Collection, &doc.Version, &doc.Fields, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	return docs, nil
}
