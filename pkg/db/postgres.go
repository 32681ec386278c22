package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pdf-annotator/pkg/annotation"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresDocumentStore implements DocumentStore using PostgreSQL
type PostgresDocumentStore struct {
	db *sql.DB
}

// NewPostgresDocumentStore creates a new PostgreSQL document store
func NewPostgresDocumentStore(connStr string) (*PostgresDocumentStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresDocumentStore{db: db}

	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *PostgresDocumentStore) Close() error {
	return s.db.Close()
}

func (s *PostgresDocumentStore) CreateFile(name, contentType string, content []byte) (*File, error) {
	f := &File{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      contentType,
		Size:      len(content),
		Content:   content,
		CreatedAt: time.Now(),
	}

	_, err := s.db.Exec(
		`INSERT INTO files (id, name, type, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.Name, f.Type, f.Content, f.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	return f, nil
}

func (s *PostgresDocumentStore) GetFile(id string) (*File, error) {
	f := &File{}
	err := s.db.QueryRow(
		`SELECT id, name, type, content, created_at FROM files WHERE id = $1`, id,
	).Scan(&f.ID, &f.Name, &f.Type, &f.Content, &f.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	f.Size = len(f.Content)

	return f, nil
}

const documentColumns = `id, title, file_id, current_page, zoom, rotation, total_pages, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	doc := &Document{}
	var total sql.NullInt64
	err := row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.FileID,
		&doc.CurrentPage,
		&doc.Zoom,
		&doc.Rotation,
		&total,
		&doc.CreatedAt,
		&doc.UpdatedAt,
		&doc.Version,
	)
	if err != nil {
		return nil, err
	}
	if total.Valid {
		n := int(total.Int64)
		doc.TotalPages = &n
	}
	doc.Annotations = []annotation.Annotation{}
	return doc, nil
}

func (s *PostgresDocumentStore) CreateDocument(title, fileID string) (*Document, error) {
	id := uuid.New().String()
	now := time.Now()

	query := `
		INSERT INTO documents (id, title, file_id, current_page, zoom, rotation, created_at, updated_at, version)
		VALUES ($1, $2, $3, 1, 1, 0, $4, $5, 1)
		RETURNING ` + documentColumns

	doc, err := scanDocument(s.db.QueryRow(query, id, title, fileID, now, now))
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return doc, nil
}

func (s *PostgresDocumentStore) GetDocument(id string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	doc, err := scanDocument(s.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.Annotations, err = s.ListAnnotations(id)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

// UpdateDocument applies the provided fields, and the annotation set when
// given, in one transaction
func (s *PostgresDocumentStore) UpdateDocument(id string, updates *DocumentUpdate) (*Document, error) {
	// Build dynamic SET clauses for provided fields
	sets := []string{}
	args := []interface{}{}
	argPos := 1

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}
	if updates.Title != nil {
		add("title", *updates.Title)
	}
	if updates.CurrentPage != nil {
		add("current_page", *updates.CurrentPage)
	}
	if updates.Zoom != nil {
		add("zoom", *updates.Zoom)
	}
	if updates.Rotation != nil {
		add("rotation", *updates.Rotation)
	}
	if updates.TotalPages != nil {
		add("total_pages", *updates.TotalPages)
	}

	if len(sets) == 0 && updates.Annotations == nil {
		// Nothing to update; return current document
		return s.GetDocument(id)
	}

	// Always update updated_at and version
	add("updated_at", time.Now())
	sets = append(sets, "version = version + 1")

	args = append(args, id)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if updates.Annotations != nil {
		if err := writeAnnotations(tx, id, *updates.Annotations); err != nil {
			return nil, err
		}
	}

	query := fmt.Sprintf(`
		UPDATE documents
		SET %s
		WHERE id = $%d
		RETURNING %s
	`, strings.Join(sets, ", "), argPos, documentColumns)

	doc, err := scanDocument(tx.QueryRow(query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	doc.Annotations, err = s.ListAnnotations(id)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

func (s *PostgresDocumentStore) DeleteDocument(id string) error {
	result, err := s.db.Exec(`DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrDocumentNotFound
	}

	return nil
}

func (s *PostgresDocumentStore) ListDocuments() ([]*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents ORDER BY updated_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var documents []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		documents = append(documents, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return documents, nil
}

// ReplaceAnnotations rewrites the annotation set of a document in one transaction
func (s *PostgresDocumentStore) ReplaceAnnotations(documentID string, annotations []annotation.Annotation) error {
	_, err := s.UpdateDocument(documentID, &DocumentUpdate{Annotations: &annotations})
	return err
}

func writeAnnotations(tx *sql.Tx, documentID string, annotations []annotation.Annotation) error {
	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)`, documentID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check document: %w", err)
	}
	if !exists {
		return ErrDocumentNotFound
	}

	if _, err := tx.Exec(`DELETE FROM annotations WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to clear annotations: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO annotations (document_id, id, seq, type, page, color, thickness, points, text, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, a := range annotations {
		points, err := jsonOrNull(a.Points, len(a.Points) > 0)
		if err != nil {
			return err
		}
		position, err := jsonOrNull(a.Position, a.Position != nil)
		if err != nil {
			return err
		}
		_, err = stmt.Exec(documentID, a.ID, i, string(a.Kind), a.Page, a.Color, a.Thickness, points, a.Text, position)
		if err != nil {
			return fmt.Errorf("failed to insert annotation %s: %w", a.ID, err)
		}
	}
	return nil
}

func jsonOrNull(v interface{}, present bool) (interface{}, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode annotation field: %w", err)
	}
	return string(b), nil
}

func (s *PostgresDocumentStore) ListAnnotations(documentID string) ([]annotation.Annotation, error) {
	rows, err := s.db.Query(`
		SELECT id, type, page, color, thickness, points, text, position
		FROM annotations
		WHERE document_id = $1
		ORDER BY seq
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	defer rows.Close()

	annotations := []annotation.Annotation{}
	for rows.Next() {
		var (
			a                annotation.Annotation
			kind             string
			points, position []byte
		)
		if err := rows.Scan(&a.ID, &kind, &a.Page, &a.Color, &a.Thickness, &points, &a.Text, &position); err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		a.Kind = annotation.Kind(kind)
		if len(points) > 0 {
			if err := json.Unmarshal(points, &a.Points); err != nil {
				return nil, fmt.Errorf("failed to decode points of %s: %w", a.ID, err)
			}
		}
		if len(position) > 0 {
			if err := json.Unmarshal(position, &a.Position); err != nil {
				return nil, fmt.Errorf("failed to decode position of %s: %w", a.ID, err)
			}
		}
		annotations = append(annotations, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return annotations, nil
}

// Compile-time check to ensure PostgresDocumentStore implements DocumentStore interface
var _ IDocumentStore = (*PostgresDocumentStore)(nil)
