package db

// createTables creates the files, documents and annotations tables if they don't exist
func (s *PostgresDocumentStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS files (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(100) NOT NULL,
		content BYTEA NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id VARCHAR(36) PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		file_id VARCHAR(36) NOT NULL REFERENCES files(id),
		current_page INTEGER NOT NULL DEFAULT 1,
		zoom DOUBLE PRECISION NOT NULL DEFAULT 1,
		rotation INTEGER NOT NULL DEFAULT 0,
		total_pages INTEGER,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS annotations (
		document_id VARCHAR(36) NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		id VARCHAR(64) NOT NULL,
		seq INTEGER NOT NULL,
		type VARCHAR(16) NOT NULL,
		page INTEGER NOT NULL,
		color VARCHAR(32) NOT NULL,
		thickness DOUBLE PRECISION NOT NULL,
		points JSONB,
		text TEXT NOT NULL DEFAULT '',
		position JSONB,
		PRIMARY KEY (document_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);
	CREATE INDEX IF NOT EXISTS idx_annotations_document_seq ON annotations(document_id, seq);
	`

	_, err := s.db.Exec(query)
	return err
}
