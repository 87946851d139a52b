package store

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/facextract/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store is the run ledger: a PostgreSQL catalogue of runs, documents and the
// faces written for them.
type Store struct {
	conn *pgx.Conn
}

// FaceRecord is one row of face_crops.
type FaceRecord struct {
	DocumentID string
	RunID      uuid.UUID
	FaceIndex  int
	ImageIndex int
	Path       string
	Rect       types.Rect
	Error      string
	CreatedAt  time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS extraction_runs (
			id UUID PRIMARY KEY,
			input_dir TEXT NOT NULL,
			output_dir TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			files INT NOT NULL DEFAULT 0,
			done INT NOT NULL DEFAULT 0,
			no_faces INT NOT NULL DEFAULT 0,
			skipped INT NOT NULL DEFAULT 0,
			failed INT NOT NULL DEFAULT 0,
			faces_written INT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS document_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			doc_type TEXT NOT NULL,
			run_id UUID REFERENCES extraction_runs(id),
			status TEXT NOT NULL,
			images INT NOT NULL DEFAULT 0,
			error TEXT,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS face_crops (
			id BIGSERIAL PRIMARY KEY,
			document_id TEXT REFERENCES document_metadata(id) ON DELETE CASCADE,
			run_id UUID REFERENCES extraction_runs(id),
			face_index INT NOT NULL,
			image_index INT NOT NULL,
			path TEXT NOT NULL,
			x INT NOT NULL,
			y INT NOT NULL,
			w INT NOT NULL,
			h INT NOT NULL,
			error TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS face_crops_document_id_idx ON face_crops (document_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// StartRun registers a run before any document is processed.
func (s *Store) StartRun(ctx context.Context, run types.RunSummary) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO extraction_runs (id, input_dir, output_dir, started_at)
		VALUES ($1::uuid, $2, $3, $4)
	`, run.ID.String(), run.InputDir, run.OutputDir, run.StartedAt)
	return err
}

// FinishRun stores the final counters of a run.
func (s *Store) FinishRun(ctx context.Context, run types.RunSummary) error {
	_, err := s.conn.Exec(ctx, `
		UPDATE extraction_runs
		SET finished_at = $2, files = $3, done = $4, no_faces = $5, skipped = $6, failed = $7, faces_written = $8
		WHERE id = $1::uuid
	`, run.ID.String(), run.FinishedAt, run.Files, run.Done, run.NoFaces, run.Skipped, run.Failed, run.FacesWritten)
	return err
}

// RecordDocument upserts a processed document and replaces its face rows so a
// re-run of the same file never duplicates them. Documents without an id
// (skipped before identification) are ignored.
func (s *Store) RecordDocument(ctx context.Context, runID uuid.UUID, res types.FileResult) error {
	if res.DocumentID == "" {
		return nil
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var errText *string
	if res.Err != nil {
		msg := res.Err.Error()
		errText = &msg
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO document_metadata (id, path, doc_type, run_id, status, images, error, duration_ms, indexed_at)
		VALUES ($1, $2, $3, $4::uuid, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			path = EXCLUDED.path, run_id = EXCLUDED.run_id, status = EXCLUDED.status,
			images = EXCLUDED.images, error = EXCLUDED.error,
			duration_ms = EXCLUDED.duration_ms, indexed_at = NOW()
	`, res.DocumentID, res.Path, res.Type.String(), runID.String(), string(res.Status),
		res.Images, errText, res.Duration.Milliseconds())
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM face_crops WHERE document_id = $1", res.DocumentID); err != nil {
		return err
	}

	if len(res.Faces) > 0 {
		batch := &pgx.Batch{}
		for _, f := range res.Faces {
			var faceErr *string
			if f.Err != nil {
				msg := f.Err.Error()
				faceErr = &msg
			}
			r := f.Face.Rect
			batch.Queue(`
				INSERT INTO face_crops (document_id, run_id, face_index, image_index, path, x, y, w, h, error)
				VALUES ($1, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10)
			`, res.DocumentID, runID.String(), f.Index, f.Face.ImageIndex, f.Path, r.X, r.Y, r.W, r.H, faceErr)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert face rows: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ListFaces returns the face rows of a document ordered by face index.
func (s *Store) ListFaces(ctx context.Context, documentID string) ([]FaceRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT document_id, run_id::text, face_index, image_index, path, x, y, w, h, COALESCE(error, ''), created_at
		FROM face_crops
		WHERE document_id = $1
		ORDER BY face_index ASC
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var faces []FaceRecord
	for rows.Next() {
		var f FaceRecord
		var runID string
		if err := rows.Scan(&f.DocumentID, &runID, &f.FaceIndex, &f.ImageIndex, &f.Path,
			&f.Rect.X, &f.Rect.Y, &f.Rect.W, &f.Rect.H, &f.Error, &f.CreatedAt); err != nil {
			return nil, err
		}
		if f.RunID, err = uuid.Parse(runID); err != nil {
			return nil, err
		}
		faces = append(faces, f)
	}
	return faces, rows.Err()
}

// Reset drops all ledger tables and recreates them empty.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS face_crops CASCADE;
		DROP TABLE IF EXISTS document_metadata CASCADE;
		DROP TABLE IF EXISTS extraction_runs CASCADE;
	`)
	if err != nil {
		return err
	}
	return initSchema(ctx, s.conn)
}
