package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/grad-gate/internal/database"
)

// StudentRepository provides PostgreSQL-backed student storage.
type StudentRepository struct {
	pool *Pool
}

// NewStudentRepository creates a new PostgreSQL student repository.
func NewStudentRepository(pool *Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

// Get retrieves a student by ID.
func (r *StudentRepository) Get(ctx context.Context, id string) (*database.Student, error) {
	query := `
		SELECT id, name, email, portal_enabled, eligible, primary_embedding, dim, created_at
		FROM students
		WHERE id = $1
	`

	var s database.Student
	var vec pgvector.Vector

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.Name,
		&s.Email,
		&s.PortalEnabled,
		&s.Eligible,
		&vec,
		&s.Dim,
		&s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query student: %w", err)
	}

	if emb := vec.Slice(); len(emb) > 0 {
		s.PrimaryEmbedding = emb
	}
	return &s, nil
}

// List returns all students ordered by ID.
func (r *StudentRepository) List(ctx context.Context) ([]database.Student, error) {
	query := `
		SELECT id, name, email, portal_enabled, eligible, primary_embedding, dim, created_at
		FROM students
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	var students []database.Student
	for rows.Next() {
		var s database.Student
		var vec pgvector.Vector
		if err := rows.Scan(&s.ID, &s.Name, &s.Email, &s.PortalEnabled, &s.Eligible, &vec, &s.Dim, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		if emb := vec.Slice(); len(emb) > 0 {
			s.PrimaryEmbedding = emb
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return students, nil
}

// Count returns the total number of registered students.
func (r *StudentRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM students").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return count, nil
}

// Save inserts or updates a student record.
func (r *StudentRepository) Save(ctx context.Context, s database.Student) error {
	query := `
		INSERT INTO students (id, name, email, portal_enabled, eligible, primary_embedding, dim, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			portal_enabled = EXCLUDED.portal_enabled,
			eligible = EXCLUDED.eligible,
			primary_embedding = EXCLUDED.primary_embedding,
			dim = EXCLUDED.dim
	`

	var vec any
	if len(s.PrimaryEmbedding) > 0 {
		vec = pgvector.NewVector(s.PrimaryEmbedding)
	}

	_, err := r.pool.Exec(ctx, query, s.ID, s.Name, s.Email, s.PortalEnabled, s.Eligible, vec, s.Dim)
	if err != nil {
		return fmt.Errorf("save student: %w", err)
	}
	return nil
}

// GetCardEmbedding retrieves the card embedding for a student and model.
func (r *StudentRepository) GetCardEmbedding(ctx context.Context, studentID, model string) (*database.CardEmbedding, error) {
	query := `
		SELECT student_id, model, embedding, dim, created_at
		FROM card_embeddings
		WHERE student_id = $1 AND model = $2
	`

	var emb database.CardEmbedding
	var vec pgvector.Vector

	err := r.pool.QueryRow(ctx, query, studentID, model).Scan(
		&emb.StudentID,
		&emb.Model,
		&vec,
		&emb.Dim,
		&emb.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query card embedding: %w", err)
	}

	emb.Embedding = vec.Slice()
	return &emb, nil
}

// SaveCardEmbedding stores a card embedding, replacing any existing one for
// the same student and model.
func (r *StudentRepository) SaveCardEmbedding(ctx context.Context, emb database.CardEmbedding) error {
	query := `
		INSERT INTO card_embeddings (student_id, model, embedding, dim, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (student_id, model) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			dim = EXCLUDED.dim,
			created_at = NOW()
	`

	_, err := r.pool.Exec(ctx, query, emb.StudentID, emb.Model, pgvector.NewVector(emb.Embedding), emb.Dim)
	if err != nil {
		return fmt.Errorf("save card embedding: %w", err)
	}
	return nil
}
