package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/domain/repository"
	"tutorchat/pkg/errors"
)

type sqlTutor struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	Subjects  string    `db:"subjects"`
	Rating    float64   `db:"rating"`
	CreatedAt time.Time `db:"created_at"`
}

func (t *sqlTutor) toEntity() (*entity.Tutor, error) {
	tutor := &entity.Tutor{
		ID:        t.ID,
		Name:      t.Name,
		Email:     t.Email,
		Rating:    t.Rating,
		CreatedAt: t.CreatedAt,
	}
	if t.Subjects != "" {
		if err := json.Unmarshal([]byte(t.Subjects), &tutor.Subjects); err != nil {
			return nil, err
		}
	}
	return tutor, nil
}

type sqlTutorRepository struct {
	store *SQLStore
}

func NewSQLTutorRepository(store *SQLStore) repository.TutorRepository {
	return &sqlTutorRepository{
		store: store,
	}
}

func (r *sqlTutorRepository) Create(ctx context.Context, tutor *entity.Tutor) error {
	if tutor.CreatedAt.IsZero() {
		tutor.CreatedAt = time.Now().UTC()
	}
	subjects, err := json.Marshal(tutor.Subjects)
	if err != nil {
		return errors.Internal("Failed to encode tutor subjects", err)
	}
	if tutor.Subjects == nil {
		subjects = []byte("[]")
	}

	_, err = r.store.db.ExecContext(ctx, r.store.rebind(`
		INSERT INTO tutors (id, name, email, subjects, rating, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		tutor.ID, tutor.Name, tutor.Email, string(subjects), tutor.Rating, tutor.CreatedAt.UTC(),
	)
	if err != nil {
		return errors.Internal("Failed to create tutor", err)
	}
	return nil
}

func (r *sqlTutorRepository) GetByID(ctx context.Context, id string) (*entity.Tutor, error) {
	var row sqlTutor
	err := r.store.db.GetContext(ctx, &row, r.store.rebind(
		"SELECT id, name, email, subjects, rating, created_at FROM tutors WHERE id = ?"), id)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("Tutor", err)
		}
		return nil, errors.Internal("Failed to get tutor", err)
	}

	tutor, err := row.toEntity()
	if err != nil {
		return nil, errors.Internal("Failed to parse tutor", err)
	}
	return tutor, nil
}

func (r *sqlTutorRepository) List(ctx context.Context) ([]*entity.Tutor, error) {
	var rows []sqlTutor
	err := r.store.db.SelectContext(ctx, &rows,
		"SELECT id, name, email, subjects, rating, created_at FROM tutors ORDER BY name")
	if err != nil {
		return nil, errors.Internal("Failed to list tutors", err)
	}

	tutors := make([]*entity.Tutor, 0, len(rows))
	for i := range rows {
		tutor, err := rows[i].toEntity()
		if err != nil {
			return nil, errors.Internal("Failed to parse tutor", err)
		}
		tutors = append(tutors, tutor)
	}
	return tutors, nil
}
