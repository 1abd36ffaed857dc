package executions

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db: db,
	}
}

// Create stores the execution, assigning an ID when it has none. Output
// beyond MaxOutputBytes is cut off.
func (r *Repository) Create(execution *Execution) error {
	if execution.ID == "" {
		execution.ID = uuid.NewString()
	}

	if execution.StartedAt.IsZero() {
		execution.StartedAt = time.Now()
	}

	// timestamps are stored as text; keep them in one zone so they sort
	execution.StartedAt = execution.StartedAt.UTC()

	execution.Stdout = truncate(execution.Stdout)
	execution.Stderr = truncate(execution.Stderr)

	return r.db.Create(execution).Error
}

func (r *Repository) Get(id string) (*Execution, error) {
	var execution Execution

	if err := r.db.First(&execution, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExecutionNotFound
		}

		return nil, err
	}

	return &execution, nil
}

// List returns the most recent executions first. An empty host lists every
// host; a non-positive limit returns everything.
func (r *Repository) List(host string, limit int) ([]*Execution, error) {
	var list []*Execution

	query := r.db.Order("started_at DESC")

	if host != "" {
		query = query.Where("host = ?", host)
	}

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&list).Error; err != nil {
		return nil, err
	}

	return list, nil
}

// DeleteBefore removes executions started before cutoff and returns how many
// were removed.
func (r *Repository) DeleteBefore(cutoff time.Time) (int64, error) {
	result := r.db.Where("started_at < ?", cutoff.UTC()).Delete(&Execution{})

	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}
