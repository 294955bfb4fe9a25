package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/journeys/pkg/models"
	"github.com/dukex/journeys/pkg/persistence"
	"github.com/google/uuid"
)

// EnrollmentRepository handles enrollment database operations. The partial
// unique index on (workflow_id, contact_id) WHERE status = 'active' backs the
// one-active-enrollment guarantee.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEnrollmentRepository creates a new enrollment repository.
func NewEnrollmentRepository(db *sql.DB, logger *slog.Logger) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, logger: logger}
}

const selectEnrollmentColumns = `
	SELECT
		id
	  , workflow_id
	  , contact_id
	  , current_step_index
	  , status
	  , trigger_data
	  , enrolled_at
	  , completed_at
	FROM enrollments
`

func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	row := r.db.QueryRowContext(ctx, selectEnrollmentColumns+" WHERE id = $1", id)

	enrollment, err := r.scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEnrollmentNotFound
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) GetActive(ctx context.Context, workflowID, contactID string) (*models.Enrollment, error) {
	query := selectEnrollmentColumns + " WHERE workflow_id = $1 AND contact_id = $2 AND status = $3"

	row := r.db.QueryRowContext(ctx, query, workflowID, contactID, string(models.EnrollmentStatusActive))

	enrollment, err := r.scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEnrollmentNotFound
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

// CreateActive inserts the enrollment and falls back to the existing active
// row when the partial unique index rejects it.
func (r *EnrollmentRepository) CreateActive(ctx context.Context, enrollment *models.Enrollment) (*models.Enrollment, bool, error) {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}

	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}

	enrollment.Status = models.EnrollmentStatusActive
	enrollment.CompletedAt = nil

	triggerDataJSON, err := json.Marshal(enrollment.TriggerData)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	query := `
		INSERT INTO enrollments (id, workflow_id, contact_id, current_step_index, status, trigger_data, enrolled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (workflow_id, contact_id) WHERE status = 'active' DO NOTHING
		RETURNING id
	`

	var insertedID string

	err = r.db.QueryRowContext(ctx, query,
		enrollment.ID,
		enrollment.WorkflowID,
		enrollment.ContactID,
		enrollment.CurrentStepIndex,
		string(enrollment.Status),
		triggerDataJSON,
		enrollment.EnrolledAt,
	).Scan(&insertedID)

	switch {
	case err == nil:
		stored := *enrollment

		return &stored, true, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, err := r.GetActive(ctx, enrollment.WorkflowID, enrollment.ContactID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load existing enrollment: %w", err)
		}

		return existing, false, nil
	default:
		return nil, false, fmt.Errorf("failed to insert enrollment: %w", err)
	}
}

func (r *EnrollmentRepository) UpdateStepIndex(ctx context.Context, id string, stepIndex int) error {
	query := `
		UPDATE enrollments
		SET current_step_index = $2
		WHERE id = $1 AND status = 'active' AND current_step_index <= $2
	`

	result, err := r.db.ExecContext(ctx, query, id, stepIndex)
	if err != nil {
		return persistence.NewEnrollmentError("UpdateStepIndex", id, err)
	}

	return r.ensureExists(ctx, "UpdateStepIndex", id, result)
}

func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, at time.Time) (bool, error) {
	var completedAt *time.Time
	if status == models.EnrollmentStatusCompleted {
		completedAt = &at
	}

	query := `
		UPDATE enrollments
		SET status = $2, completed_at = COALESCE($3, completed_at)
		WHERE id = $1 AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, id, string(status), completedAt)
	if err != nil {
		return false, persistence.NewEnrollmentError("UpdateStatus", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewEnrollmentError("UpdateStatus", id, err)
	}

	if affected > 0 {
		return true, nil
	}

	return false, r.ensureExists(ctx, "UpdateStatus", id, result)
}

func (r *EnrollmentRepository) ForceStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	result, err := r.db.ExecContext(ctx, "UPDATE enrollments SET status = $2 WHERE id = $1", id, string(status))
	if err != nil {
		return persistence.NewEnrollmentError("ForceStatus", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEnrollmentError("ForceStatus", id, err)
	}

	if affected == 0 {
		return persistence.NewEnrollmentError("ForceStatus", id, persistence.ErrEnrollmentNotFound)
	}

	return nil
}

func (r *EnrollmentRepository) CountByStatus(ctx context.Context, workflowID string) (map[models.EnrollmentStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM enrollments WHERE workflow_id = $1 GROUP BY status", workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to count enrollments: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	counts := make(map[models.EnrollmentStatus]int)

	for rows.Next() {
		var (
			status string
			count  int
		)

		err := rows.Scan(&status, &count)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment count: %w", err)
		}

		counts[models.EnrollmentStatus(status)] = count
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating enrollment counts: %w", err)
	}

	return counts, nil
}

// ensureExists distinguishes a guarded no-op update from a missing row.
func (r *EnrollmentRepository) ensureExists(ctx context.Context, op, id string, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEnrollmentError(op, id, err)
	}

	if affected > 0 {
		return nil
	}

	var exists bool

	err = r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM enrollments WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return persistence.NewEnrollmentError(op, id, err)
	}

	if !exists {
		return persistence.NewEnrollmentError(op, id, persistence.ErrEnrollmentNotFound)
	}

	return nil
}

func (r *EnrollmentRepository) scanEnrollment(scanner rowScanner) (*models.Enrollment, error) {
	var (
		enrollment      models.Enrollment
		status          string
		triggerDataJSON []byte
		completedAt     sql.NullTime
	)

	err := scanner.Scan(
		&enrollment.ID,
		&enrollment.WorkflowID,
		&enrollment.ContactID,
		&enrollment.CurrentStepIndex,
		&status,
		&triggerDataJSON,
		&enrollment.EnrolledAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	enrollment.Status = models.EnrollmentStatus(status)

	if completedAt.Valid {
		t := completedAt.Time
		enrollment.CompletedAt = &t
	}

	if len(triggerDataJSON) > 0 {
		err := json.Unmarshal(triggerDataJSON, &enrollment.TriggerData)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
		}
	}

	return &enrollment, nil
}
