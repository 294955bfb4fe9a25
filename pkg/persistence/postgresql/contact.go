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

// ContactRepository handles contact database operations.
type ContactRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewContactRepository creates a new contact repository.
func NewContactRepository(db *sql.DB, logger *slog.Logger) *ContactRepository {
	return &ContactRepository{db: db, logger: logger}
}

func (r *ContactRepository) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	query := `
		SELECT
			id
		  , email
		  , first_name
		  , last_name
		  , subscription_status
		  , attributes
		  , created_at
		FROM contacts
		WHERE id = $1
	`

	var (
		contact        models.Contact
		firstName      sql.NullString
		lastName       sql.NullString
		attributesJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&contact.ID,
		&contact.Email,
		&firstName,
		&lastName,
		&contact.SubscriptionStatus,
		&attributesJSON,
		&contact.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrContactNotFound
		}

		return nil, fmt.Errorf("failed to scan contact: %w", err)
	}

	contact.FirstName = firstName.String
	contact.LastName = lastName.String

	if len(attributesJSON) > 0 {
		err := json.Unmarshal(attributesJSON, &contact.Attributes)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal contact attributes: %w", err)
		}
	}

	return &contact, nil
}

func (r *ContactRepository) Save(ctx context.Context, contact *models.Contact) error {
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}

	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}

	attributesJSON, err := json.Marshal(contact.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal contact attributes: %w", err)
	}

	query := `
		INSERT INTO contacts (id, email, first_name, last_name, subscription_status, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			subscription_status = EXCLUDED.subscription_status,
			attributes = EXCLUDED.attributes
	`

	_, err = r.db.ExecContext(ctx, query,
		contact.ID,
		contact.Email,
		contact.FirstName,
		contact.LastName,
		contact.SubscriptionStatus,
		attributesJSON,
		contact.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}

	return nil
}
