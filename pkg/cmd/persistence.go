// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/journeys/pkg/persistence"
	"github.com/dukex/journeys/pkg/persistence/memory"
	"github.com/dukex/journeys/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"postgres", "postgresql", "memory"}

// NewPersistence opens the store named by databaseURL: postgres:// (or
// postgresql://) for PostgreSQL, memory://[seed.yaml] for the in-memory store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return p, nil
	case "memory":
		logger.Warn("using in-memory persistence, enrollments are lost on restart")

		p, err := memory.NewPersistenceFromURL(ctx, databaseURL)
		if err != nil {
			return nil, err
		}

		return p, nil
	default:
		return nil, fmt.Errorf("unsupported database url %q, expected one of %v", databaseURL, supportedPersistenceProviders)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return ""
}
