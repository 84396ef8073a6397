// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/satchwsm/backbeat/pkg/persistence"
	"github.com/satchwsm/backbeat/pkg/persistence/memory"
	"github.com/satchwsm/backbeat/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"postgres", "postgresql", "memory"}

// NewPersistence opens the store named by the scheme of databaseURL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL, supportedPersistenceProviders) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "memory":
		logger.WarnContext(ctx, "Using in-memory persistence, state is lost on restart")

		return memory.NewPersistence(), nil
	default:
		return nil, fmt.Errorf("unsupported database url %q, expected one of %v", databaseURL, supportedPersistenceProviders)
	}
}

func parseProvider(url string, supported []string) string {
	provider, _, found := strings.Cut(url, "://")
	if !found {
		return ""
	}

	for _, s := range supported {
		if provider == s {
			return provider
		}
	}

	return ""
}
