// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/megicode/stepflow/pkg/persistence"
	"github.com/megicode/stepflow/pkg/persistence/memory"
	"github.com/megicode/stepflow/pkg/persistence/postgresql"
)

// NewPersistence selects the storage backend from the database URL. An empty
// URL falls back to the in-memory store, which only suits development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case databaseURL == "":
		logger.WarnContext(ctx, "DATABASE_URL is empty, using in-memory persistence")

		return memory.NewPersistence(), nil
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database url scheme: %s", databaseURL)
	}
}
