package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weblisite/synthralos-engine/pkg/persistence"
	"github.com/weblisite/synthralos-engine/pkg/persistence/file"
	"github.com/weblisite/synthralos-engine/pkg/persistence/postgresql"
)

// NewPersistence builds the store selected by the database URL scheme.
// postgres:// URLs get the PostgreSQL store; everything else falls back to
// the file store rooted at the URL path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		persist, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}

		return persist, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parseProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return scheme
}
