package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/JonMunkholm/formexport/db/migrations"
)

// Migrate applies the embedded migrations to the database at databaseURL.
// It reports the schema version after migrating.
func Migrate(databaseURL string) (uint, error) {
	sourceDriver, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return 0, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	migrator, err := migrate.NewWithSourceInstance("iofs", sourceDriver, migrateURL(databaseURL))
	if err != nil {
		return 0, fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, _, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// migrateURL points a postgres URL at the pgx/v5 migrate driver.
func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, scheme) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, scheme)
		}
	}
	return databaseURL
}
