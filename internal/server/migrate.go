package server

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies database migrations from the given directory.
// dir example: file://migrations
func Migrate(dir string, dsn string, direction string, steps int) error {
	if dir == "" {
		dir = "file://migrations"
	}
	if dsn == "" {
		return fmt.Errorf("postgres dsn required for migrations")
	}
	m, err := migrate.New(dir, dsn)
	if err != nil {
		return err
	}
	var mErr error
	switch direction {
	case "up":
		if steps > 0 {
			mErr = m.Steps(steps)
		} else {
			mErr = m.Up()
		}
	case "down":
		if steps > 0 {
			mErr = m.Steps(-steps)
		} else {
			mErr = m.Down()
		}
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}
	if errors.Is(mErr, migrate.ErrNoChange) {
		return nil
	}
	return mErr
}
