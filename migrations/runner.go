package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Runner applies the embedded schema to one database.
type Runner struct {
	db *sql.DB
	m  *migrate.Migrate
}

func newSource() (source.Driver, error) {
	src, err := iofs.New(FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migrations: source: %w", err)
	}
	return src, nil
}

// Open connects to databaseURL through the pgx stdlib driver and prepares a
// migrator over the embedded files. Callers must Close the runner.
func Open(ctx context.Context, databaseURL string) (*Runner, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, errors.New("migrations: database url is required")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("migrations: open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: ping db: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: db driver: %w", err)
	}
	src, err := newSource()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: create migrator: %w", err)
	}
	return &Runner{db: db, m: m}, nil
}

// Up applies every pending migration. An up-to-date schema is not an error.
// Cancelling ctx stops after the migration in flight.
func (r *Runner) Up(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.m.GracefulStop <- true
		case <-done:
		}
	}()
	if err := r.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// Down rolls back the given number of migrations.
func (r *Runner) Down(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("migrations: down: steps must be positive, got %d", steps)
	}
	if err := r.m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: down: %w", err)
	}
	return nil
}

// Force records version as applied and clears the dirty flag.
func (r *Runner) Force(version int) error {
	if err := r.m.Force(version); err != nil {
		return fmt.Errorf("migrations: force %d: %w", version, err)
	}
	return nil
}

// Version reports the applied schema version. An empty database is version 0.
func (r *Runner) Version() (version uint, dirty bool, err error) {
	version, dirty, err = r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrations: version: %w", err)
	}
	return version, dirty, nil
}

// Close releases the migrator and the connection.
func (r *Runner) Close() error {
	srcErr, dbErr := r.m.Close()
	closeErr := r.db.Close()
	return errors.Join(srcErr, dbErr, closeErr)
}

// Up opens databaseURL, applies pending migrations and returns the resulting
// schema version.
func Up(ctx context.Context, databaseURL string) (uint, error) {
	r, err := Open(ctx, databaseURL)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()
	if err := r.Up(ctx); err != nil {
		return 0, err
	}
	version, _, err := r.Version()
	return version, err
}
