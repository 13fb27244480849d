// Package store implements the scheduling record store on Postgres and in
// memory. Every query is parameterized by tenant id.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
)

const uniqueViolation = "23505"

// classify maps driver errors onto the scheduling taxonomy. Server-side
// errors keep their detail; connection-level failures become
// scheduling.ErrStoreUnavailable so callers can retry them.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("store: %s: %w", op, scheduling.ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolation:
			return fmt.Errorf("store: %s: %w (%s)", op, scheduling.ErrDuplicate, pgErr.ConstraintName)
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "40001", pgErr.Code == "57P01":
			return fmt.Errorf("store: %s: %w: %w", op, scheduling.ErrStoreUnavailable, err)
		default:
			return fmt.Errorf("store: %s: %w", op, err)
		}
	}
	return fmt.Errorf("store: %s: %w: %w", op, scheduling.ErrStoreUnavailable, err)
}
