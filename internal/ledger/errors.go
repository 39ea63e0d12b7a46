package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConnectivity indicates the ledger store could not be reached.
var ErrConnectivity = errors.New("ledger: store unreachable")

// ErrRepositoryNotInitialised is returned by a zero Repository.
var ErrRepositoryNotInitialised = errors.New("ledger: repository not initialised")

// ComputationError reports a failed accumulation step after it was logged to the run ledger.
type ComputationError struct {
	Unit string
	Key  string
	Err  error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Unit, e.Key, e.Err)
}

func (e *ComputationError) Unwrap() error {
	return e.Err
}

// IsConnectivity reports whether err is a store connectivity failure.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrConnectivity)
}

// Classify wraps transport level failures with ErrConnectivity. Errors that
// already carry ErrConnectivity are returned unchanged.
func Classify(op string, err error) error {
	if err == nil || errors.Is(err, ErrConnectivity) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("ledger: %s: %w", op, err)
	}
	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connectErr),
		errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		pgconn.Timeout(err):
		return fmt.Errorf("ledger: %s: %w: %w", op, ErrConnectivity, err)
	}
	return fmt.Errorf("ledger: %s: %w", op, err)
}
