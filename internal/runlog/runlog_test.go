package runlog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgermart/internal/ledger"
)

type finishCall struct {
	id      int64
	status  Status
	rows    int64
	message string
}

type memoryLedger struct {
	next     int64
	started  []string
	finished []finishCall
	startErr error
}

func (m *memoryLedger) Start(ctx context.Context, unit string) (int64, error) {
	if m.startErr != nil {
		return 0, m.startErr
	}
	m.next++
	m.started = append(m.started, unit)
	return m.next, nil
}

func (m *memoryLedger) Finish(ctx context.Context, runID int64, status Status, rows int64, message string) error {
	m.finished = append(m.finished, finishCall{id: runID, status: status, rows: rows, message: message})
	return nil
}

func TestBracketRecordsSuccess(t *testing.T) {
	runs := &memoryLedger{}
	rows, err := Bracket(context.Background(), runs, UnitTurnover, "2018-01-09", func(ctx context.Context) (int64, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), rows)
	require.Equal(t, []string{UnitTurnover}, runs.started)
	require.Len(t, runs.finished, 1)
	require.Equal(t, StatusSuccess, runs.finished[0].status)
	require.Equal(t, int64(42), runs.finished[0].rows)
	require.Contains(t, runs.finished[0].message, "2018-01-09")
}

func TestBracketRecordsFailure(t *testing.T) {
	runs := &memoryLedger{}
	boom := errors.New("division by zero")
	_, err := Bracket(context.Background(), runs, UnitBalance, "2018-01-10", func(ctx context.Context) (int64, error) {
		return 0, boom
	})
	require.Error(t, err)

	var compErr *ledger.ComputationError
	require.ErrorAs(t, err, &compErr)
	require.Equal(t, UnitBalance, compErr.Unit)
	require.Equal(t, "2018-01-10", compErr.Key)
	require.ErrorIs(t, err, boom)

	require.Len(t, runs.finished, 1)
	require.Equal(t, StatusFailed, runs.finished[0].status)
	require.Equal(t, int64(0), runs.finished[0].rows)
	require.Contains(t, runs.finished[0].message, "division by zero")
}

func TestBracketKeepsConnectivityVisible(t *testing.T) {
	runs := &memoryLedger{}
	_, err := Bracket(context.Background(), runs, UnitReport, "2018-02-01", func(ctx context.Context) (int64, error) {
		return 0, ledger.ErrConnectivity
	})
	require.True(t, ledger.IsConnectivity(err))
}

func TestBracketStartFailureSkipsWork(t *testing.T) {
	runs := &memoryLedger{startErr: errors.New("no table")}
	called := false
	_, err := Bracket(context.Background(), runs, UnitTurnover, "2018-01-01", func(ctx context.Context) (int64, error) {
		called = true
		return 0, nil
	})
	require.Error(t, err)
	require.False(t, called)
	require.Empty(t, runs.finished)
}

func TestBracketStartDialFailureIsConnectivity(t *testing.T) {
	runs := &memoryLedger{startErr: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}
	_, err := Bracket(context.Background(), runs, UnitTurnover, "2018-01-01", func(ctx context.Context) (int64, error) {
		return 0, nil
	})
	require.True(t, ledger.IsConnectivity(err))

	plain := &memoryLedger{startErr: errors.New("no table")}
	_, err = Bracket(context.Background(), plain, UnitTurnover, "2018-01-01", func(ctx context.Context) (int64, error) {
		return 0, nil
	})
	require.False(t, ledger.IsConnectivity(err))
}

func TestWithLoggerDelegates(t *testing.T) {
	inner := &memoryLedger{}
	runs := WithLogger(inner, slog.New(slog.NewTextHandler(io.Discard, nil)))
	id, err := runs.Start(context.Background(), UnitBalanceSeed)
	require.NoError(t, err)
	require.NoError(t, runs.Finish(context.Background(), id, StatusSuccess, 3, "ok"))
	require.Equal(t, []string{UnitBalanceSeed}, inner.started)
	require.Equal(t, int64(3), inner.finished[0].rows)
}
