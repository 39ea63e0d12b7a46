package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestClassifyTransportFailures(t *testing.T) {
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	cases := []struct {
		name         string
		err          error
		connectivity bool
	}{
		{name: "dial", err: dial, connectivity: true},
		{name: "wrapped dial", err: fmt.Errorf("acquire: %w", dial), connectivity: true},
		{name: "deadline", err: context.DeadlineExceeded, connectivity: true},
		{name: "server error", err: &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}, connectivity: false},
		{name: "cancelled", err: context.Canceled, connectivity: false},
		{name: "plain", err: errors.New("boom"), connectivity: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify("postings", tc.err)
			require.Error(t, err)
			require.Equal(t, tc.connectivity, IsConnectivity(err))
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestClassifyKeepsClassifiedErrors(t *testing.T) {
	require.NoError(t, Classify("postings", nil))

	first := Classify("postings", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset by peer")})
	require.Same(t, first, Classify("run start", first))
}
