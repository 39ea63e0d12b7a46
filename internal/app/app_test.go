package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgermart/internal/observability"
	_ "github.com/odyssey-erp/ledgermart/internal/testing/guard"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, []string{"643", "810"}, cfg.LedgerLocalCurrencies)
	require.Equal(t, 5, cfg.LedgerPrefixLen)
	require.Equal(t, "continue", cfg.LedgerFailurePolicy)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_PREFIX_LEN=3\nLEDGER_LOCAL_CURRENCIES=978\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("LEDGER_PREFIX_LEN")
		_ = os.Unsetenv("LEDGER_LOCAL_CURRENCIES")
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.LedgerPrefixLen)
	require.Equal(t, []string{"978"}, cfg.LedgerLocalCurrencies)
}

func TestLoadConfigRejectsUnknownPolicy(t *testing.T) {
	t.Setenv("LEDGER_FAILURE_POLICY", "retry")
	_, err := LoadConfig()
	require.Error(t, err)
	require.Contains(t, err.Error(), "LEDGER_FAILURE_POLICY")
}

func TestLoadConfigRejectsPrefixLen(t *testing.T) {
	t.Setenv("LEDGER_PREFIX_LEN", "0")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestInTestMode(t *testing.T) {
	require.True(t, InTestMode())
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{LogFormat: "json"}, &buf).Info("hello")
	require.True(t, strings.HasPrefix(buf.String(), "{"))
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

func TestRouterHealthAndMetrics(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{}, Metrics: observability.NewMetrics(), Database: stubPinger{}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "ledgermart_http_requests_total")

	down := NewRouter(RouterParams{Database: stubPinger{err: errors.New("refused")}})
	rr = httptest.NewRecorder()
	down.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestNewServicesWiresLocker(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	services, err := NewServices(cfg, nil, nil, slog.Default())
	require.NoError(t, err)
	require.Nil(t, services.Locker)
	require.NotNil(t, services.Period)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	services, err = NewServices(cfg, nil, rdb, slog.Default())
	require.NoError(t, err)
	require.NotNil(t, services.Locker)

	cfg.LedgerFailurePolicy = "retry"
	_, err = NewServices(cfg, nil, rdb, slog.Default())
	require.Error(t, err)
}
