package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
)

func findFreePort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port
}

func localConfig(t *testing.T) Config {
	cfg := validConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = fmt.Sprintf("127.0.0.1:%d", findFreePort(t))
	return cfg
}

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg := localConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, cfg) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.MetricsAddr + "/livez")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := localConfig(t)
	cfg.StorageDriver = "invalid-driver"

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage driver")
}

func TestRun_HTTPAddrInUse(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	cfg := localConfig(t)
	cfg.HTTPAddr = lis.Addr().String()

	err = Run(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "listen http"), err.Error())
}

func TestStartMetricsServer_Endpoints(t *testing.T) {
	addr := fmt.Sprintf("127.0.0.1:%d", findFreePort(t))
	health := healthcheck.NewHandler("test")
	health.RegisterChecker("redis", healthcheck.NewChecker("redis", true, func(context.Context) error {
		return errors.New("down")
	}))

	srv := startMetricsServer(addr, testLogger(), health)
	defer shutdownHTTP(srv, testLogger())

	get := func(path string) (int, string) {
		resp, err := http.Get("http://" + addr + path)
		if err != nil {
			return 0, ""
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	require.Eventually(t, func() bool {
		code, _ := get("/livez")
		return code == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	code, body := get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body)

	code, body = get("/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, `"status":"unhealthy"`)

	code, body = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not ready", body)
}

func TestShutdownHTTP_NilServer(t *testing.T) {
	shutdownHTTP(nil, testLogger())
}
