package gridlink_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlink-project/gridlink/internal/transfer"
	"github.com/gridlink-project/gridlink/pkg/config"
	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/gridlink"
	"github.com/gridlink-project/gridlink/pkg/logging"
	"github.com/gridlink-project/gridlink/pkg/metrics"
	"github.com/gridlink-project/gridlink/pkg/model"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Connection.Host = "grid.example.org"
	cfg.Connection.Zone = "tempZone"
	cfg.Connection.User = "rods"
	cfg.Restart.Dir = t.TempDir()
	cfg.Restart.MaxAttempts = 3
	return cfg
}

func quietLogger() *logging.Logger {
	l := logging.NewLogger(logging.LevelError)
	l.SetOutput(&bytes.Buffer{})
	return l
}

func TestOpen_RequiresAttemptCap(t *testing.T) {
	cfg := testConfig(t)
	cfg.Restart.MaxAttempts = 0
	_, err := gridlink.Open(cfg, gridlink.WithLogger(quietLogger()))
	require.ErrorIs(t, err, errclass.ErrConfigInvalid)
}

func TestClient_TransferAndDoctor(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	client, err := gridlink.Open(cfg, gridlink.WithLogger(quietLogger()), gridlink.WithMetrics(metrics.NewRegistry()))
	require.NoError(t, err)
	defer client.Close()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	data := bytes.Repeat([]byte("gridlink"), 4096)
	require.NoError(t, os.WriteFile(src, data, 0600))
	require.NoError(t, os.WriteFile(dst, make([]byte, len(data)), 0600))

	id, err := client.RestartID(model.RestartPut, "/tempZone/home/rods/src")
	require.NoError(t, err)
	assert.Equal(t, "rods#tempZone@grid.example.org:1247", id.AccountIdentity)

	err = client.Transfer(ctx, transfer.Job{ID: id, LocalPath: src, Size: int64(len(data))},
		transfer.LocalCopy(src, dst, 1024, 4096))
	require.NoError(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	recs, err := client.Ledger().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)

	result, err := client.Doctor(ctx, true)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
}
