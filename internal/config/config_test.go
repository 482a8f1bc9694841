package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
self: 0
peers:
  - {host: 127.0.0.1, port: 9001, num: 0}
  - {host: 127.0.0.1, port: 9002, num: 1}
  - {host: 127.0.0.1, port: 9003, num: 2}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0, cfg.Self.Num)
	require.Len(t, cfg.Peers, 3)
	require.Equal(t, defaultStorageDir, cfg.StorageDir)
	require.Equal(t, 5*time.Second, cfg.SocketDeadline)
	require.Equal(t, 10*time.Second, cfg.ProposeTimeout)
	require.Equal(t, time.Second, cfg.HeartbeatMin)
	require.Equal(t, 2*time.Second, cfg.HeartbeatMax)
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
self: 1
storageDir: /tmp/custom
peers:
  - {host: 127.0.0.1, port: 9001, num: 0}
  - {host: 127.0.0.1, port: 9002, num: 1}
socketDeadlineMs: 1500
proposeTimeoutMs: 3000
heartbeatMinMs: 100
heartbeatMaxMs: 200
dashboardAddr: "127.0.0.1:9101"
controlAddr: "127.0.0.1:9201"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom", cfg.StorageDir)
	require.Equal(t, 1500*time.Millisecond, cfg.SocketDeadline)
	require.Equal(t, 3*time.Second, cfg.ProposeTimeout)
	require.Equal(t, 100*time.Millisecond, cfg.HeartbeatMin)
	require.Equal(t, 200*time.Millisecond, cfg.HeartbeatMax)
	require.Equal(t, "127.0.0.1:9101", cfg.DashboardAddr)
	require.Equal(t, "127.0.0.1:9201", cfg.ControlAddr)
}

func TestLoadRejectsEmptyPeerList(t *testing.T) {
	path := writeConfig(t, `
self: 0
peers: []
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsSelfNotInPeerList(t *testing.T) {
	path := writeConfig(t, `
self: 9
peers:
  - {host: 127.0.0.1, port: 9001, num: 0}
  - {host: 127.0.0.1, port: 9002, num: 1}
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
