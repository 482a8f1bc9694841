package node

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quorumnode/internal/config"
	"quorumnode/internal/membership"
	"quorumnode/internal/storage"
)

func pickPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func twoNodeCluster(t *testing.T) (*Node, *Node) {
	peers := []membership.Location{
		{Host: "127.0.0.1", Port: pickPort(t), Num: 0},
		{Host: "127.0.0.1", Port: pickPort(t), Num: 1},
	}

	base := config.Cluster{
		Peers:          peers,
		SocketDeadline: time.Second,
		ProposeTimeout: time.Hour,
		HeartbeatMin:   time.Hour,
		HeartbeatMax:   2 * time.Hour,
	}

	cfg0 := base
	cfg0.Self = peers[0]
	cfg0.StorageDir = t.TempDir()
	n0, err := New(cfg0)
	require.NoError(t, err)

	cfg1 := base
	cfg1.Self = peers[1]
	cfg1.StorageDir = t.TempDir()
	n1, err := New(cfg1)
	require.NoError(t, err)

	require.NoError(t, n0.Start())
	require.NoError(t, n1.Start())
	t.Cleanup(func() {
		n0.Stop()
		n1.Stop()
	})
	return n0, n1
}

func TestNodeSubmitDecidesAcrossRealSockets(t *testing.T) {
	n0, n1 := twoNodeCluster(t)

	n0.Submit("A")

	require.Eventually(t, func() bool {
		v0, ok0 := n0.GetDecidedValues()[0]
		v1, ok1 := n1.GetDecidedValues()[0]
		return ok0 && ok1 && v0 == "A" && v1 == "A"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestNodeSurvivesRestartWithStableStorage(t *testing.T) {
	peers := []membership.Location{
		{Host: "127.0.0.1", Port: pickPort(t), Num: 0},
		{Host: "127.0.0.1", Port: pickPort(t), Num: 1},
	}
	dir0 := t.TempDir()

	cfg0 := config.Cluster{
		Self: peers[0], Peers: peers, StorageDir: dir0,
		SocketDeadline: time.Second, ProposeTimeout: time.Hour,
		HeartbeatMin: time.Hour, HeartbeatMax: 2 * time.Hour,
	}
	cfg1 := config.Cluster{
		Self: peers[1], Peers: peers, StorageDir: t.TempDir(),
		SocketDeadline: time.Second, ProposeTimeout: time.Hour,
		HeartbeatMin: time.Hour, HeartbeatMax: 2 * time.Hour,
	}

	n0, err := New(cfg0)
	require.NoError(t, err)
	n1, err := New(cfg1)
	require.NoError(t, err)
	require.NoError(t, n0.Start())
	require.NoError(t, n1.Start())

	n0.Submit("A")
	require.Eventually(t, func() bool {
		_, ok := n0.GetDecidedValues()[0]
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	n0.Stop()
	n1.Stop()

	// Learner state (chosenValues) is explicitly not guaranteed durable
	// across a restart (spec section 9); only the acceptor's minPSNs
	// and maxAccepted promises are. Check those directly against the
	// same storage directory rather than asserting on a restarted
	// Node's GetDecidedValues, which a fresh Machine never backfills.
	store := storage.New(dir0, strconv.Itoa(cfg0.Self.Num))
	snap, err := store.Load()
	require.NoError(t, err)
	require.Contains(t, snap.MaxAccepted, int64(0))
	require.Equal(t, "A", snap.MaxAccepted[0].Value)
	require.Contains(t, snap.MinPSNs, int64(0))

	// A fresh Node built against the same storage dir starts from that
	// recovered acceptor state without error.
	restarted, err := New(cfg0)
	require.NoError(t, err)
	require.Empty(t, restarted.GetDecidedValues())
}

func TestBecomeLeaderSetsAdvisoryFlagOnly(t *testing.T) {
	n0, n1 := twoNodeCluster(t)
	require.False(t, n0.IsLeader())

	n0.BecomeLeader()
	require.True(t, n0.IsLeader())
	require.False(t, n1.IsLeader(), "BecomeLeader is local and never broadcasts")
}

func TestClearStableStorageWithoutSnapshotIsNotAnError(t *testing.T) {
	n0, _ := twoNodeCluster(t)
	require.NoError(t, n0.ClearStableStorage())
}
