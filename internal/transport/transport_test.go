package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quorumnode/internal/membership"
	"quorumnode/internal/wire"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	envs []wire.Envelope
}

func (r *recordingDispatcher) Dispatch(env wire.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func (r *recordingDispatcher) snapshot() []wire.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wire.Envelope, len(r.envs))
	copy(out, r.envs)
	return out
}

// pickPort grabs an ephemeral port by binding to :0 and releasing it
// immediately. Good enough odds for a short-lived local test, the
// same trick the teacher's own stress tests rely on.
func pickPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestBroadcastSelfDeliveryDoesNotDeadlock(t *testing.T) {
	self := membership.Location{Host: "127.0.0.1", Port: pickPort(t), Num: 0}
	view := membership.New(self, []membership.Location{self})
	disp := &recordingDispatcher{}
	tr := New(view, 2*time.Second, disp)
	require.NoError(t, tr.Start())
	defer tr.Stop()

	tr.Broadcast(func(to membership.Location) wire.Envelope {
		return wire.Heartbeat(self, to)
	})

	require.Eventually(t, func() bool {
		return disp.count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestUnicastDeliversOverRealSocket(t *testing.T) {
	selfA := membership.Location{Host: "127.0.0.1", Port: pickPort(t), Num: 0}
	selfB := membership.Location{Host: "127.0.0.1", Port: pickPort(t), Num: 1}
	peers := []membership.Location{selfA, selfB}

	dispA := &recordingDispatcher{}
	dispB := &recordingDispatcher{}
	trA := New(membership.New(selfA, peers), 2*time.Second, dispA)
	trB := New(membership.New(selfB, peers), 2*time.Second, dispB)
	require.NoError(t, trA.Start())
	require.NoError(t, trB.Start())
	defer trA.Stop()
	defer trB.Stop()

	trA.Unicast(selfB, wire.Heartbeat(selfA, selfB))

	require.Eventually(t, func() bool {
		return dispB.count() == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, dispA.count())
}

func TestHandleCrashRotatesLeaderAndBroadcastsNotification(t *testing.T) {
	self := membership.Location{Host: "127.0.0.1", Port: pickPort(t), Num: 0}
	crashed := membership.Location{Host: "127.0.0.1", Port: pickPort(t), Num: 1}
	peers := []membership.Location{self, crashed}

	view := membership.New(self, peers)
	view.SetLeader(crashed.Num)
	disp := &recordingDispatcher{}
	tr := New(view, 200*time.Millisecond, disp)
	require.NoError(t, tr.Start())
	defer tr.Stop()

	// Call handleCrash directly with allowRetry=false so rotation's
	// effects are deterministic and no retry dial is made. The
	// rotation broadcast still dials the crashed peer's port, which
	// fails with connection-refused and is dropped.
	tr.handleCrash(crashed, wire.Heartbeat(self, crashed), false)

	leader, ok := view.Leader()
	require.True(t, ok)
	require.Equal(t, (crashed.Num+1)%view.N(), leader.Num)

	require.Eventually(t, func() bool {
		return disp.count() == 1
	}, time.Second, 5*time.Millisecond)
	envs := disp.snapshot()
	require.Len(t, envs, 1)
	require.Equal(t, wire.KindNewLeaderNotify, envs[0].Kind)
	require.NotNil(t, envs[0].NewLeaderNotify)
	require.Equal(t, (crashed.Num+1)%view.N(), envs[0].NewLeaderNotify.Num)
}

func TestUnicastToRefusedPeerDoesNotRotateLeader(t *testing.T) {
	selfA := membership.Location{Host: "127.0.0.1", Port: pickPort(t), Num: 0}
	// No listener is ever started on this port: every dial to it fails
	// fast with connection-refused, a non-timeout error this transport
	// logs and drops rather than treating as a crash.
	unreachable := membership.Location{Host: "127.0.0.1", Port: pickPort(t), Num: 1}
	peers := []membership.Location{selfA, unreachable}

	view := membership.New(selfA, peers)
	view.SetLeader(1)
	disp := &recordingDispatcher{}
	tr := New(view, 200*time.Millisecond, disp)
	require.NoError(t, tr.Start())
	defer tr.Stop()

	tr.Unicast(unreachable, wire.Heartbeat(selfA, unreachable))

	// A connection-refused dial error is not a timeout, so rotation
	// must not fire and the leader flag must be unchanged.
	time.Sleep(50 * time.Millisecond)
	leader, ok := view.Leader()
	require.True(t, ok)
	require.Equal(t, 1, leader.Num)
}
