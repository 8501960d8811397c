package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"quickdowntime/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	name   string
	fail   bool
	sent   [][]byte
	closed int
}

func newFakeConn(name string) *fakeConn { return &fakeConn{name: name} }

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return fmt.Errorf("%s: %w", c.name, ErrSendFailed)
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) messages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, p := range c.sent {
		var m map[string]any
		_ = json.Unmarshal(p, &m)
		out = append(out, m)
	}
	return out
}

type recordingObserver struct {
	targets   []string
	delivered int
	dropped   int
}

func (o *recordingObserver) ObserveDelivery(target string, delivered, dropped int) {
	o.targets = append(o.targets, target)
	o.delivered += delivered
	o.dropped += dropped
}

func TestManager_BroadcastManagersReachesOnlyManagers(t *testing.T) {
	m := NewManager(nil)
	mgr1, mgr2 := newFakeConn("m1"), newFakeConn("m2")
	op := newFakeConn("op")
	legacy := newFakeConn("legacy")

	m.RegisterWithRole(mgr1, domain.RoleManager)
	m.RegisterWithRole(mgr2, domain.RoleManager)
	m.RegisterWithRole(op, domain.RoleOperator)
	m.Register(legacy)

	report, err := m.BroadcastManagers(map[string]string{"type": "new_downtime"})
	require.NoError(t, err)

	assert.Equal(t, domain.DeliveryReport{Target: TargetManagers, Delivered: 2}, report)
	assert.Len(t, mgr1.messages(), 1)
	assert.Len(t, mgr2.messages(), 1)
	assert.Empty(t, op.messages())
	assert.Empty(t, legacy.messages())
}

func TestManager_RoleConnectionsAreNotInAll(t *testing.T) {
	m := NewManager(nil)
	mgr := newFakeConn("m")
	legacy := newFakeConn("legacy")
	m.RegisterWithRole(mgr, domain.RoleManager)
	m.Register(legacy)

	report, err := m.Broadcast(map[string]string{"type": "new_downtime_with_ai"})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Delivered)
	assert.Empty(t, mgr.messages())
	assert.Len(t, legacy.messages(), 1)
}

func TestManager_FailedSendDropsConnectionEverywhere(t *testing.T) {
	m := NewManager(nil)
	healthy := newFakeConn("healthy")
	dead := newFakeConn("dead")
	dead.fail = true

	m.RegisterWithRole(healthy, domain.RoleManager)
	m.RegisterWithRole(dead, domain.RoleManager)
	m.JoinChannel(dead, "machine:M-7")
	m.Register(dead)

	report, err := m.BroadcastManagers(map[string]string{"type": "new_downtime"})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.Dropped)
	assert.Len(t, healthy.messages(), 1)
	assert.Equal(t, 1, dead.closed)
	assert.False(t, m.Contains(dead))

	stats := m.Stats()
	assert.Equal(t, 1, stats.Managers)
	assert.Equal(t, 0, stats.All)
	assert.Equal(t, 0, stats.Channels)

	// the dead connection is not retried on the next broadcast
	report, err = m.BroadcastManagers(map[string]string{"type": "new_downtime"})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Dropped)
	assert.Equal(t, 1, dead.closed)
}

func TestManager_UnregisterIsIdempotent(t *testing.T) {
	m := NewManager(nil)
	c := newFakeConn("c")
	m.RegisterWithRole(c, domain.RoleOperator)
	m.JoinChannel(c, "machine:A")
	m.JoinChannel(c, "machine:B")

	m.Unregister(c)
	m.Unregister(c)

	assert.False(t, m.Contains(c))
	assert.Equal(t, Stats{}, m.Stats())
}

func TestManager_UnregisterUnknownConnection(t *testing.T) {
	m := NewManager(nil)
	known := newFakeConn("known")
	m.Register(known)

	m.Unregister(newFakeConn("stranger"))

	assert.True(t, m.Contains(known))
	assert.Equal(t, 1, m.Stats().All)
}

func TestManager_BroadcastChannel(t *testing.T) {
	m := NewManager(nil)
	a, b, other := newFakeConn("a"), newFakeConn("b"), newFakeConn("other")
	m.JoinChannel(a, "machine:M-7")
	m.JoinChannel(b, "machine:M-7")
	m.JoinChannel(other, "machine:M-8")

	report, err := m.BroadcastChannel("machine:M-7", map[string]string{"machine_id": "M-7"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered)
	assert.Len(t, a.messages(), 1)
	assert.Len(t, b.messages(), 1)
	assert.Empty(t, other.messages())
}

func TestManager_BroadcastUnknownChannelIsNoop(t *testing.T) {
	m := NewManager(nil)
	m.Register(newFakeConn("a"))

	report, err := m.BroadcastChannel("machine:ghost", map[string]string{"x": "y"})
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryReport{Target: TargetChannel}, report)
	assert.Equal(t, 0, m.Stats().Channels)
}

func TestManager_MarshalError(t *testing.T) {
	m := NewManager(nil)
	c := newFakeConn("c")
	m.Register(c)

	_, err := m.Broadcast(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
	assert.Empty(t, c.messages())
	assert.True(t, m.Contains(c))
}

func TestManager_PerConnectionOrder(t *testing.T) {
	m := NewManager(nil)
	c := newFakeConn("c")
	m.RegisterWithRole(c, domain.RoleOperator)

	for i := 0; i < 20; i++ {
		_, err := m.BroadcastOperators(map[string]int{"seq": i})
		require.NoError(t, err)
	}

	msgs := c.messages()
	require.Len(t, msgs, 20)
	for i, msg := range msgs {
		assert.EqualValues(t, i, msg["seq"])
	}
}

func TestManager_ObserverSeesOutcome(t *testing.T) {
	m := NewManager(nil)
	obs := &recordingObserver{}
	m.SetObserver(obs)

	dead := newFakeConn("dead")
	dead.fail = true
	m.Register(newFakeConn("ok"))
	m.Register(dead)

	_, err := m.Broadcast(map[string]string{"type": "x"})
	require.NoError(t, err)

	assert.Equal(t, []string{TargetAll}, obs.targets)
	assert.Equal(t, 1, obs.delivered)
	assert.Equal(t, 1, obs.dropped)
}

func TestManager_ConcurrentRegisterAndBroadcast(t *testing.T) {
	m := NewManager(nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("c%d", i))
			c.fail = i%5 == 0
			m.RegisterWithRole(c, domain.RoleManager)
			m.JoinChannel(c, "machine:shared")
			if i%3 == 0 {
				m.Unregister(c)
			}
		}(i)
		go func() {
			defer wg.Done()
			_, _ = m.BroadcastManagers(map[string]string{"type": "new_downtime"})
			_, _ = m.BroadcastChannel("machine:shared", map[string]string{"type": "new_downtime"})
		}()
	}
	wg.Wait()

	stats := m.Stats()
	assert.LessOrEqual(t, stats.Managers, 50)
	assert.LessOrEqual(t, stats.Members, 50)
}
