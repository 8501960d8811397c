// Package broadcast keeps the process-wide registry of live client connections
// and fans JSON messages out to role and channel scoped subsets of it.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"quickdowntime/internal/core/domain"

	"go.uber.org/zap"
)

// ErrSendFailed marks a connection whose peer is gone.
var ErrSendFailed = errors.New("send failed")

// Conn is one open bidirectional client connection. Send must deliver payloads
// in call order; any error is treated as a dead peer.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

// Target names used in delivery reports and metrics.
const (
	TargetAll       = "all"
	TargetManagers  = "manager"
	TargetOperators = "operator"
	TargetChannel   = "channel"
)

// DeliveryObserver receives the outcome of every broadcast.
type DeliveryObserver interface {
	ObserveDelivery(target string, delivered, dropped int)
}

type connSet map[Conn]struct{}

// Manager owns the connection registry. Role connections are tracked apart
// from the global set: RegisterWithRole does not add to all.
type Manager struct {
	mu       sync.RWMutex
	all      connSet
	roles    map[domain.Role]connSet
	channels map[string]connSet

	observer DeliveryObserver
	logger   *zap.SugaredLogger
}

func NewManager(logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		all: make(connSet),
		roles: map[domain.Role]connSet{
			domain.RoleManager:  make(connSet),
			domain.RoleOperator: make(connSet),
		},
		channels: make(map[string]connSet),
		logger:   logger,
	}
}

// SetObserver installs a delivery observer. Not safe to call concurrently with broadcasts.
func (m *Manager) SetObserver(o DeliveryObserver) {
	m.observer = o
}

// Register adds conn to the global partition.
func (m *Manager) Register(conn Conn) {
	m.mu.Lock()
	m.all[conn] = struct{}{}
	m.mu.Unlock()
}

// RegisterWithRole adds conn to the partition of role only.
func (m *Manager) RegisterWithRole(conn Conn, role domain.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.roles[role]
	if !ok {
		set = make(connSet)
		m.roles[role] = set
	}
	set[conn] = struct{}{}
}

// JoinChannel adds conn to the named channel, creating it on first use.
func (m *Manager) JoinChannel(conn Conn, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.channels[channel]
	if !ok {
		set = make(connSet)
		m.channels[channel] = set
	}
	set[conn] = struct{}{}
}

// Unregister removes conn from every partition. Safe to call repeatedly.
func (m *Manager) Unregister(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.all, conn)
	for _, set := range m.roles {
		delete(set, conn)
	}
	for name, set := range m.channels {
		delete(set, conn)
		if len(set) == 0 {
			delete(m.channels, name)
		}
	}
}

func (m *Manager) Broadcast(msg any) (domain.DeliveryReport, error) {
	return m.deliver(TargetAll, m.snapshot(func() connSet { return m.all }), msg)
}

func (m *Manager) BroadcastManagers(msg any) (domain.DeliveryReport, error) {
	return m.deliver(TargetManagers, m.snapshot(func() connSet { return m.roles[domain.RoleManager] }), msg)
}

func (m *Manager) BroadcastOperators(msg any) (domain.DeliveryReport, error) {
	return m.deliver(TargetOperators, m.snapshot(func() connSet { return m.roles[domain.RoleOperator] }), msg)
}

// BroadcastChannel sends to every member of channel. Unknown channels are a no-op.
func (m *Manager) BroadcastChannel(channel string, msg any) (domain.DeliveryReport, error) {
	conns := m.snapshot(func() connSet { return m.channels[channel] })
	if conns == nil {
		return domain.DeliveryReport{Target: TargetChannel}, nil
	}
	return m.deliver(TargetChannel, conns, msg)
}

// snapshot copies a partition so sends run without the lock and removals
// during delivery do not disturb iteration.
func (m *Manager) snapshot(partition func() connSet) []Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := partition()
	if set == nil {
		return nil
	}
	conns := make([]Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

func (m *Manager) deliver(target string, conns []Conn, msg any) (domain.DeliveryReport, error) {
	report := domain.DeliveryReport{Target: target}

	payload, err := json.Marshal(msg)
	if err != nil {
		return report, fmt.Errorf("failed to encode broadcast message: %w", err)
	}

	for _, conn := range conns {
		if err := conn.Send(payload); err != nil {
			m.drop(conn, err)
			report.Dropped++
			continue
		}
		report.Delivered++
	}

	if m.observer != nil {
		m.observer.ObserveDelivery(target, report.Delivered, report.Dropped)
	}
	return report, nil
}

func (m *Manager) drop(conn Conn, cause error) {
	m.Unregister(conn)
	_ = conn.Close()
	m.logger.Debugw("dropped connection after failed send", "error", cause)
}

// Stats reports the current partition sizes.
type Stats struct {
	All       int
	Managers  int
	Operators int
	Channels  int
	Members   int
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		All:       len(m.all),
		Managers:  len(m.roles[domain.RoleManager]),
		Operators: len(m.roles[domain.RoleOperator]),
		Channels:  len(m.channels),
	}
	for _, set := range m.channels {
		s.Members += len(set)
	}
	return s
}

// Contains reports whether conn is present in any partition.
func (m *Manager) Contains(conn Conn) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.all[conn]; ok {
		return true
	}
	for _, set := range m.roles {
		if _, ok := set[conn]; ok {
			return true
		}
	}
	for _, set := range m.channels {
		if _, ok := set[conn]; ok {
			return true
		}
	}
	return false
}
