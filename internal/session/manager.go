// Package session owns the single live device connection. The Manager
// drives the connect sequence and lifecycle state machine, bridges the five
// device event kinds to the client broadcast sink, and the Correlator turns
// message sends into acknowledged outcomes.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meshportal/backend/internal/driver"
	"github.com/meshportal/backend/internal/errdefs"
	"github.com/meshportal/backend/internal/transport"
)

// Sink receives client-facing event broadcasts. Implemented by
// ws.Broadcaster; delivery is best effort and must never block the caller.
type Sink interface {
	Broadcast(kind string, payload any)
}

// bridgedEvents maps the device event kinds this layer forwards to their
// client frame names. Any kind not listed here is not bridged.
var bridgedEvents = map[driver.EventKind]string{
	driver.EventContactMessage:  FrameContactMessage,
	driver.EventChannelMessage:  FrameChannelMessage,
	driver.EventAck:             FrameAck,
	driver.EventAdvertisement:   FrameAdvertisement,
	driver.EventContactsChanged: FrameContactsUpdated,
}

// Status is the caller-facing connection snapshot.
type Status struct {
	Connected bool             `json:"connected"`
	SelfInfo  *driver.SelfInfo `json:"self_info,omitempty"`
	Time      int64            `json:"time,omitempty"`
	Transport string           `json:"transport,omitempty"`
	LastSend  *SendReceipt     `json:"last_send,omitempty"`
}

// Manager enforces "at most one device connection" process-wide. All state
// mutations are serialized behind mu; long device calls run outside the lock
// and re-check the generation counter before committing their effects.
type Manager struct {
	driverName string
	sink       Sink
	open       func(name string, tr transport.Transport) (driver.Driver, error)

	mu            sync.Mutex
	state         State
	generation    uint64
	drv           driver.Driver
	tr            transport.Transport
	subs          []driver.Subscription
	lastSend      *SendReceipt
	connectCancel context.CancelFunc
}

func NewManager(driverName string, sink Sink) *Manager {
	return &Manager{
		driverName: driverName,
		sink:       sink,
		open:       driver.Open,
	}
}

// Connect opens a device session for the given transport spec. Exactly one
// session may exist: a second connect is rejected with AlreadyConnected and
// leaves the existing session untouched. Any failure mid-sequence rolls back
// to Disconnected; a half-initialized session is never observable.
func (m *Manager) Connect(ctx context.Context, spec transport.Spec) (*Status, error) {
	tr, err := transport.New(spec)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return nil, errdefs.AlreadyConnected("already connected")
	}
	m.state = Connecting
	m.generation++
	gen := m.generation
	cctx, cancel := context.WithCancel(ctx)
	m.connectCancel = cancel
	m.mu.Unlock()

	log.Info().Str("transport", string(tr.Kind())).Str("target", tr.Target()).Msg("connecting to device")
	drv, subs, seqErr := m.runConnectSequence(cctx, tr)
	cancel()

	m.mu.Lock()
	m.connectCancel = nil
	if seqErr != nil {
		if m.state == Connecting && m.generation == gen {
			m.state = Disconnected
		}
		m.mu.Unlock()
		log.Error().Err(seqErr).Msg("connect failed")
		return nil, seqErr
	}
	if m.state != Connecting || m.generation != gen {
		// Disconnect raced the connect sequence; discard the session.
		m.mu.Unlock()
		m.teardown(context.Background(), drv, subs)
		return nil, errdefs.ConnectFailed("connect cancelled", context.Canceled)
	}
	m.drv = drv
	m.tr = tr
	m.subs = subs
	m.state = Connected
	self := drv.SelfInfo()
	status := &Status{Connected: true, SelfInfo: &self, Time: drv.Time(), Transport: tr.Target()}
	m.mu.Unlock()

	log.Info().Str("name", self.Name).Str("public_key", self.PublicKey.String()).Msg("device connected")
	m.sink.Broadcast(FrameConnected, map[string]any{"self_info": self})
	return status, nil
}

// runConnectSequence performs the ordered connect steps against a fresh
// driver. On error the caller has nothing to roll back beyond the driver
// itself, which this function already tears down.
func (m *Manager) runConnectSequence(ctx context.Context, tr transport.Transport) (driver.Driver, []driver.Subscription, error) {
	drv, err := m.open(m.driverName, tr)
	if err != nil {
		return nil, nil, err
	}

	if err := drv.Connect(ctx); err != nil {
		return nil, nil, errdefs.ConnectFailed("device handshake failed", err)
	}

	cmds := drv.Commands()

	// Clock sync before anything timestamped. A failure here is
	// connect-fatal and not retried.
	now := time.Now().Unix()
	res, err := cmds.SetTime(ctx, now)
	if err == nil && res.Kind == driver.EventError {
		err = errdefs.DeviceError(errorCode(res))
	}
	if err == nil {
		_, err = cmds.GetTime(ctx)
	}
	if err != nil {
		m.teardown(ctx, drv, nil)
		return nil, nil, errdefs.ConnectFailed("device clock sync failed", err)
	}
	log.Debug().Int64("time", now).Msg("device clock synced")

	if err := drv.EnsureContacts(ctx, true); err != nil {
		m.teardown(ctx, drv, nil)
		return nil, nil, errdefs.ConnectFailed("contact load failed", err)
	}

	subs := m.bridgeEvents(drv)

	if err := drv.StartAutoMessageFetching(ctx); err != nil {
		m.teardown(ctx, drv, subs)
		return nil, nil, errdefs.ConnectFailed("auto message fetching failed", err)
	}

	return drv, subs, nil
}

// bridgeEvents registers one subscription per bridged device event kind.
// Handlers forward the typed payload as-is: binary fields hex-encode during
// frame serialization.
func (m *Manager) bridgeEvents(drv driver.Driver) []driver.Subscription {
	bus := drv.Events()
	subs := make([]driver.Subscription, 0, len(bridgedEvents))
	for kind, frame := range bridgedEvents {
		frame := frame
		subs = append(subs, bus.Subscribe(kind, func(ev driver.Event) {
			m.sink.Broadcast(frame, ev.Payload)
		}))
	}
	return subs
}

// teardown releases a driver that never became, or no longer is, the active
// session. Best effort: failures are logged, never surfaced.
func (m *Manager) teardown(ctx context.Context, drv driver.Driver, subs []driver.Subscription) {
	if err := drv.StopAutoMessageFetching(); err != nil {
		log.Warn().Err(err).Msg("stop auto message fetching failed")
	}
	for _, sub := range subs {
		drv.Events().Unsubscribe(sub)
	}
	if err := drv.Disconnect(ctx); err != nil {
		log.Warn().Err(err).Msg("transport close failed")
	}
}

// Disconnect tears the session down. Idempotent: with no active session it
// succeeds without side effects. Always leaves the manager Disconnected,
// even when the transport close fails.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Disconnected:
		m.mu.Unlock()
		return nil

	case Connecting:
		if m.connectCancel != nil {
			m.connectCancel()
		}
		m.state = Disconnected
		m.generation++
		m.mu.Unlock()
		log.Info().Msg("connect interrupted by disconnect")
		return nil
	}

	drv := m.drv
	subs := m.subs
	if err := drv.StopAutoMessageFetching(); err != nil {
		log.Warn().Err(err).Msg("stop auto message fetching failed")
	}
	for _, sub := range subs {
		drv.Events().Unsubscribe(sub)
	}
	m.drv = nil
	m.tr = nil
	m.subs = nil
	m.lastSend = nil
	m.state = Disconnected
	m.generation++
	m.mu.Unlock()

	if err := drv.Disconnect(ctx); err != nil {
		log.Warn().Err(err).Msg("transport close failed")
	}
	log.Info().Msg("device disconnected")
	m.sink.Broadcast(FrameDisconnected, struct{}{})
	return nil
}

// Status reports the current connection snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected {
		return Status{Connected: false}
	}
	self := m.drv.SelfInfo()
	return Status{
		Connected: true,
		SelfInfo:  &self,
		Time:      m.drv.Time(),
		Transport: m.tr.Target(),
		LastSend:  m.lastSend,
	}
}

// State returns the lifecycle token, for tests.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// driverRef hands out the active driver together with the generation it
// belongs to. Callers performing long operations re-check the generation
// before applying side effects.
func (m *Manager) driverRef() (driver.Driver, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected {
		return nil, 0, errdefs.NotConnected()
	}
	return m.drv, m.generation, nil
}

// recordSend stores the resolved send receipt on the session, unless the
// session it started under has since been torn down.
func (m *Manager) recordSend(gen uint64, receipt *SendReceipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected || m.generation != gen {
		return
	}
	m.lastSend = receipt
}

func errorCode(res driver.Result) int {
	if ce, ok := res.Payload.(driver.CommandError); ok {
		return ce.Code
	}
	return -1
}
