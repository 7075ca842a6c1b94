package session

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/meshportal/backend/internal/driver"
	"github.com/meshportal/backend/internal/transport"
)

// fakeSink records broadcasts for assertions.
type fakeSink struct {
	mu     sync.Mutex
	frames []recordedFrame
}

type recordedFrame struct {
	kind    string
	payload any
}

func (s *fakeSink) Broadcast(kind string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, recordedFrame{kind: kind, payload: payload})
}

func (s *fakeSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, len(s.frames))
	for i, f := range s.frames {
		kinds[i] = f.kind
	}
	return kinds
}

// fakeDriver implements driver.Driver with hookable behavior. Commands not
// overridden answer OK.
type fakeDriver struct {
	mu sync.Mutex

	bus       *driver.Bus
	connected bool
	self      driver.SelfInfo
	clock     int64
	contacts  map[string]driver.Contact
	fetching  bool

	connectErr  error
	setTimeErr  error
	contactsErr error
	fetchErr    error

	// Optional rendezvous points for exercising in-flight cancellation.
	// Each *Started channel is closed when the call begins; the call then
	// waits on the matching *Block channel (or context cancellation).
	connectStarted chan struct{}
	connectBlock   chan struct{}
	fetchStarted   chan struct{}
	fetchBlock     chan struct{}

	sendDirect  func(attempt int) (driver.Result, error)
	sendChannel func() (driver.Result, error)

	directCalls  int
	channelCalls int
}

func newFakeDriver() *fakeDriver {
	key := make(driver.HexBytes, 32)
	key[0] = 0xaa
	return &fakeDriver{
		bus:   driver.NewBus(),
		self:  driver.SelfInfo{Name: "fake", PublicKey: key},
		clock: 1700000000,
		contacts: map[string]driver.Contact{
			contactKey("peer"): {PublicKey: keyBytes("peer"), Name: "peer", Type: 1},
		},
	}
}

func keyBytes(name string) driver.HexBytes {
	b := make(driver.HexBytes, 32)
	copy(b, name)
	return b
}

func contactKey(name string) string {
	return hex.EncodeToString(keyBytes(name))
}

func (d *fakeDriver) Connect(ctx context.Context) error {
	if d.connectStarted != nil {
		close(d.connectStarted)
	}
	if d.connectBlock != nil {
		select {
		case <-d.connectBlock:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d.connectErr != nil {
		return d.connectErr
	}
	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *fakeDriver) SelfInfo() driver.SelfInfo { return d.self }
func (d *fakeDriver) Time() int64               { return d.clock }
func (d *fakeDriver) Events() *driver.Bus       { return d.bus }

func (d *fakeDriver) Commands() driver.Commands { return (*fakeCommands)(d) }

func (d *fakeDriver) EnsureContacts(ctx context.Context, follow bool) error {
	return d.contactsErr
}

func (d *fakeDriver) Contacts() map[string]driver.Contact {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]driver.Contact, len(d.contacts))
	for k, v := range d.contacts {
		out[k] = v
	}
	return out
}

func (d *fakeDriver) StartAutoMessageFetching(ctx context.Context) error {
	if d.fetchStarted != nil {
		close(d.fetchStarted)
	}
	if d.fetchBlock != nil {
		<-d.fetchBlock
	}
	if d.fetchErr != nil {
		return d.fetchErr
	}
	d.mu.Lock()
	d.fetching = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) StopAutoMessageFetching() error {
	d.mu.Lock()
	d.fetching = false
	d.mu.Unlock()
	return nil
}

type fakeCommands fakeDriver

func (c *fakeCommands) drv() *fakeDriver { return (*fakeDriver)(c) }

func ok() (driver.Result, error) {
	return driver.Result{Kind: driver.EventOK}, nil
}

func (c *fakeCommands) SetTime(ctx context.Context, ts int64) (driver.Result, error) {
	if c.setTimeErr != nil {
		return driver.Result{}, c.setTimeErr
	}
	c.drv().mu.Lock()
	c.drv().clock = ts
	c.drv().mu.Unlock()
	return ok()
}

func (c *fakeCommands) GetTime(ctx context.Context) (driver.Result, error) {
	if c.setTimeErr != nil {
		return driver.Result{}, c.setTimeErr
	}
	return driver.Result{Kind: driver.EventCurrentTime, Payload: driver.CurrentTime{Time: c.drv().clock}}, nil
}

func (c *fakeCommands) GetChannel(ctx context.Context, idx int) (driver.Result, error) {
	if idx == 0 {
		return driver.Result{Kind: driver.EventChannelInfo, Payload: driver.ChannelInfo{ChannelIdx: 0, Name: "public"}}, nil
	}
	return driver.Result{Kind: driver.EventError, Payload: driver.CommandError{Code: 1}}, nil
}

func (c *fakeCommands) SetChannel(ctx context.Context, idx int, name string, secret []byte) (driver.Result, error) {
	return ok()
}

func (c *fakeCommands) SendDeviceQuery(ctx context.Context) (driver.Result, error) {
	return driver.Result{Kind: driver.EventDeviceInfo, Payload: driver.DeviceInfo{Model: "fake"}}, nil
}

func (c *fakeCommands) GetStatsCore(ctx context.Context) (driver.Result, error) {
	return driver.Result{Kind: driver.EventStatsCore, Payload: driver.StatsCore{UptimeSeconds: 1}}, nil
}

func (c *fakeCommands) GetStatsRadio(ctx context.Context) (driver.Result, error) {
	return driver.Result{Kind: driver.EventStatsRadio, Payload: driver.StatsRadio{LastRSSI: -60}}, nil
}

func (c *fakeCommands) GetStatsPackets(ctx context.Context) (driver.Result, error) {
	return driver.Result{}, context.DeadlineExceeded
}

func (c *fakeCommands) GetBattery(ctx context.Context) (driver.Result, error) {
	return driver.Result{Kind: driver.EventBattery, Payload: driver.Battery{LevelMilliVolts: 4000}}, nil
}

func (c *fakeCommands) SendDirectMessage(ctx context.Context, contact driver.Contact, text string, ts int64, signed bool) (driver.Result, error) {
	d := c.drv()
	d.mu.Lock()
	d.directCalls++
	n := d.directCalls
	hook := d.sendDirect
	d.mu.Unlock()
	if hook != nil {
		return hook(n)
	}
	return driver.Result{Kind: driver.EventOK, Payload: driver.MsgSent{ExpectedAck: driver.HexBytes{0xde, 0xad, 0xbe, 0xef}}}, nil
}

func (c *fakeCommands) SendDirectMessageWithRetry(ctx context.Context, contact driver.Contact, text string, ts int64, maxAttempts int, signed bool) (driver.Result, error) {
	return c.SendDirectMessage(ctx, contact, text, ts, signed)
}

func (c *fakeCommands) SendChannelMessage(ctx context.Context, idx int, text string, ts int64, signed bool) (driver.Result, error) {
	d := c.drv()
	d.mu.Lock()
	d.channelCalls++
	hook := d.sendChannel
	d.mu.Unlock()
	if hook != nil {
		return hook()
	}
	return driver.Result{Kind: driver.EventOK, Payload: driver.MsgSent{ExpectedAck: driver.HexBytes{0x01, 0x02}}}, nil
}

func (c *fakeCommands) SetName(ctx context.Context, name string) (driver.Result, error) { return ok() }

func (c *fakeCommands) SetCoords(ctx context.Context, lat, lon float64) (driver.Result, error) {
	return ok()
}

func (c *fakeCommands) SetTxPower(ctx context.Context, dbm int) (driver.Result, error) { return ok() }

func (c *fakeCommands) SetRepeater(ctx context.Context, enabled bool) (driver.Result, error) {
	return ok()
}

func (c *fakeCommands) SendRemoteCommand(ctx context.Context, contact driver.Contact, command string) (driver.Result, error) {
	return ok()
}

func (c *fakeCommands) ResetPath(ctx context.Context, publicKey string) (driver.Result, error) {
	return ok()
}

func (c *fakeCommands) GetTelemetry(ctx context.Context, contact driver.Contact) (driver.Result, error) {
	return driver.Result{Kind: driver.EventTelemetry, Payload: driver.Telemetry{Battery: 3700}}, nil
}

// newTestManager wires a Manager directly to a fake driver, bypassing the
// registry.
func newTestManager(d *fakeDriver, sink Sink) *Manager {
	m := NewManager("fake", sink)
	m.open = func(name string, tr transport.Transport) (driver.Driver, error) {
		return d, nil
	}
	return m
}

func tcpSpec() transport.Spec {
	return transport.Spec{Type: "tcp", Host: "10.0.0.5", TCPPort: 5000}
}
