// Package driver defines the boundary to the companion radio. The wire
// protocol, framing and transport byte I/O all live behind these interfaces;
// the rest of the service only ever sees typed commands, results and events.
package driver

import (
	"context"
	"sort"
	"sync"

	"github.com/meshportal/backend/internal/errdefs"
	"github.com/meshportal/backend/internal/transport"
)

// SelfInfo is the connected device's identity snapshot.
type SelfInfo struct {
	PublicKey  HexBytes `json:"public_key"`
	Name       string   `json:"adv_name"`
	Lat        float64  `json:"adv_lat"`
	Lon        float64  `json:"adv_lon"`
	TxPower    int      `json:"tx_power"`
	IsRepeater bool     `json:"is_repeater"`
}

// Contact is one entry of the device's contact list, keyed in the cache by
// its hex-encoded public key.
type Contact struct {
	PublicKey  HexBytes `json:"public_key"`
	Name       string   `json:"adv_name"`
	Type       int      `json:"type"`
	Lat        float64  `json:"adv_lat"`
	Lon        float64  `json:"adv_lon"`
	LastAdvert int64    `json:"last_advert"`
	OutPath    HexBytes `json:"out_path,omitempty"`
	OutPathLen int      `json:"out_path_len"`
}

// Commands is the command set every driver must expose. Each call suspends
// only its caller; a slow device never blocks unrelated requests. Send
// commands block until the driver resolves the transmission (ack, device
// timeout or error) and report the outcome in the Result kind.
type Commands interface {
	SetTime(ctx context.Context, ts int64) (Result, error)
	GetTime(ctx context.Context) (Result, error)

	GetChannel(ctx context.Context, idx int) (Result, error)
	SetChannel(ctx context.Context, idx int, name string, secret []byte) (Result, error)

	SendDeviceQuery(ctx context.Context) (Result, error)
	GetStatsCore(ctx context.Context) (Result, error)
	GetStatsRadio(ctx context.Context) (Result, error)
	GetStatsPackets(ctx context.Context) (Result, error)
	GetBattery(ctx context.Context) (Result, error)

	SendDirectMessage(ctx context.Context, contact Contact, text string, ts int64, signed bool) (Result, error)
	SendDirectMessageWithRetry(ctx context.Context, contact Contact, text string, ts int64, maxAttempts int, signed bool) (Result, error)
	SendChannelMessage(ctx context.Context, idx int, text string, ts int64, signed bool) (Result, error)

	SetName(ctx context.Context, name string) (Result, error)
	SetCoords(ctx context.Context, lat, lon float64) (Result, error)
	SetTxPower(ctx context.Context, dbm int) (Result, error)
	SetRepeater(ctx context.Context, enabled bool) (Result, error)

	SendRemoteCommand(ctx context.Context, contact Contact, command string) (Result, error)
	ResetPath(ctx context.Context, publicKey string) (Result, error)
	GetTelemetry(ctx context.Context, contact Contact) (Result, error)
}

// Driver is one live device connection. Implementations own the session
// fields (self identity, device clock, contact cache) and keep them current
// from inbound frames.
type Driver interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	SelfInfo() SelfInfo
	Time() int64

	Commands() Commands
	Events() *Bus

	// EnsureContacts loads the device contact list into the cache,
	// following pagination continuations when follow is true.
	EnsureContacts(ctx context.Context, follow bool) error
	Contacts() map[string]Contact

	StartAutoMessageFetching(ctx context.Context) error
	StopAutoMessageFetching() error
}

// Factory constructs a driver for a transport handle without opening it.
type Factory func(tr transport.Transport) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a driver implementation available under name. Drivers
// register from their package init, the same way database/sql drivers do.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Open constructs a driver by registered name.
func Open(name string, tr transport.Transport) (Driver, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errdefs.InvalidRequest("unknown device driver %q (registered: %v)", name, Drivers())
	}
	return factory(tr)
}

// Drivers lists the registered driver names, sorted.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
