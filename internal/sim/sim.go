// Package sim implements an in-memory companion radio behind the driver
// interface. It stands in for real hardware during development and in tests:
// seeded contacts with a paginated contact list, eight channels, synthetic
// stats and telemetry, and configurable ack behavior for exercising the
// send/retry path.
package sim

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meshportal/backend/internal/driver"
	"github.com/meshportal/backend/internal/transport"
)

func init() {
	driver.Register("sim", func(tr transport.Transport) (driver.Driver, error) {
		return New(tr, Behavior{}), nil
	})
}

var errNotConnected = errors.New("sim: device not connected")

// Behavior tunes how the simulated radio responds. The zero value acks every
// send immediately and stays quiet otherwise.
type Behavior struct {
	// HandshakeDelay is how long Connect takes before succeeding.
	HandshakeDelay time.Duration
	// HandshakeErr makes Connect fail, for exercising connect rollback.
	HandshakeErr error
	// ClockSyncErr makes SetTime/GetTime fail.
	ClockSyncErr error
	// DropAcks swallows the ack for the first N direct sends, each of
	// which then resolves as a device-side timeout.
	DropAcks int
	// SendErrorCode, when non-zero, makes every send return an ERROR
	// result with this code.
	SendErrorCode int
	// AckDelay is the simulated round trip before an ack arrives.
	AckDelay time.Duration
	// ChatterInterval, when non-zero, makes auto message fetching emit
	// synthetic inbound traffic on this period.
	ChatterInterval time.Duration
	// ContactPageSize overrides the contact list page size (default 3).
	ContactPageSize int
}

// Sim is a simulated companion radio. It implements driver.Driver.
type Sim struct {
	tr       transport.Transport
	behavior Behavior
	bus      *driver.Bus

	mu        sync.Mutex
	connected bool
	self      driver.SelfInfo
	clock     int64 // device epoch seconds at clockSetAt
	clockSet  time.Time
	contacts  map[string]driver.Contact
	roster    []driver.Contact // full device-side list, paged by EnsureContacts
	channels  [8]driver.ChannelInfo
	dropLeft  int
	sendSeq   int
	sent      int
	received  int
	connectAt time.Time

	chatterStop chan struct{}
}

// New builds a simulated radio for the given transport. The transport is
// only used for identity: the device name is derived from its target so two
// sims on different "ports" look like different radios.
func New(tr transport.Transport, behavior Behavior) *Sim {
	s := &Sim{
		tr:       tr,
		behavior: behavior,
		bus:      driver.NewBus(),
		contacts: make(map[string]driver.Contact),
		dropLeft: behavior.DropAcks,
	}
	s.roster = seedRoster()
	s.channels[0] = driver.ChannelInfo{ChannelIdx: 0, Name: "public", Secret: publicChannelSecret()}
	return s
}

// Commands returns the command surface; Sim implements it directly.
func (s *Sim) Commands() driver.Commands { return (*simCommands)(s) }

func (s *Sim) Events() *driver.Bus { return s.bus }

func (s *Sim) Connect(ctx context.Context) error {
	if s.behavior.HandshakeDelay > 0 {
		select {
		case <-time.After(s.behavior.HandshakeDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.behavior.HandshakeErr != nil {
		return s.behavior.HandshakeErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	name := "sim-" + s.tr.Target()
	s.self = driver.SelfInfo{
		PublicKey: keyFor(name),
		Name:      name,
		TxPower:   22,
	}
	s.connected = true
	s.connectAt = time.Now()
	s.clock = time.Now().Unix()
	s.clockSet = time.Now()
	return nil
}

func (s *Sim) Disconnect(ctx context.Context) error {
	s.StopAutoMessageFetching()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	s.contacts = make(map[string]driver.Contact)
	return nil
}

func (s *Sim) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Sim) SelfInfo() driver.SelfInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *Sim) Time() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clockSet.IsZero() {
		return 0
	}
	return s.clock + int64(time.Since(s.clockSet).Seconds())
}

func (s *Sim) EnsureContacts(ctx context.Context, follow bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errNotConnected
	}

	pageSize := s.behavior.ContactPageSize
	if pageSize <= 0 {
		pageSize = 3
	}
	loaded := 0
	for loaded < len(s.roster) {
		end := loaded + pageSize
		if end > len(s.roster) {
			end = len(s.roster)
		}
		for _, c := range s.roster[loaded:end] {
			s.contacts[c.PublicKey.String()] = c
		}
		loaded = end
		if !follow {
			break
		}
	}
	return nil
}

func (s *Sim) Contacts() map[string]driver.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]driver.Contact, len(s.contacts))
	for k, v := range s.contacts {
		out[k] = v
	}
	return out
}

func (s *Sim) StartAutoMessageFetching(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errNotConnected
	}
	if s.chatterStop != nil {
		return nil
	}
	s.chatterStop = make(chan struct{})
	if s.behavior.ChatterInterval > 0 {
		go s.chatterLoop(s.chatterStop)
	}
	return nil
}

func (s *Sim) StopAutoMessageFetching() error {
	s.mu.Lock()
	stop := s.chatterStop
	s.chatterStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	return nil
}

// chatterLoop emits synthetic inbound traffic so a connected UI has
// something to show: rotating channel messages, direct messages and
// advertisements from the seeded roster.
func (s *Sim) chatterLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.behavior.ChatterInterval)
	defer ticker.Stop()
	tick := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		roster := s.roster
		now := s.clock + int64(time.Since(s.clockSet).Seconds())
		s.received++
		s.mu.Unlock()
		if len(roster) == 0 {
			continue
		}
		from := roster[tick%len(roster)]

		switch tick % 3 {
		case 0:
			s.bus.Publish(driver.Event{Kind: driver.EventChannelMessage, Payload: driver.ChannelMessage{
				ChannelIdx:      0,
				SenderTimestamp: now,
				Text:            fmt.Sprintf("%s: checking in", from.Name),
			}})
		case 1:
			s.bus.Publish(driver.Event{Kind: driver.EventContactMessage, Payload: driver.ContactMessage{
				PubkeyPrefix:    from.PublicKey[:6],
				SenderTimestamp: now,
				Text:            "ping from " + from.Name,
				SNR:             8.5,
			}})
		default:
			s.bus.Publish(driver.Event{Kind: driver.EventAdvertisement, Payload: driver.Advertisement{
				PublicKey: from.PublicKey,
			}})
		}
		tick++
	}
}

// keyFor derives a stable 32-byte public key from a name.
func keyFor(name string) driver.HexBytes {
	sum := sha256.Sum256([]byte(name))
	return sum[:]
}

func publicChannelSecret() driver.HexBytes {
	sum := sha256.Sum256([]byte("izOH6cXN6mrJ5e26oRXNcg"))
	return sum[:16]
}

func seedRoster() []driver.Contact {
	names := []struct {
		name string
		typ  int
		lat  float64
		lon  float64
	}{
		{"alice", 1, 52.520, 13.405},
		{"bob", 1, 52.515, 13.390},
		{"hilltop-rpt", 2, 52.550, 13.420},
		{"carol", 1, 52.500, 13.380},
		{"riverside-room", 3, 52.490, 13.410},
	}
	roster := make([]driver.Contact, 0, len(names))
	now := time.Now().Unix()
	for i, n := range names {
		roster = append(roster, driver.Contact{
			PublicKey:  keyFor(n.name),
			Name:       n.name,
			Type:       n.typ,
			Lat:        n.lat,
			Lon:        n.lon,
			LastAdvert: now - int64(i*600),
			OutPathLen: -1,
		})
	}
	return roster
}
