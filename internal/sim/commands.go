package sim

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/meshportal/backend/internal/driver"
)

// simCommands is the command surface of a Sim. Kept as a separate type so
// the Driver interface stays narrow while the sim shares one state block.
type simCommands Sim

func (c *simCommands) sim() *Sim { return (*Sim)(c) }

func (c *simCommands) SetTime(ctx context.Context, ts int64) (driver.Result, error) {
	s := c.sim()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return driver.Result{}, errNotConnected
	}
	if s.behavior.ClockSyncErr != nil {
		return driver.Result{}, s.behavior.ClockSyncErr
	}
	s.clock = ts
	s.clockSet = time.Now()
	return driver.Result{Kind: driver.EventOK}, nil
}

func (c *simCommands) GetTime(ctx context.Context) (driver.Result, error) {
	s := c.sim()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return driver.Result{}, errNotConnected
	}
	if s.behavior.ClockSyncErr != nil {
		return driver.Result{}, s.behavior.ClockSyncErr
	}
	now := s.clock + int64(time.Since(s.clockSet).Seconds())
	return driver.Result{Kind: driver.EventCurrentTime, Payload: driver.CurrentTime{Time: now}}, nil
}

func (c *simCommands) GetChannel(ctx context.Context, idx int) (driver.Result, error) {
	s := c.sim()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return driver.Result{}, errNotConnected
	}
	if idx < 0 || idx >= len(s.channels) {
		return driver.Result{Kind: driver.EventError, Payload: driver.CommandError{Code: 1}}, nil
	}
	ch := s.channels[idx]
	ch.ChannelIdx = idx
	return driver.Result{Kind: driver.EventChannelInfo, Payload: ch}, nil
}

func (c *simCommands) SetChannel(ctx context.Context, idx int, name string, secret []byte) (driver.Result, error) {
	s := c.sim()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return driver.Result{}, errNotConnected
	}
	if idx < 0 || idx >= len(s.channels) {
		return driver.Result{Kind: driver.EventError, Payload: driver.CommandError{Code: 1}}, nil
	}
	s.channels[idx] = driver.ChannelInfo{ChannelIdx: idx, Name: name, Secret: secret}
	return driver.Result{Kind: driver.EventOK}, nil
}

func (c *simCommands) SendDeviceQuery(ctx context.Context) (driver.Result, error) {
	s := c.sim()
	if !s.IsConnected() {
		return driver.Result{}, errNotConnected
	}
	return driver.Result{Kind: driver.EventDeviceInfo, Payload: driver.DeviceInfo{
		FirmwareVersion: "v1.8.2-sim",
		FirmwareBuild:   "sim",
		Model:           "MeshCore Simulator",
		MaxContacts:     100,
		MaxChannels:     len(s.channels),
	}}, nil
}

func (c *simCommands) GetStatsCore(ctx context.Context) (driver.Result, error) {
	s := c.sim()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return driver.Result{}, errNotConnected
	}
	return driver.Result{Kind: driver.EventStatsCore, Payload: driver.StatsCore{
		UptimeSeconds: int64(time.Since(s.connectAt).Seconds()),
		MessagesSent:  s.sent,
		MessagesRecv:  s.received,
	}}, nil
}

func (c *simCommands) GetStatsRadio(ctx context.Context) (driver.Result, error) {
	s := c.sim()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return driver.Result{}, errNotConnected
	}
	return driver.Result{Kind: driver.EventStatsRadio, Payload: driver.StatsRadio{
		NoiseFloor: -104,
		LastRSSI:   -62,
		LastSNR:    9.25,
		AirtimeSec: int64(time.Since(s.connectAt).Seconds()) / 20,
	}}, nil
}

func (c *simCommands) GetStatsPackets(ctx context.Context) (driver.Result, error) {
	s := c.sim()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return driver.Result{}, errNotConnected
	}
	return driver.Result{Kind: driver.EventStatsPkts, Payload: driver.StatsPackets{
		PacketsSent: s.sent * 2,
		PacketsRecv: s.received*2 + 7,
		FloodDups:   s.received / 4,
	}}, nil
}

func (c *simCommands) GetBattery(ctx context.Context) (driver.Result, error) {
	s := c.sim()
	if !s.IsConnected() {
		return driver.Result{}, errNotConnected
	}
	return driver.Result{Kind: driver.EventBattery, Payload: driver.Battery{LevelMilliVolts: 4096}}, nil
}

func (c *simCommands) SendDirectMessage(ctx context.Context, contact driver.Contact, text string, ts int64, signed bool) (driver.Result, error) {
	s := c.sim()
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return driver.Result{}, errNotConnected
	}
	if s.behavior.SendErrorCode != 0 {
		s.mu.Unlock()
		return driver.Result{Kind: driver.EventError, Payload: driver.CommandError{Code: s.behavior.SendErrorCode}}, nil
	}
	s.sendSeq++
	ack := ackCode(contact.PublicKey, text, ts, s.sendSeq)
	dropped := false
	if s.dropLeft > 0 {
		s.dropLeft--
		dropped = true
	}
	s.sent++
	delay := s.behavior.AckDelay
	s.mu.Unlock()

	receipt := driver.MsgSent{ExpectedAck: ack, SuggestedTimeout: 3000}
	if dropped {
		return driver.Result{Kind: driver.EventTimeout, Payload: receipt}, nil
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return driver.Result{}, ctx.Err()
		}
	}
	s.bus.Publish(driver.Event{Kind: driver.EventAck, Payload: driver.Ack{Code: ack}})
	return driver.Result{Kind: driver.EventOK, Payload: receipt}, nil
}

func (c *simCommands) SendDirectMessageWithRetry(ctx context.Context, contact driver.Contact, text string, ts int64, maxAttempts int, signed bool) (driver.Result, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var res driver.Result
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res, err = c.SendDirectMessage(ctx, contact, text, ts, signed)
		if err != nil || res.Kind != driver.EventTimeout {
			return res, err
		}
	}
	return res, err
}

func (c *simCommands) SendChannelMessage(ctx context.Context, idx int, text string, ts int64, signed bool) (driver.Result, error) {
	s := c.sim()
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return driver.Result{}, errNotConnected
	}
	if idx < 0 || idx >= len(s.channels) {
		s.mu.Unlock()
		return driver.Result{Kind: driver.EventError, Payload: driver.CommandError{Code: 1}}, nil
	}
	if s.behavior.SendErrorCode != 0 {
		s.mu.Unlock()
		return driver.Result{Kind: driver.EventError, Payload: driver.CommandError{Code: s.behavior.SendErrorCode}}, nil
	}
	s.sendSeq++
	ack := ackCode(s.self.PublicKey, text, ts, s.sendSeq)
	s.sent++
	s.mu.Unlock()

	return driver.Result{Kind: driver.EventOK, Payload: driver.MsgSent{ExpectedAck: ack}}, nil
}

func (c *simCommands) SetName(ctx context.Context, name string) (driver.Result, error) {
	s := c.sim()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return driver.Result{}, errNotConnected
	}
	s.self.Name = name
	return driver.Result{Kind: driver.EventOK}, nil
}

func (c *simCommands) SetCoords(ctx context.Context, lat, lon float64) (driver.Result, error) {
	s := c.sim()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return driver.Result{}, errNotConnected
	}
	s.self.Lat, s.self.Lon = lat, lon
	return driver.Result{Kind: driver.EventOK}, nil
}

func (c *simCommands) SetTxPower(ctx context.Context, dbm int) (driver.Result, error) {
	s := c.sim()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return driver.Result{}, errNotConnected
	}
	s.self.TxPower = dbm
	return driver.Result{Kind: driver.EventOK}, nil
}

func (c *simCommands) SetRepeater(ctx context.Context, enabled bool) (driver.Result, error) {
	s := c.sim()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return driver.Result{}, errNotConnected
	}
	s.self.IsRepeater = enabled
	return driver.Result{Kind: driver.EventOK}, nil
}

func (c *simCommands) SendRemoteCommand(ctx context.Context, contact driver.Contact, command string) (driver.Result, error) {
	s := c.sim()
	if !s.IsConnected() {
		return driver.Result{}, errNotConnected
	}
	return driver.Result{Kind: driver.EventOK}, nil
}

func (c *simCommands) ResetPath(ctx context.Context, publicKey string) (driver.Result, error) {
	s := c.sim()
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return driver.Result{}, errNotConnected
	}
	if contact, ok := s.contacts[publicKey]; ok {
		contact.OutPath = nil
		contact.OutPathLen = -1
		s.contacts[publicKey] = contact
	}
	s.mu.Unlock()

	s.bus.Publish(driver.Event{Kind: driver.EventContactsChanged, Payload: driver.ContactsChanged{}})
	return driver.Result{Kind: driver.EventOK}, nil
}

func (c *simCommands) GetTelemetry(ctx context.Context, contact driver.Contact) (driver.Result, error) {
	s := c.sim()
	if !s.IsConnected() {
		return driver.Result{}, errNotConnected
	}
	tel := driver.Telemetry{Battery: 3300 + int(contact.PublicKey[0])*3}
	if contact.Type == 2 {
		// Repeaters in the sim carry an environment sensor.
		temp := 18.0 + float64(contact.PublicKey[1]%12)
		hum := 40.0 + float64(contact.PublicKey[2]%30)
		tel.Temperature = &temp
		tel.Humidity = &hum
	}
	return driver.Result{Kind: driver.EventTelemetry, Payload: tel}, nil
}

// ackCode derives the 4-byte ack token a send expects, stable for a given
// (recipient, text, timestamp, sequence) tuple.
func ackCode(pubkey driver.HexBytes, text string, ts int64, seq int) driver.HexBytes {
	h := sha256.New()
	h.Write(pubkey)
	h.Write([]byte(text))
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(ts))
	binary.LittleEndian.PutUint64(buf[8:], uint64(seq))
	h.Write(buf[:])
	return h.Sum(nil)[:4]
}
