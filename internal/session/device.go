package session

import (
	"context"
	"encoding/hex"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meshportal/backend/internal/driver"
	"github.com/meshportal/backend/internal/errdefs"
)

// The operations below are stateless translations of one request shape into
// one or a few device calls. They all require a Connected session and map
// driver failures into the stable error taxonomy.

const channelCount = 8

// Contacts refreshes the contact cache and returns it as a sorted list.
func (m *Manager) Contacts(ctx context.Context) ([]driver.Contact, error) {
	drv, _, err := m.driverRef()
	if err != nil {
		return nil, err
	}
	if err := drv.EnsureContacts(ctx, true); err != nil {
		return nil, errdefs.TransportError("contact refresh failed", err)
	}
	cache := drv.Contacts()
	contacts := make([]driver.Contact, 0, len(cache))
	for _, c := range cache {
		contacts = append(contacts, c)
	}
	sort.Slice(contacts, func(i, j int) bool {
		if contacts[i].Name != contacts[j].Name {
			return contacts[i].Name < contacts[j].Name
		}
		return contacts[i].PublicKey.String() < contacts[j].PublicKey.String()
	})
	return contacts, nil
}

// Channels queries all channel slots. Slots that do not answer with channel
// info are skipped rather than failing the whole call.
func (m *Manager) Channels(ctx context.Context) ([]driver.ChannelInfo, error) {
	drv, _, err := m.driverRef()
	if err != nil {
		return nil, err
	}
	channels := make([]driver.ChannelInfo, 0, channelCount)
	for idx := 0; idx < channelCount; idx++ {
		res, err := drv.Commands().GetChannel(ctx, idx)
		if err != nil {
			return nil, errdefs.TransportError("channel query failed", err)
		}
		if res.Kind != driver.EventChannelInfo {
			continue
		}
		if info, ok := res.Payload.(driver.ChannelInfo); ok {
			channels = append(channels, info)
		}
	}
	return channels, nil
}

// SetChannel configures one channel slot. The secret is hex text; empty
// means keep the device default.
func (m *Manager) SetChannel(ctx context.Context, idx int, name, secretHex string) error {
	if idx < 0 || idx >= channelCount {
		return errdefs.InvalidRequest("channel_idx must be 0..%d", channelCount-1)
	}
	if name == "" {
		return errdefs.InvalidRequest("channel name required")
	}
	var secret []byte
	if secretHex != "" {
		var err error
		secret, err = hex.DecodeString(secretHex)
		if err != nil {
			return errdefs.InvalidRequest("channel secret must be hex")
		}
	}
	drv, _, err := m.driverRef()
	if err != nil {
		return err
	}
	res, err := drv.Commands().SetChannel(ctx, idx, name, secret)
	return commandOutcome(res, err, "set channel")
}

// DeviceInfoReport is the /api/device response shape.
type DeviceInfoReport struct {
	SelfInfo   driver.SelfInfo    `json:"self_info"`
	Time       int64              `json:"time"`
	DeviceInfo *driver.DeviceInfo `json:"device_info"`
}

// DeviceInfo queries the device identity and refreshes the clock reading.
func (m *Manager) DeviceInfo(ctx context.Context) (*DeviceInfoReport, error) {
	drv, _, err := m.driverRef()
	if err != nil {
		return nil, err
	}
	report := &DeviceInfoReport{SelfInfo: drv.SelfInfo()}

	res, err := drv.Commands().SendDeviceQuery(ctx)
	if err != nil {
		return nil, errdefs.TransportError("device query failed", err)
	}
	if res.Kind == driver.EventDeviceInfo {
		if info, ok := res.Payload.(driver.DeviceInfo); ok {
			report.DeviceInfo = &info
		}
	}

	if _, err := drv.Commands().GetTime(ctx); err != nil {
		return nil, errdefs.TransportError("time query failed", err)
	}
	report.Time = drv.Time()
	return report, nil
}

// Stats aggregates the four statistic queries. Failures are isolated per
// item: a failing statistic is omitted, not fatal.
func (m *Manager) Stats(ctx context.Context) (map[string]any, error) {
	drv, _, err := m.driverRef()
	if err != nil {
		return nil, err
	}
	cmds := drv.Commands()
	stats := make(map[string]any)

	type statQuery struct {
		name string
		kind driver.EventKind
		call func(context.Context) (driver.Result, error)
	}
	queries := []statQuery{
		{"core", driver.EventStatsCore, cmds.GetStatsCore},
		{"radio", driver.EventStatsRadio, cmds.GetStatsRadio},
		{"packets", driver.EventStatsPkts, cmds.GetStatsPackets},
		{"battery", driver.EventBattery, cmds.GetBattery},
	}
	for _, q := range queries {
		res, err := q.call(ctx)
		if err != nil || res.Kind != q.kind {
			log.Debug().Err(err).Str("stat", q.name).Msg("stat query failed, omitting")
			continue
		}
		stats[q.name] = res.Payload
	}
	return stats, nil
}

// Settings is the partial-update request for device settings. Nil fields are
// untouched; coordinates only apply when both are present.
type Settings struct {
	Name       *string  `json:"name"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	TxPower    *int     `json:"tx_power"`
	IsRepeater *bool    `json:"is_repeater"`
}

// UpdateSettings applies each provided setting and reports per-field
// success, mirroring the device answering each set command individually.
func (m *Manager) UpdateSettings(ctx context.Context, s Settings) (map[string]bool, error) {
	drv, _, err := m.driverRef()
	if err != nil {
		return nil, err
	}
	cmds := drv.Commands()
	results := make(map[string]bool)

	if s.Name != nil {
		res, err := cmds.SetName(ctx, *s.Name)
		results["name"] = err == nil && res.Kind == driver.EventOK
	}
	if s.Lat != nil && s.Lon != nil {
		res, err := cmds.SetCoords(ctx, *s.Lat, *s.Lon)
		results["coords"] = err == nil && res.Kind == driver.EventOK
	}
	if s.TxPower != nil {
		res, err := cmds.SetTxPower(ctx, *s.TxPower)
		results["tx_power"] = err == nil && res.Kind == driver.EventOK
	}
	if s.IsRepeater != nil {
		res, err := cmds.SetRepeater(ctx, *s.IsRepeater)
		results["is_repeater"] = err == nil && res.Kind == driver.EventOK
	}
	if len(results) == 0 {
		return nil, errdefs.InvalidRequest("no settings provided")
	}
	return results, nil
}

// SetDeviceTime writes the device clock and reads it back. Returns the
// device time after the sync.
func (m *Manager) SetDeviceTime(ctx context.Context, ts int64) (int64, error) {
	if ts <= 0 {
		return 0, errdefs.InvalidRequest("timestamp must be positive")
	}
	drv, _, err := m.driverRef()
	if err != nil {
		return 0, err
	}
	res, err := drv.Commands().SetTime(ctx, ts)
	if err := commandOutcome(res, err, "set time"); err != nil {
		return 0, err
	}
	if _, err := drv.Commands().GetTime(ctx); err != nil {
		return 0, errdefs.TransportError("time read-back failed", err)
	}
	return drv.Time(), nil
}

// RemoteCommand sends an administrative command to a repeater or room node.
func (m *Manager) RemoteCommand(ctx context.Context, target, command string) error {
	switch command {
	case "reboot", "advert":
	default:
		return errdefs.InvalidRequest("unknown remote command: %q", command)
	}
	drv, _, err := m.driverRef()
	if err != nil {
		return err
	}
	contact, ok := drv.Contacts()[target]
	if !ok {
		return errdefs.NotFound("contact not found")
	}
	res, err := drv.Commands().SendRemoteCommand(ctx, contact, command)
	return commandOutcome(res, err, "remote command")
}

// ResetPath clears the stored route to a contact, forcing flood routing
// until a fresh path is learned.
func (m *Manager) ResetPath(ctx context.Context, publicKey string) error {
	if publicKey == "" {
		return errdefs.InvalidRequest("public_key required")
	}
	drv, _, err := m.driverRef()
	if err != nil {
		return err
	}
	res, err := drv.Commands().ResetPath(ctx, publicKey)
	return commandOutcome(res, err, "reset path")
}

// TelemetryReport is the /api/contacts/{key}/telemetry response shape.
type TelemetryReport struct {
	Battery     int      `json:"battery"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Pressure    *float64 `json:"pressure,omitempty"`
	Voltage     *float64 `json:"voltage,omitempty"`
}

// Telemetry requests a sensor snapshot from a remote contact. A node that
// answers without telemetry yields a report with battery -1, matching the
// device convention for "no reading".
func (m *Manager) Telemetry(ctx context.Context, publicKey string) (*TelemetryReport, error) {
	drv, _, err := m.driverRef()
	if err != nil {
		return nil, err
	}
	contact, ok := drv.Contacts()[publicKey]
	if !ok {
		return nil, errdefs.NotFound("contact not found")
	}
	res, err := drv.Commands().GetTelemetry(ctx, contact)
	if err != nil {
		return nil, errdefs.TransportError("telemetry request failed", err)
	}
	if res.Kind != driver.EventTelemetry {
		return &TelemetryReport{Battery: -1}, nil
	}
	tel, ok := res.Payload.(driver.Telemetry)
	if !ok {
		return &TelemetryReport{Battery: -1}, nil
	}
	return &TelemetryReport{
		Battery:     tel.Battery,
		Temperature: tel.Temperature,
		Humidity:    tel.Humidity,
		Pressure:    tel.Pressure,
		Voltage:     tel.Voltage,
	}, nil
}

// commandOutcome maps a simple OK-or-error command result into the error
// taxonomy.
func commandOutcome(res driver.Result, err error, op string) error {
	if err != nil {
		return errdefs.TransportError(op+" failed", err)
	}
	if res.Kind == driver.EventError {
		return errdefs.DeviceError(errorCode(res))
	}
	return nil
}

// deviceNow returns the timestamp stamped onto outbound messages.
func deviceNow() int64 { return time.Now().Unix() }
