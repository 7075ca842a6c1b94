package driver

// Result is the terminal outcome of one device command. Kind selects which
// payload struct Payload holds; commands that return no data (set_time,
// set_channel, ...) use EventOK with a nil payload.
type Result struct {
	Kind    EventKind
	Payload any
}

// MsgSent reports a successfully transmitted message awaiting its ack.
type MsgSent struct {
	ExpectedAck      HexBytes `json:"expected_ack"`
	SuggestedTimeout int      `json:"suggested_timeout,omitempty"`
}

// CommandError carries the explicit device error code for EventError results.
type CommandError struct {
	Code int `json:"error_code"`
}

// ChannelInfo describes one of the eight shared channels.
type ChannelInfo struct {
	ChannelIdx int      `json:"channel_idx"`
	Name       string   `json:"channel_name"`
	Secret     HexBytes `json:"channel_secret,omitempty"`
}

// DeviceInfo is the device query response.
type DeviceInfo struct {
	FirmwareVersion string `json:"firmware_version"`
	FirmwareBuild   string `json:"firmware_build,omitempty"`
	Model           string `json:"model"`
	MaxContacts     int    `json:"max_contacts,omitempty"`
	MaxChannels     int    `json:"max_channels,omitempty"`
}

type StatsCore struct {
	UptimeSeconds int64 `json:"uptime_seconds"`
	MessagesSent  int   `json:"messages_sent"`
	MessagesRecv  int   `json:"messages_received"`
}

type StatsRadio struct {
	NoiseFloor int     `json:"noise_floor"`
	LastRSSI   int     `json:"last_rssi"`
	LastSNR    float64 `json:"last_snr"`
	AirtimeSec int64   `json:"airtime_seconds"`
}

type StatsPackets struct {
	PacketsSent int `json:"packets_sent"`
	PacketsRecv int `json:"packets_received"`
	DirectDups  int `json:"direct_dups"`
	FloodDups   int `json:"flood_dups"`
}

// Battery level in millivolts, the unit the firmware reports.
type Battery struct {
	LevelMilliVolts int `json:"level"`
}

// Telemetry is a remote node's sensor snapshot. Pointer fields are absent
// when the node does not carry that sensor.
type Telemetry struct {
	Battery     int      `json:"battery"`
	Temperature *float64 `json:"temp,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Pressure    *float64 `json:"pressure,omitempty"`
	Voltage     *float64 `json:"voltage,omitempty"`
}

// CurrentTime is the device clock read-back.
type CurrentTime struct {
	Time int64 `json:"time"`
}
