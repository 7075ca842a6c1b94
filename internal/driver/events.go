package driver

// EventKind enumerates everything a driver can report, both asynchronous
// device events and command result kinds. Mirrors the companion radio's
// response codes one-to-one.
type EventKind string

const (
	// Asynchronous device events.
	EventContactMessage  EventKind = "CONTACT_MSG_RECV"
	EventChannelMessage  EventKind = "CHANNEL_MSG_RECV"
	EventAck             EventKind = "ACK"
	EventAdvertisement   EventKind = "ADVERTISEMENT"
	EventContactsChanged EventKind = "CONTACTS"

	// Command result kinds.
	EventOK          EventKind = "OK"
	EventError       EventKind = "ERROR"
	EventMsgSent     EventKind = "MSG_SENT"
	EventTimeout     EventKind = "TIMEOUT"
	EventSelfInfo    EventKind = "SELF_INFO"
	EventCurrentTime EventKind = "CURRENT_TIME"
	EventChannelInfo EventKind = "CHANNEL_INFO"
	EventDeviceInfo  EventKind = "DEVICE_INFO"
	EventStatsCore   EventKind = "STATS_CORE"
	EventStatsRadio  EventKind = "STATS_RADIO"
	EventStatsPkts   EventKind = "STATS_PACKETS"
	EventBattery     EventKind = "BATTERY"
	EventTelemetry   EventKind = "TELEMETRY_RESPONSE"
)

// Event is one asynchronous notification from the device. Payload holds the
// typed payload struct for the kind (ContactMessage, ChannelMessage, Ack,
// Advertisement or ContactsChanged for the bridged kinds).
type Event struct {
	Kind    EventKind
	Payload any
}

// ContactMessage is an inbound direct message.
type ContactMessage struct {
	PubkeyPrefix    HexBytes `json:"pubkey_prefix"`
	PathLen         int      `json:"path_len"`
	TxtType         int      `json:"txt_type"`
	SenderTimestamp int64    `json:"sender_timestamp"`
	Text            string   `json:"text"`
	SNR             float64  `json:"snr,omitempty"`
}

// ChannelMessage is an inbound message on a shared channel.
type ChannelMessage struct {
	ChannelIdx      int    `json:"channel_idx"`
	PathLen         int    `json:"path_len"`
	TxtType         int    `json:"txt_type"`
	SenderTimestamp int64  `json:"sender_timestamp"`
	Text            string `json:"text"`
}

// Ack correlates back to a prior send via its code.
type Ack struct {
	Code HexBytes `json:"code"`
}

// Advertisement announces a node heard on air.
type Advertisement struct {
	PublicKey HexBytes `json:"public_key"`
}

// ContactsChanged signals that the device-side contact list was updated.
type ContactsChanged struct{}
