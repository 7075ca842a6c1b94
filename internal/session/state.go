package session

// State is the connection lifecycle token. Connecting is an internal
// transient: callers only ever observe Disconnected or Connected as stable
// states, a connect either commits or rolls back.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

var stateNames = map[State]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Frame names for client-facing event broadcasts: the five bridged device
// event kinds plus the lifecycle frames the session layer emits itself.
const (
	FrameStatus          = "status"
	FrameConnected       = "connected"
	FrameDisconnected    = "disconnected"
	FrameContactMessage  = "contact_message"
	FrameChannelMessage  = "channel_message"
	FrameAck             = "ack"
	FrameAdvertisement   = "advertisement"
	FrameContactsUpdated = "contacts_updated"
	FramePong            = "pong"
)
