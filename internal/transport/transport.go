// Package transport builds the link handle used to reach a companion radio.
// A Transport is a description only: constructing one never opens the
// underlying port or socket, that happens inside the device driver during
// connect.
package transport

import (
	"fmt"

	"github.com/meshportal/backend/internal/errdefs"
)

type Kind string

const (
	KindSerial Kind = "serial"
	KindTCP    Kind = "tcp"
	KindBLE    Kind = "ble"
)

const DefaultBaudrate = 115200

const DefaultTCPPort = 5000

// Spec is the tagged union a connect request carries. Type selects the
// transport kind; the other fields are kind-specific.
type Spec struct {
	Type       string `json:"type" yaml:"type"`
	Port       string `json:"port,omitempty" yaml:"port"`
	Baudrate   int    `json:"baudrate,omitempty" yaml:"baudrate"`
	Host       string `json:"host,omitempty" yaml:"host"`
	TCPPort    int    `json:"tcp_port,omitempty" yaml:"tcp_port"`
	Password   string `json:"password,omitempty" yaml:"password"`
	DeviceName string `json:"device_name,omitempty" yaml:"device_name"`
	PIN        string `json:"pin,omitempty" yaml:"pin"`
}

// Transport is a constructed, not-yet-opened link handle.
type Transport interface {
	Kind() Kind
	// Target describes the endpoint for logging and status output.
	Target() string
}

type Serial struct {
	Port     string
	Baudrate int
}

func (s Serial) Kind() Kind     { return KindSerial }
func (s Serial) Target() string { return fmt.Sprintf("%s@%d", s.Port, s.Baudrate) }

type TCP struct {
	Host     string
	Port     int
	Password string
}

func (t TCP) Kind() Kind     { return KindTCP }
func (t TCP) Target() string { return fmt.Sprintf("%s:%d", t.Host, t.Port) }

type BLE struct {
	DeviceName string
	PIN        string
}

func (b BLE) Kind() Kind     { return KindBLE }
func (b BLE) Target() string { return b.DeviceName }

// New maps a Spec to its transport handle. Each kind validates its own
// required fields; optional fields fall back to defaults.
func New(spec Spec) (Transport, error) {
	switch Kind(spec.Type) {
	case KindSerial:
		if spec.Port == "" {
			return nil, errdefs.InvalidRequest("port required for serial connection")
		}
		baud := spec.Baudrate
		if baud <= 0 {
			baud = DefaultBaudrate
		}
		return Serial{Port: spec.Port, Baudrate: baud}, nil

	case KindTCP:
		if spec.Host == "" {
			return nil, errdefs.InvalidRequest("host required for tcp connection")
		}
		port := spec.TCPPort
		if port <= 0 {
			port = DefaultTCPPort
		}
		return TCP{Host: spec.Host, Port: port, Password: spec.Password}, nil

	case KindBLE:
		if spec.DeviceName == "" {
			return nil, errdefs.InvalidRequest("device name required for ble connection")
		}
		return BLE{DeviceName: spec.DeviceName, PIN: spec.PIN}, nil

	default:
		return nil, errdefs.InvalidRequest("unknown connection type: %q", spec.Type)
	}
}
