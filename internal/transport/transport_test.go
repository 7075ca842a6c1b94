package transport

import (
	"testing"

	"github.com/meshportal/backend/internal/errdefs"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		spec       Spec
		wantKind   Kind
		wantTarget string
		wantErr    bool
	}{
		{
			name:       "serial with defaults",
			spec:       Spec{Type: "serial", Port: "/dev/ttyACM0"},
			wantKind:   KindSerial,
			wantTarget: "/dev/ttyACM0@115200",
		},
		{
			name:       "serial with explicit baudrate",
			spec:       Spec{Type: "serial", Port: "/dev/ttyUSB1", Baudrate: 9600},
			wantKind:   KindSerial,
			wantTarget: "/dev/ttyUSB1@9600",
		},
		{
			name:       "tcp with default port",
			spec:       Spec{Type: "tcp", Host: "192.168.1.40"},
			wantKind:   KindTCP,
			wantTarget: "192.168.1.40:5000",
		},
		{
			name:       "tcp with explicit port",
			spec:       Spec{Type: "tcp", Host: "radio.local", TCPPort: 4403},
			wantKind:   KindTCP,
			wantTarget: "radio.local:4403",
		},
		{
			name:       "ble",
			spec:       Spec{Type: "ble", DeviceName: "MeshCore-a1b2", PIN: "123456"},
			wantKind:   KindBLE,
			wantTarget: "MeshCore-a1b2",
		},
		{name: "serial without port", spec: Spec{Type: "serial"}, wantErr: true},
		{name: "tcp without host", spec: Spec{Type: "tcp"}, wantErr: true},
		{name: "ble without device name", spec: Spec{Type: "ble"}, wantErr: true},
		{name: "unknown type", spec: Spec{Type: "lora"}, wantErr: true},
		{name: "empty type", spec: Spec{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("New(%+v) succeeded, want error", tt.spec)
				}
				if errdefs.KindOf(err) != errdefs.KindInvalidRequest {
					t.Errorf("error kind = %s, want invalid_request", errdefs.KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if tr.Kind() != tt.wantKind {
				t.Errorf("Kind = %s, want %s", tr.Kind(), tt.wantKind)
			}
			if tr.Target() != tt.wantTarget {
				t.Errorf("Target = %q, want %q", tr.Target(), tt.wantTarget)
			}
		})
	}
}
