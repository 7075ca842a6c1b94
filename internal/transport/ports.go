package transport

import (
	"go.bug.st/serial/enumerator"
)

// PortInfo describes one serial port candidate for the connect dialog.
type PortInfo struct {
	Device      string `json:"device"`
	Description string `json:"description"`
	HWID        string `json:"hwid"`
}

// ListSerialPorts enumerates the serial ports visible on this host. An
// enumeration failure yields an empty list, the connect dialog degrades to
// manual entry.
func ListSerialPorts() []PortInfo {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []PortInfo{}
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{Device: d.Name}
		if d.IsUSB {
			info.Description = d.Product
			info.HWID = "USB VID:PID=" + d.VID + ":" + d.PID
			if d.SerialNumber != "" {
				info.HWID += " SER=" + d.SerialNumber
			}
		}
		ports = append(ports, info)
	}
	return ports
}
