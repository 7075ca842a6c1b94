// Package discovery browses mDNS for companion radios reachable over TCP,
// feeding the connect dialog the same way serial port enumeration does for
// the serial transport.
package discovery

import (
	"context"
	"sort"
	"time"

	"github.com/enbility/zeroconf/v3"
)

const (
	DefaultService = "_meshcore._tcp"
	DefaultDomain  = "local."
	DefaultTimeout = 3 * time.Second
)

// Device is one radio announced on the local network.
type Device struct {
	Name      string   `json:"name"`
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	Addresses []string `json:"addresses"`
}

// Browser runs bounded mDNS browse operations.
type Browser struct {
	Service string
	Domain  string
}

func NewBrowser(service, domain string) *Browser {
	if service == "" {
		service = DefaultService
	}
	if domain == "" {
		domain = DefaultDomain
	}
	return &Browser{Service: service, Domain: domain}
}

// Browse collects devices announced within the timeout. Entries seen on
// multiple interfaces are merged by instance name.
func (b *Browser) Browse(ctx context.Context, timeout time.Duration) ([]Device, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	found := make(map[string]*Device)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				dev := entryToDevice(entry)
				if existing, seen := found[dev.Name]; seen {
					existing.Addresses = mergeAddresses(existing.Addresses, dev.Addresses)
				} else {
					found[dev.Name] = dev
				}
			case <-removed:
				// A device vanishing mid-browse still counts as seen.
			case <-ctx.Done():
				return
			}
		}
	}()

	err := zeroconf.Browse(ctx, b.Service, b.Domain, entries, removed)
	<-done
	if err != nil && ctx.Err() == nil {
		return nil, err
	}

	devices := make([]Device, 0, len(found))
	for _, dev := range found {
		devices = append(devices, *dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

func entryToDevice(entry *zeroconf.ServiceEntry) *Device {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return &Device{
		Name:      entry.Instance,
		Host:      entry.HostName,
		Port:      entry.Port,
		Addresses: addrs,
	}
}

func mergeAddresses(have, more []string) []string {
	seen := make(map[string]struct{}, len(have))
	for _, a := range have {
		seen[a] = struct{}{}
	}
	for _, a := range more {
		if _, ok := seen[a]; !ok {
			have = append(have, a)
			seen[a] = struct{}{}
		}
	}
	return have
}
