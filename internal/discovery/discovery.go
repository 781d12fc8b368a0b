// Package discovery finds and advertises AT command bridges over mDNS.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// Bridge represents one discovered AT command bridge.
type Bridge struct {
	Instance  string
	Hostname  string
	Addresses []net.IP
	Port      int
	TXT       []string
}

// DiscoverBridges performs a blocking mDNS browse for the given service
// (e.g. "_atbridge._tcp") in domain (typically "local."), for up to
// timeout. Of several entries for the same host/port, only the last one
// received is kept.
func DiscoverBridges(service, domain string, timeout time.Duration) ([]Bridge, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	results := make(map[string]Bridge)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				consolidate(results, e)
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}
	<-done

	out := make([]Bridge, 0, len(results))
	for _, b := range results {
		out = append(out, b)
	}
	return out, nil
}

// consolidate folds one resolved service entry into results, keyed by
// dedupeKey so repeated announcements of the same host/port overwrite
// rather than duplicate. A nil entry (a closed-channel sentinel some
// zeroconf resolvers emit) is ignored.
func consolidate(results map[string]Bridge, e *zeroconf.ServiceEntry) {
	if e == nil {
		return
	}
	results[dedupeKey(e)] = buildBridge(e)
}

// dedupeKey identifies a bridge by host and port: the same physical bridge
// can be announced more than once per browse with different instance
// names or TXT snapshots, and only the latest should survive.
func dedupeKey(e *zeroconf.ServiceEntry) string {
	return fmt.Sprintf("%s|%d", e.HostName, e.Port)
}

// buildBridge converts a raw zeroconf service entry into the package's
// Bridge type, merging the IPv4 and IPv6 address lists and unescaping the
// instance name's space escaping.
func buildBridge(e *zeroconf.ServiceEntry) Bridge {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Bridge{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string(nil), e.Text...),
	}
}

// Advertiser publishes this process's bridge ports over mDNS so peers can
// find them with DiscoverBridges.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers instance under service.domain at port, with the
// given TXT records, until Shutdown is called.
func Advertise(instance, service, domain string, port int, txt []string) (*Advertiser, error) {
	server, err := zeroconf.Register(instance, service, domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register: %w", err)
	}
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
}

func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
