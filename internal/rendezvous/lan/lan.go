// Package lan implements same-network peer discovery via mDNS/DNS-SD,
// letting two nodes on the same LAN find each other with no bootstrap
// domain or DHT round-trip at all (§2's no-central-authority design
// extended to the local-network case).
//
// Grounded on github.com/grandcat/zeroconf, part of the teacher's
// dependency graph, used for both advertising this node's service
// record and browsing for peers advertising the same one.
package lan

import (
	"context"
	"strconv"

	"github.com/grandcat/zeroconf"

	"github.com/spaceway/spaceway/internal/errs"
)

// ServiceName is the DNS-SD service type spaceway nodes advertise
// under.
const ServiceName = "_spaceway._tcp"

// Peer is a peer discovered on the local network.
type Peer struct {
	Instance string
	Host     string
	Port     int
	IPv4     []string
	IPv6     []string
	Text     []string
}

// Advertiser publishes this node's presence via mDNS.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers instanceName on ServiceName at port, with txt as
// optional metadata (e.g. a protocol_version marker).
func Advertise(instanceName string, port int, txt []string) (*Advertiser, error) {
	server, err := zeroconf.Register(instanceName, ServiceName, "local.", port, txt, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrNotConnected, "lan: register: "+err.Error())
	}
	return &Advertiser{server: server}, nil
}

// Shutdown stops advertising.
func (a *Advertiser) Shutdown() { a.server.Shutdown() }

// Discover browses for ServiceName peers for the lifetime of ctx,
// invoking onPeer for each entry seen.
func Discover(ctx context.Context, onPeer func(Peer)) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return errs.Wrap(errs.ErrNotConnected, "lan: resolver: "+err.Error())
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			p := Peer{
				Instance: entry.Instance,
				Host:     entry.HostName,
				Port:     entry.Port,
				Text:     entry.Text,
			}
			for _, ip := range entry.AddrIPv4 {
				p.IPv4 = append(p.IPv4, ip.String()+":"+strconv.Itoa(entry.Port))
			}
			for _, ip := range entry.AddrIPv6 {
				p.IPv6 = append(p.IPv6, ip.String()+":"+strconv.Itoa(entry.Port))
			}
			onPeer(p)
		}
	}()

	if err := resolver.Browse(ctx, ServiceName, "local.", entries); err != nil {
		return errs.Wrap(errs.ErrNotConnected, "lan: browse: "+err.Error())
	}
	<-ctx.Done()
	return nil
}
