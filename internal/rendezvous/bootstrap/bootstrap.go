// Package bootstrap resolves the node's configured bootstrap peers via
// DNS TXT records (a common no-central-server peer-discovery pattern:
// a domain the operator controls publishes a rotating list of
// currently-reachable peer addresses, with no single peer privileged
// as a directory — §2's "no central server, directory, or trusted
// third party").
//
// Grounded on github.com/miekg/dns, part of the teacher's dependency
// graph, used here for its Client/Exchange request-response shape
// rather than a bespoke resolver.
package bootstrap

import (
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/spaceway/spaceway/internal/errs"
)

// DefaultTimeout bounds a single DNS query.
const DefaultTimeout = 5 * time.Second

// Peer is one discovered bootstrap peer address.
type Peer struct {
	// Addr is a "host:port" or multiaddr-style string, as published in
	// the TXT record; this package does not interpret it further.
	Addr string
}

// Resolver resolves bootstrap peers from a DNS TXT record.
type Resolver struct {
	client  *dns.Client
	server  string // the recursive resolver to query, "host:port"
}

// NewResolver constructs a Resolver querying the given recursive
// resolver address (e.g. "1.1.1.1:53").
func NewResolver(resolverAddr string) *Resolver {
	return &Resolver{client: &dns.Client{Timeout: DefaultTimeout}, server: resolverAddr}
}

// Resolve queries domain's TXT records and parses each into a Peer.
// Records are expected in "spaceway-peer=<addr>" form; one peer per
// matching TXT string, and unrelated TXT strings are ignored so the
// same domain can carry unrelated records.
func (r *Resolver) Resolve(domain string) ([]Peer, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeTXT)

	in, _, err := r.client.Exchange(msg, r.server)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTimeout, "bootstrap: dns exchange: "+err.Error())
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, errs.Wrap(errs.ErrNotConnected, "bootstrap: dns rcode "+dns.RcodeToString[in.Rcode])
	}

	return parseTXTAnswers(in.Answer), nil
}

// parseTXTAnswers extracts Peer entries from a set of DNS answer
// records, split out from Resolve so the parsing logic is testable
// without a live DNS exchange.
func parseTXTAnswers(answers []dns.RR) []Peer {
	var peers []Peer
	const prefix = "spaceway-peer="
	for _, rr := range answers {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		for _, s := range txt.Txt {
			if addr, found := strings.CutPrefix(s, prefix); found && addr != "" {
				peers = append(peers, Peer{Addr: addr})
			}
		}
	}
	return peers
}
