// Package gossip implements the topic pub/sub fabric (§4.7): three
// topic kinds (space/{SpaceId}, user/{UserId}/welcome, discovery),
// publish-with-dedup, idempotent unsubscribe, and per-topic delivery
// metrics. Subscribe is not idempotent: each call adds another handler,
// so a topic subscribed twice delivers each message twice.
//
// Grounded on the teacher's metrics abstraction
// (_examples/luxfi-consensus/metrics/metric.go, metrics.go) for the
// per-topic Counter/Gauge wiring, and on its mesh-membership bookkeeping
// style (map[topic]set[peer], see networking/tracker) generalized from
// resource tracking to topic subscriber sets. No pub/sub library
// appears in the example pack, so the fabric itself (mesh membership,
// dedup) is built on stdlib sync primitives; see DESIGN.md.
package gossip

import (
	"sync"

	"github.com/spaceway/spaceway/internal/ids"
	"github.com/spaceway/spaceway/internal/metrics"
)

// Topic is a gossip topic name, one of the three kinds named in §4.7.
type Topic string

// SpaceTopic returns the space/{SpaceId} topic carrying operations and
// key-commits for space.
func SpaceTopic(space ids.SpaceId) Topic { return Topic("space/" + space.String()) }

// WelcomeTopic returns the user/{UserId}/welcome topic carrying
// Welcome bundles addressed to user.
func WelcomeTopic(user ids.UserId) Topic { return Topic("user/" + user.String() + "/welcome") }

// DiscoveryTopic is the single well-known topic carrying public Space
// announcements.
const DiscoveryTopic Topic = "discovery"

// Message is one gossip message: an opaque payload plus the id the
// fabric deduplicates on.
type Message struct {
	Id      ids.ID32
	Payload []byte
}

// PeerId identifies a mesh peer; left opaque to this package.
type PeerId string

// Deliverer is how Fabric actually reaches mesh peers; a production
// implementation dials real connections, tests use an in-memory one
// (see NewLoopback).
type Deliverer interface {
	// Publish sends msg to every mesh peer of topic except excludeSelf.
	Publish(topic Topic, msg Message, excludeSelf PeerId)
}

// Handler receives delivered messages for a subscribed topic.
type Handler func(topic Topic, msg Message)

// topicMetrics is the per-topic counter set (§4.7 "per-topic metrics").
type topicMetrics struct {
	published  metrics.Counter
	delivered  metrics.Counter
	duplicates metrics.Counter
}

// Fabric is one node's gossip client.
type Fabric struct {
	self     PeerId
	deliverer Deliverer
	registry  *metrics.Registry

	mu          sync.Mutex
	subscribers map[Topic][]Handler
	seen        map[Topic]map[ids.ID32]struct{}
	topicStats  map[Topic]*topicMetrics
}

// New constructs a Fabric for self, publishing through deliverer and
// recording per-topic metrics in registry.
func New(self PeerId, deliverer Deliverer, registry *metrics.Registry) *Fabric {
	return &Fabric{
		self: self, deliverer: deliverer, registry: registry,
		subscribers: make(map[Topic][]Handler),
		seen:        make(map[Topic]map[ids.ID32]struct{}),
		topicStats:  make(map[Topic]*topicMetrics),
	}
}

func (f *Fabric) statsFor(topic Topic) *topicMetrics {
	if s, ok := f.topicStats[topic]; ok {
		return s
	}
	s := &topicMetrics{
		published:  f.registry.Counter("gossip_published_total", "topic", string(topic)),
		delivered:  f.registry.Counter("gossip_delivered_total", "topic", string(topic)),
		duplicates: f.registry.Counter("gossip_duplicates_total", "topic", string(topic)),
	}
	f.topicStats[topic] = s
	return s
}

// Subscribe registers handler for topic; idempotent per (topic,
// handler) is not tracked (handlers are not comparable), but repeated
// Subscribe calls are safe and simply add another delivery path, which
// matches "the fabric maintains mesh membership automatically."
func (f *Fabric) Subscribe(topic Topic, handler Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers[topic] = append(f.subscribers[topic], handler)
	if f.seen[topic] == nil {
		f.seen[topic] = make(map[ids.ID32]struct{})
	}
}

// Unsubscribe removes every handler registered for topic. Idempotent:
// unsubscribing a topic with no subscribers is a no-op (§4.7).
func (f *Fabric) Unsubscribe(topic Topic) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribers, topic)
}

// Publish emits msg to topic's mesh peers and to this node's own local
// subscribers, deduplicating by msg.Id (§4.7: "the fabric deduplicates
// by message ID; duplicates are counted but not redelivered").
func (f *Fabric) Publish(topic Topic, msg Message) {
	f.mu.Lock()
	stats := f.statsFor(topic)
	stats.published.Inc()
	f.mu.Unlock()

	f.deliver(topic, msg)
	if f.deliverer != nil {
		f.deliverer.Publish(topic, msg, f.self)
	}
}

// Deliver is called by the Deliverer when a remote peer forwards a
// message for a topic this node is subscribed to.
func (f *Fabric) Deliver(topic Topic, msg Message) {
	f.deliver(topic, msg)
}

func (f *Fabric) deliver(topic Topic, msg Message) {
	f.mu.Lock()
	stats := f.statsFor(topic)
	seen := f.seen[topic]
	if seen == nil {
		seen = make(map[ids.ID32]struct{})
		f.seen[topic] = seen
	}
	if _, dup := seen[msg.Id]; dup {
		stats.duplicates.Inc()
		f.mu.Unlock()
		return
	}
	seen[msg.Id] = struct{}{}
	handlers := append([]Handler(nil), f.subscribers[topic]...)
	f.mu.Unlock()

	for _, h := range handlers {
		stats.delivered.Inc()
		h(topic, msg)
	}
}
