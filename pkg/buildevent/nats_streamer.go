package buildevent

import (
	"encoding/binary"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// StreamRequest is the wire message sent for every emitted build
// event. The event carries the trace identifier the collector will
// acknowledge.
type StreamRequest struct {
	StreamID uint64 `json:"stream_id"`
	Event    Event  `json:"event"`
}

// StreamAck is the wire message the collector sends back once the
// event tagged with the given trace identifier has been durably
// committed.
type StreamAck struct {
	StreamID uint64 `json:"stream_id"`
	TraceID  uint64 `json:"trace_id"`
}

// Connection is the subset of a NATS connection the streamer needs.
type Connection interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
}

var _ Connection = (*nats.Conn)(nil)

// NATSStreamer publishes build events over a NATS subject and tracks
// acknowledgments on a companion subject. Publishing never blocks the
// build: marshal or transport failures only leave the event in the
// not-yet-durable set.
type NATSStreamer struct {
	connection Connection
	subject    string
	streamID   uint64
	clock      clock.Clock

	nextTraceID atomic.Uint64
	lock        sync.Mutex
	unacked     map[uint64]struct{}
}

// NewNATSStreamer creates a streamer with a freshly minted stream
// identifier, publishing to the given subject and consuming
// acknowledgments from "<subject>.ack".
func NewNATSStreamer(connection Connection, subject string, clk clock.Clock, uuidGenerator util.UUIDGenerator) (*NATSStreamer, error) {
	streamUUID, err := uuidGenerator()
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to generate stream ID")
	}
	s := &NATSStreamer{
		connection: connection,
		subject:    subject,
		streamID:   binary.BigEndian.Uint64(streamUUID[:8]),
		clock:      clk,
		unacked:    map[uint64]struct{}{},
	}
	if _, err := connection.Subscribe(subject+".ack", s.handleAck); err != nil {
		return nil, util.StatusWrap(err, "Failed to subscribe to acknowledgment subject")
	}
	return s, nil
}

// NewNATSStreamerFromURL connects to a NATS server and creates a
// streamer on top of the connection.
func NewNATSStreamerFromURL(url, subject string, clk clock.Clock) (*NATSStreamer, error) {
	connection, err := nats.Connect(url, nats.Name("pyrite-build-events"))
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to connect to NATS server %#v", url)
	}
	return NewNATSStreamer(connection, subject, clk, func() (uuid.UUID, error) {
		return uuid.NewRandom()
	})
}

// StreamID returns the identifier under which this build's events are
// published.
func (s *NATSStreamer) StreamID() uint64 {
	return s.streamID
}

func (s *NATSStreamer) handleAck(msg *nats.Msg) {
	var ack StreamAck
	if err := json.Unmarshal(msg.Data, &ack); err != nil || ack.StreamID != s.streamID {
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.unacked[ack.TraceID]; ok {
		delete(s.unacked, ack.TraceID)
		eventsAcknowledged.Inc()
	}
}

// Publish sends one build event. The event is tagged with a fresh
// trace identifier and recorded as not yet durable until the collector
// acknowledges it. Failures are absorbed; telemetry must never fail
// the build.
func (s *NATSStreamer) Publish(event Event) {
	event.TraceID = s.nextTraceID.Add(1)
	if event.Time.IsZero() {
		event.Time = s.clock.Now()
	}

	s.lock.Lock()
	s.unacked[event.TraceID] = struct{}{}
	s.lock.Unlock()

	data, err := json.Marshal(StreamRequest{
		StreamID: s.streamID,
		Event:    event,
	})
	if err != nil {
		return
	}
	if s.connection.Publish(s.subject, data) == nil {
		eventsPublished.Inc()
	}
}

// Unacknowledged returns the number of events that have been published
// but not yet durably committed by the collector.
func (s *NATSStreamer) Unacknowledged() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.unacked)
}
