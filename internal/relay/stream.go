package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// KindRaceCompleted announces a freshly simulated race.
const KindRaceCompleted = "race.completed"

// Envelope carries one published announcement together with its sequence number.
type Envelope struct {
	Sequence uint64          `json:"sequence"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

// Clone duplicates the payload bytes so receivers cannot mutate the retained log.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Payload = append(json.RawMessage(nil), e.Payload...)
	return &clone
}

// Config controls the retention policy of the log.
type Config struct {
	// Retain caps how many envelopes are kept for lagging subscribers.
	Retain int
}

const defaultRetention = 128

// ErrOutOfOrderAck signals that a subscriber acknowledged something other than its oldest pending entry.
var ErrOutOfOrderAck = errors.New("ack sequence must match the next pending event")

// ErrClosed is returned when acknowledging through a released subscription.
var ErrClosed = errors.New("subscription closed")

// Stream is an ordered log of announcements with at-least-once delivery per subscriber.
// Subscribers that reconnect under the same id receive every entry they have not acknowledged.
type Stream struct {
	mu          sync.Mutex
	nextSeq     uint64
	retention   int
	log         []*Envelope
	subscribers map[string]*subscriberState
}

type subscriberState struct {
	pending []uint64
	lastAck uint64
	ch      chan *Envelope
}

// Subscription is one live attachment of a subscriber.
type Subscription struct {
	id     string
	stream *Stream
	events chan *Envelope
	once   sync.Once
}

// NewStream constructs a stream using the provided configuration.
func NewStream(cfg Config) *Stream {
	retention := cfg.Retain
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Stream{retention: retention, subscribers: make(map[string]*subscriberState)}
}

// Subscribe attaches subscriberID and queues every retained entry it has not acknowledged.
// A previous live attachment under the same id is detached.
func (s *Stream) Subscribe(subscriberID string, buffer int) (*Subscription, error) {
	if s == nil {
		return nil, errors.New("nil stream")
	}
	if subscriberID == "" {
		return nil, errors.New("subscriber id must be provided")
	}
	if buffer <= 0 {
		buffer = 32
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.subscribers[subscriberID]
	if !ok {
		state = &subscriberState{}
		s.subscribers[subscriberID] = state
	}
	if state.ch != nil {
		close(state.ch)
	}

	//1.- Everything newer than the last ack is pending again, in log order.
	state.pending = state.pending[:0]
	replay := make([]*Envelope, 0, len(s.log))
	for _, env := range s.log {
		if env.Sequence > state.lastAck {
			state.pending = append(state.pending, env.Sequence)
			replay = append(replay, env.Clone())
		}
	}
	//2.- The channel is sized so the replay never blocks the caller.
	if len(replay) > buffer {
		buffer = len(replay)
	}
	ch := make(chan *Envelope, buffer)
	for _, env := range replay {
		ch <- env
	}
	state.ch = ch
	return &Subscription{id: subscriberID, stream: s, events: ch}, nil
}

// Publish appends an announcement and fans it out to live subscribers.
func (s *Stream) Publish(kind string, payload any) (uint64, error) {
	if s == nil {
		return 0, errors.New("nil stream")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	env := &Envelope{Sequence: s.nextSeq, Kind: kind, Payload: raw}
	s.log = append(s.log, env)
	for _, state := range s.subscribers {
		state.pending = append(state.pending, env.Sequence)
		if state.ch == nil {
			continue
		}
		// slow subscribers miss the live copy and get it again on reconnect
		select {
		case state.ch <- env.Clone():
		default:
		}
	}
	s.enforceRetentionLocked()
	return env.Sequence, nil
}

// Len reports how many envelopes are retained.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}

// Events exposes the ordered delivery channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan *Envelope {
	if s == nil {
		return nil
	}
	return s.events
}

// ID returns the subscriber identifier.
func (s *Subscription) ID() string { return s.id }

// Ack marks sequence, which must be the oldest pending entry, as processed.
func (s *Subscription) Ack(sequence uint64) error {
	if s == nil || s.stream == nil {
		return ErrClosed
	}
	return s.stream.ack(s.id, sequence)
}

// Close detaches the subscription but keeps its acknowledgement state for a later reconnect.
func (s *Subscription) Close() {
	s.end(false)
}

// Release detaches the subscription and forgets the subscriber entirely.
func (s *Subscription) Release() {
	s.end(true)
}

func (s *Subscription) end(forget bool) {
	if s == nil || s.stream == nil {
		return
	}
	s.once.Do(func() {
		st := s.stream
		st.mu.Lock()
		defer st.mu.Unlock()
		state, ok := st.subscribers[s.id]
		if !ok {
			return
		}
		if state.ch == s.events {
			close(state.ch)
			state.ch = nil
		}
		if forget && state.ch == nil {
			delete(st.subscribers, s.id)
			st.enforceRetentionLocked()
		}
	})
}

func (s *Stream) ack(subscriberID string, sequence uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.subscribers[subscriberID]
	if !ok {
		return fmt.Errorf("unknown subscriber %q", subscriberID)
	}
	if len(state.pending) == 0 {
		if sequence <= state.lastAck {
			return nil
		}
		return ErrOutOfOrderAck
	}
	if sequence != state.pending[0] {
		return ErrOutOfOrderAck
	}
	state.pending = state.pending[1:]
	state.lastAck = sequence
	s.enforceRetentionLocked()
	return nil
}

// enforceRetentionLocked drops entries every subscriber has acknowledged, then trims the
// oldest entries beyond the retention cap even if someone still waits for them.
func (s *Stream) enforceRetentionLocked() {
	if len(s.log) == 0 {
		return
	}
	minAck := s.nextSeq
	for _, state := range s.subscribers {
		if state.lastAck < minAck {
			minAck = state.lastAck
		}
	}
	drop := 0
	if len(s.subscribers) > 0 {
		for drop < len(s.log) && s.log[drop].Sequence <= minAck {
			drop++
		}
	}
	if over := len(s.log) - drop - s.retention; over > 0 {
		drop += over
	}
	if drop == 0 {
		return
	}
	floor := s.log[drop-1].Sequence
	s.log = append([]*Envelope(nil), s.log[drop:]...)
	for _, state := range s.subscribers {
		//1.- Pending entries that fell off the log can no longer be replayed.
		keep := state.pending[:0]
		for _, seq := range state.pending {
			if seq > floor {
				keep = append(keep, seq)
			}
		}
		state.pending = keep
		if state.lastAck < floor {
			state.lastAck = floor
		}
	}
}
