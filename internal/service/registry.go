package service

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"livechat/internal/constants"
	"livechat/internal/errors"
	"livechat/internal/models"
)

// entry wraps a channel with a mutex serializing writes to it.
// Websocket writers are not safe for concurrent use.
type entry struct {
	mu sync.Mutex
	ch Channel
}

func (e *entry) send(ctx context.Context, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch.Send(ctx, data)
}

// Registry tracks live channels: at most one visitor channel per
// conversation and a bounded pool of operator channels. All methods
// are safe for concurrent use. No lock is ever held across a send.
type Registry struct {
	mu            sync.RWMutex
	visitors      map[string]*entry
	operators     map[Channel]*entry
	maxVisitors   int
	maxOperators  int
	maxEventBytes int
	logger        *logrus.Logger
}

func NewRegistry(maxVisitors, maxOperators, maxEventBytes int, logger *logrus.Logger) *Registry {
	if maxVisitors <= 0 {
		maxVisitors = constants.DefaultMaxVisitorChannels
	}
	if maxOperators <= 0 {
		maxOperators = constants.DefaultMaxOperatorChannels
	}
	if maxEventBytes <= 0 {
		maxEventBytes = constants.DefaultMaxEventBytes
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		visitors:      make(map[string]*entry),
		operators:     make(map[Channel]*entry),
		maxVisitors:   maxVisitors,
		maxOperators:  maxOperators,
		maxEventBytes: maxEventBytes,
		logger:        logger,
	}
}

// BindVisitor registers ch as the live channel for a conversation.
// A previous channel for the same conversation is returned so the
// caller can close it with CloseNormal; binding always wins for the
// newest connection. Returns a capacity error when the visitor table
// is full and the conversation is not already bound.
func (r *Registry) BindVisitor(conversationID string, ch Channel) (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, rebind := r.visitors[conversationID]
	if !rebind && len(r.visitors) >= r.maxVisitors {
		return nil, errors.New(errors.ErrCodeCapacity, "visitor capacity reached")
	}

	r.visitors[conversationID] = &entry{ch: ch}
	if rebind {
		return prev.ch, nil
	}
	return nil, nil
}

// UnbindVisitor removes the binding for a conversation. When ch is
// non-nil the binding is removed only if it still wraps ch, so a stale
// connection's deferred cleanup cannot evict its replacement.
func (r *Registry) UnbindVisitor(conversationID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.visitors[conversationID]
	if !ok {
		return
	}
	if ch != nil && cur.ch != ch {
		return
	}
	delete(r.visitors, conversationID)
}

func (r *Registry) AddOperator(ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.operators) >= r.maxOperators {
		return errors.New(errors.ErrCodeCapacity, "operator capacity reached")
	}
	r.operators[ch] = &entry{ch: ch}
	return nil
}

func (r *Registry) RemoveOperator(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.operators, ch)
}

// SendToVisitor delivers an event to the conversation's live channel,
// if any. A failed send evicts the binding; a visitor with no live
// channel is not an error.
func (r *Registry) SendToVisitor(ctx context.Context, conversationID string, event *models.Event) error {
	data, err := r.encode(event)
	if err != nil {
		return err
	}

	r.mu.RLock()
	e, ok := r.visitors[conversationID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	if err := e.send(ctx, data); err != nil {
		r.logger.WithError(err).WithField("conversationID", conversationID).
			Debug("Evicting dead visitor channel")
		r.UnbindVisitor(conversationID, e.ch)
		return nil
	}
	return nil
}

// BroadcastToOperators delivers an event to every live operator
// channel concurrently. Dead channels are evicted; one slow or broken
// operator never blocks the rest.
func (r *Registry) BroadcastToOperators(ctx context.Context, event *models.Event) error {
	data, err := r.encode(event)
	if err != nil {
		return err
	}

	r.mu.RLock()
	targets := make([]*entry, 0, len(r.operators))
	for _, e := range r.operators {
		targets = append(targets, e)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range targets {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			if err := e.send(ctx, data); err != nil {
				r.logger.WithError(err).Debug("Evicting dead operator channel")
				r.RemoveOperator(e.ch)
			}
		}(e)
	}
	wg.Wait()
	return nil
}

// Counts reports live visitor and operator channel totals.
func (r *Registry) Counts() (visitors, operators int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.visitors), len(r.operators)
}

// encode serializes an event, shrinking it until the frame fits the
// configured event size limit. Content is cut first; when the bulk
// sits in a replay or snapshot list, trailing entries are dropped.
func (r *Registry) encode(event *models.Event) ([]byte, error) {
	data, err := event.Encode()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode event")
	}
	if len(data) <= r.maxEventBytes {
		return data, nil
	}

	maxContent := r.maxEventBytes - constants.EventEnvelopeReserveBytes
	if maxContent < len(constants.TruncationMarker) {
		maxContent = len(constants.TruncationMarker)
	}
	shrunk := *event
	runes := []rune(event.Content)
	cut := maxContent / 4
	if cut > len(runes) {
		cut = len(runes)
	}
	for {
		if cut < len(runes) {
			shrunk.Content = string(runes[:cut]) + constants.TruncationMarker
		}
		data, err = shrunk.Encode()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode truncated event")
		}
		if len(data) <= r.maxEventBytes {
			return data, nil
		}
		// JSON escaping can inflate the kept runes past the limit, so
		// the cut is re-checked after every encode.
		if cut > 0 {
			cut /= 2
			continue
		}
		switch {
		case len(shrunk.Messages) > 1:
			shrunk.Messages = shrunk.Messages[:len(shrunk.Messages)/2]
		case len(shrunk.Items) > 1:
			shrunk.Items = shrunk.Items[:len(shrunk.Items)/2]
		default:
			r.logger.WithField("bytes", len(data)).Warn("Event still oversize after trimming, sending as-is")
			return data, nil
		}
	}
}
