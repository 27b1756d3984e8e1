package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"geomap/internal/app/user"
	"geomap/internal/pkg/logx"
)

const (
	// inboundQueueSize buffers frames read from all clients ahead of the event loop.
	inboundQueueSize = 1024

	// MaxUsernameLength bounds the identity key accepted on join.
	MaxUsernameLength = 64
)

// inboundEvent is one frame read from a client.
type inboundEvent struct {
	client *Client
	data   []byte
}

// sweepRequest asks the event loop to drop records inactive since cutoff.
type sweepRequest struct {
	cutoff time.Time
	reply  chan []string
}

// Hub is the single owner of the Store and Registry mutations. Its Run loop applies
// register, unregister, inbound events and sweeps one at a time, so every observer
// sees broadcasts for one identity in the order they were applied. Delivery to a
// client never blocks the loop: a client whose queue is full is evicted.
type Hub struct {
	// store holds the identity -> record mapping.
	store *Store

	// registry holds the session <-> identity binding.
	registry *Registry

	// clients maps a live session ID to its transport handle. Only the Run loop touches it.
	clients map[string]*Client

	// register receives newly upgraded clients.
	register chan *Client

	// unregister receives clients whose read loop ended.
	unregister chan *Client

	// inbound receives frames read by client pumps.
	inbound chan inboundEvent

	// sweeps receives retention sweep requests.
	sweeps chan sweepRequest

	// stopChan is closed to stop accepting events and end the Run loop.
	stopChan chan struct{}
	stopOnce sync.Once

	// done is closed once Run has returned and every client has been closed.
	done chan struct{}

	metrics *Metrics
	logger  zerolog.Logger
}

// NewHub creates a Hub over store and registry. metrics may be nil.
func NewHub(store *Store, registry *Registry, metrics *Metrics) *Hub {
	return &Hub{
		store:      store,
		registry:   registry,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent, inboundQueueSize),
		sweeps:     make(chan sweepRequest),
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
		metrics:    metrics,
		logger:     logx.Component("Hub"),
	}
}

// Store returns the record store. Reads are safe from any goroutine.
func (h *Hub) Store() *Store {
	return h.store
}

// Run is the event loop. It returns after Stop.
func (h *Hub) Run() {
	defer close(h.done)
	defer h.closeAll()

	h.logger.Info().Int("records", h.store.Len()).Msg("Hub event loop started.")

	for {
		select {
		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case ev := <-h.inbound:
			h.handleInbound(ev.client, ev.data)

		case req := <-h.sweeps:
			req.reply <- h.handleSweep(req.cutoff)

		case <-h.stopChan:
			h.logger.Info().Msg("Hub stop requested.")
			return
		}
	}
}

// Stop makes the hub refuse new events and ends the Run loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
}

// Done is closed once the Run loop has exited and all clients are closed.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Register hands a connected client to the loop.
func (h *Hub) Register(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.stopChan:
		return ErrHubStopped
	}
}

// Unregister tells the loop that the client's connection is gone.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopChan:
	}
}

// Submit queues a raw inbound frame from c.
func (h *Hub) Submit(c *Client, data []byte) error {
	select {
	case h.inbound <- inboundEvent{client: c, data: data}:
		return nil
	case <-h.stopChan:
		return ErrHubStopped
	}
}

// Sweep removes records whose LastSeen is before cutoff, serialized with all other
// mutations, and returns the removed identities.
func (h *Hub) Sweep(cutoff time.Time) ([]string, error) {
	req := sweepRequest{cutoff: cutoff, reply: make(chan []string, 1)}

	select {
	case h.sweeps <- req:
	case <-h.stopChan:
		return nil, ErrHubStopped
	}

	select {
	case removed := <-req.reply:
		return removed, nil
	case <-h.done:
		return nil, ErrHubStopped
	}
}

func (h *Hub) handleRegister(c *Client) {
	h.clients[c.id] = c
	h.registry.Add(c.id)
	h.observe()

	c.logger.Info().Int("total_sessions", len(h.clients)).Msg("Session connected.")

	if h.store.Len() == 0 {
		return
	}

	msg, err := encode(EventNewUser, user.FeatureCollection(h.store.All()))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build initial sync.")
		return
	}
	h.sendTo(c, EventNewUser, msg)
}

func (h *Hub) handleUnregister(c *Client) {
	current, ok := h.clients[c.id]
	if !ok || current != c {
		c.logger.Debug().Msg("Ignoring unregister for unknown or stale session.")
		return
	}

	delete(h.clients, c.id)
	c.closeSend()

	identity, held := h.registry.Unbind(c.id)
	if held {
		h.store.Detach(identity, c.id)
		h.broadcastValue(EventUserDisconnected, identity)
	}

	h.observe()

	c.logger.Info().
		Str("username", identity).
		Int("total_sessions", len(h.clients)).
		Msg("Session disconnected.")
}

func (h *Hub) handleInbound(c *Client, data []byte) {
	if current, ok := h.clients[c.id]; !ok || current != c {
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.recordOutcome(c, EventUnknown, fmt.Errorf("%w: %v", ErrMalformedEvent, err))
		return
	}

	var err error
	switch env.Type {
	case EventNewUser:
		err = h.handleJoin(c, env.Payload)
	case EventUserUpdated:
		err = h.handleUpdate(c, env.Payload)
	case EventSendMessage:
		err = h.handleSendMessage(c, env.Payload)
	case EventDeleteChat:
		err = h.handleDeleteChat(c, env.Payload)
	case EventDeleteChatForMe:
		err = h.handleDeleteChatForMe(c, env.Payload)
	default:
		c.logger.Debug().Str("event", env.Type.String()).Msg("Unsupported event type.")
		h.recordOutcome(c, EventUnknown, fmt.Errorf("%w: unsupported event type", ErrMalformedEvent))
		return
	}

	h.recordOutcome(c, env.Type, err)
}

func (h *Hub) recordOutcome(c *Client, eventType EventType, err error) {
	switch {
	case err == nil:
		h.metrics.event(eventType, "ok")
	case errors.Is(err, ErrUnknownRecipient):
		h.metrics.event(eventType, "dropped")
		c.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Relay target offline, dropping.")
	case errors.Is(err, ErrUnbound):
		h.metrics.event(eventType, "unbound")
		c.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Dropping event from unbound session.")
	default:
		h.metrics.event(eventType, "malformed")
		c.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Dropping malformed event.")
	}
}

// handleJoin upserts the record, binds the session to it and broadcasts the record.
func (h *Hub) handleJoin(c *Client, raw json.RawMessage) error {
	var p profilePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}

	p.Username = strings.TrimSpace(p.Username)
	if p.Username == "" || len(p.Username) > MaxUsernameLength {
		return fmt.Errorf("%w: username must be 1-%d bytes", ErrMalformedEvent, MaxUsernameLength)
	}

	patch, err := p.patch(true)
	if err != nil {
		return err
	}

	superseded, released, ok := h.registry.Bind(c.id, p.Username)
	if !ok {
		return fmt.Errorf("%w: session %s is not live", ErrUnbound, c.id)
	}

	if released != "" {
		if _, detached := h.store.Detach(released, c.id); detached {
			h.broadcastValue(EventUserDisconnected, released)
		}
	}

	rec, created := h.store.UpsertAttached(p.Username, patch, c.id)
	h.observe()

	c.logger.Info().
		Str("username", rec.Username).
		Bool("created", created).
		Str("superseded_session", superseded).
		Msg("User joined.")

	h.broadcastValue(EventNewUser, rec.Feature())
	return nil
}

// handleUpdate merges a profile update into the record of the caller's bound identity.
// Any username in the payload is ignored.
func (h *Hub) handleUpdate(c *Client, raw json.RawMessage) error {
	identity, ok := h.registry.ResolveIdentity(c.id)
	if !ok {
		return ErrUnbound
	}
	if _, exists := h.store.Get(identity); !exists {
		return fmt.Errorf("%w: no record for %q, join again", ErrUnbound, identity)
	}

	var p profilePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}

	patch, err := p.patch(false)
	if err != nil {
		return err
	}

	rec, _ := h.store.Upsert(identity, patch)
	h.observe()

	h.broadcastValue(EventUserUpdated, rec.Feature())
	return nil
}

// handleSendMessage relays the payload, unchanged, to the recipient's live session.
func (h *Hub) handleSendMessage(c *Client, raw json.RawMessage) error {
	var p messagePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}

	if p.From == "" || p.To == "" {
		return fmt.Errorf("%w: from and to are required", ErrMalformedEvent)
	}
	if len(p.Message) == 0 || string(p.Message) == "null" {
		return fmt.Errorf("%w: message is required", ErrMalformedEvent)
	}
	if err := h.checkSender(c, p.From); err != nil {
		return err
	}

	target, ok := h.resolveClient(p.To)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, p.To)
	}

	msg, err := json.Marshal(Envelope{Type: EventNewMessage, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal relay: %w", err)
	}

	h.sendTo(target, EventNewMessage, msg)
	return nil
}

// handleDeleteChat notifies both parties that their conversation was removed.
// Either party may be offline; no state changes.
func (h *Hub) handleDeleteChat(c *Client, raw json.RawMessage) error {
	var p chatPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}

	if p.From == "" || p.With == "" {
		return fmt.Errorf("%w: from and with are required", ErrMalformedEvent)
	}
	if err := h.checkSender(c, p.From); err != nil {
		return err
	}

	h.notifyChatDeleted(p.From, p.With)
	h.notifyChatDeleted(p.With, p.From)
	return nil
}

func (h *Hub) notifyChatDeleted(recipient, other string) {
	target, ok := h.resolveClient(recipient)
	if !ok {
		return
	}

	msg, err := encode(EventChatDeleted, ChatDeleted{With: other})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build chat_deleted message.")
		return
	}
	h.sendTo(target, EventChatDeleted, msg)
}

// handleDeleteChatForMe only validates the frame: local deletion is a client concern.
func (h *Hub) handleDeleteChatForMe(c *Client, raw json.RawMessage) error {
	var p chatPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}

	c.logger.Debug().Str("with", p.With).Msg("delete_chat_for_me received; nothing to dispatch.")
	return nil
}

// checkSender requires the sender to be bound to the payload's from identity.
func (h *Hub) checkSender(c *Client, from string) error {
	identity, bound := h.registry.ResolveIdentity(c.id)
	if !bound {
		return fmt.Errorf("%w: relay requires a joined session", ErrUnbound)
	}
	if identity != from {
		return fmt.Errorf("%w: from %q does not match bound identity %q", ErrMalformedEvent, from, identity)
	}
	return nil
}

func (h *Hub) resolveClient(identity string) (*Client, bool) {
	sessionID, ok := h.registry.Resolve(identity)
	if !ok {
		return nil, false
	}
	target, ok := h.clients[sessionID]
	return target, ok
}

func (h *Hub) handleSweep(cutoff time.Time) []string {
	var removed []string
	for _, identity := range h.store.Inactive(cutoff) {
		if !h.store.Remove(identity) {
			continue
		}
		removed = append(removed, identity)

		// A session still holding the identity must join again before it can update.
		if sessionID, held := h.registry.Forget(identity); held {
			if c, ok := h.clients[sessionID]; ok {
				c.logger.Info().Str("username", identity).Msg("Bound record expired, session is anonymous again.")
			}
		}
	}
	h.metrics.sweep(len(removed))
	h.observe()

	h.logger.Info().
		Time("cutoff", cutoff).
		Int("removed", len(removed)).
		Int("remaining", h.store.Len()).
		Msg("Retention sweep finished.")

	return removed
}

// broadcastValue encodes payload once and queues it for every live session.
func (h *Hub) broadcastValue(eventType EventType, payload any) {
	msg, err := encode(eventType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(eventType)).Msg("Failed to build broadcast.")
		return
	}

	var slow []*Client
	for _, c := range h.clients {
		if c.enqueue(msg) {
			h.metrics.delivery(eventType, "queued")
			continue
		}
		h.metrics.delivery(eventType, "dropped")
		slow = append(slow, c)
	}

	for _, c := range slow {
		h.evict(c)
	}
}

// sendTo queues msg for a single session.
func (h *Hub) sendTo(c *Client, eventType EventType, msg []byte) {
	if c.enqueue(msg) {
		h.metrics.delivery(eventType, "queued")
		return
	}
	h.metrics.delivery(eventType, "dropped")
	h.evict(c)
}

func (h *Hub) evict(c *Client) {
	c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send queue full, closing session.")
	h.metrics.eviction()
	h.handleUnregister(c)
}

func (h *Hub) observe() {
	h.metrics.observeState(len(h.clients), h.registry.Bound(), h.store.Len())
}

// closeAll detaches every bound record and closes every client queue.
func (h *Hub) closeAll() {
	for id, c := range h.clients {
		if identity, held := h.registry.Unbind(id); held {
			h.store.Detach(identity, id)
		}
		c.closeSend()
		delete(h.clients, id)
	}
	h.observe()

	h.logger.Info().Msg("Hub closed all sessions.")
}
