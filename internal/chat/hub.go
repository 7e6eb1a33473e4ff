package chat

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Defaults applied by NewHub when a HubConfig field is not positive.
const (
	DefaultSendBuffer      = 256
	DefaultMaxDroppedSends = 3
)

// HubConfig sizes the hub's buffers.
type HubConfig struct {
	// HistoryCapacity is the number of messages replayed to newcomers.
	HistoryCapacity int
	// SendBuffer is the capacity of every handle's outbound queue. It is
	// raised to HistoryCapacity when smaller.
	SendBuffer int
	// MaxDroppedSends is the number of consecutive failed deliveries after
	// which a slow recipient is disconnected.
	MaxDroppedSends int
}

// Hub is the broadcast engine. A single mutex guards the registry and the
// history so that appending a message and snapshotting its recipients are
// atomic with respect to a newcomer registering and taking its replay.
// Deliveries happen outside the lock and never block.
type Hub struct {
	mu         sync.Mutex
	registry   *Registry
	history    *History
	closed     bool
	sendBuffer int
	maxDropped int32
	log        zerolog.Logger
}

// NewHub creates a hub ready to accept joins.
func NewHub(cfg HubConfig, logger zerolog.Logger) *Hub {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.SendBuffer < cfg.HistoryCapacity {
		cfg.SendBuffer = cfg.HistoryCapacity
	}
	if cfg.MaxDroppedSends <= 0 {
		cfg.MaxDroppedSends = DefaultMaxDroppedSends
	}

	return &Hub{
		registry:   NewRegistry(),
		history:    NewHistory(cfg.HistoryCapacity),
		sendBuffer: cfg.SendBuffer,
		maxDropped: int32(cfg.MaxDroppedSends),
		log:        logger.With().Str("component", "hub").Logger(),
	}
}

// Join registers a new peer and returns its handle together with the history
// it must be shown before any live message. Everyone else is told about the
// arrival.
func (h *Hub) Join(name, addr string) (*Handle, []Message, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, ErrInvalidHandshake
	}

	handle := NewHandle(name, addr, h.sendBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, nil, ErrShutdown
	}
	h.registry.Register(handle)
	replay := h.history.Replay()
	clients := h.registry.Len()
	h.mu.Unlock()

	h.log.Info().
		Str("client", handle.id.String()).
		Str("name", name).
		Str("addr", addr).
		Int("clients", clients).
		Int("replay", len(replay)).
		Msg("client registered")

	h.Notify(NewSystemMessage(name, "has landed"), handle.id)
	return handle, replay, nil
}

// Leave unregisters the handle with the given id and closes its Done
// channel. Leaving twice, or leaving an unknown id, is a no-op.
func (h *Hub) Leave(id uuid.UUID) {
	h.mu.Lock()
	handle, ok := h.registry.Unregister(id)
	clients := h.registry.Len()
	h.mu.Unlock()

	if !ok {
		return
	}
	handle.close()

	h.log.Info().
		Str("client", id.String()).
		Str("name", handle.name).
		Int("clients", clients).
		Msg("client unregistered")

	h.Notify(NewSystemMessage(handle.name, "has blasted off"), id)
}

// Publish appends m to the history and delivers it to every registered handle
// except origin. It never blocks on a recipient. A non-nil origin that is no
// longer registered is discarded, so an evicted peer cannot keep talking.
func (h *Hub) Publish(m Message, origin uuid.UUID) int {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.log.Debug().Str("from", m.Username).Msg("hub closed; message discarded")
		return 0
	}
	if origin != uuid.Nil && !h.registry.Has(origin) {
		h.mu.Unlock()
		h.log.Debug().Str("client", origin.String()).Msg("origin not registered; message discarded")
		return 0
	}
	h.history.Append(m)
	recipients := h.registry.Snapshot()
	h.mu.Unlock()

	return h.fanOut(m, recipients, origin)
}

// Notify delivers m like Publish but does not record it in the history. It is
// used for system notices.
func (h *Hub) Notify(m Message, origin uuid.UUID) int {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0
	}
	recipients := h.registry.Snapshot()
	h.mu.Unlock()

	return h.fanOut(m, recipients, origin)
}

// Close stops the hub: later joins fail with ErrShutdown, every handle is
// sent farewell and then unregistered. It returns the number of handles that
// were connected.
func (h *Hub) Close(farewell Message) int {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0
	}
	h.closed = true
	handles := h.registry.Snapshot()
	for _, c := range handles {
		h.registry.Unregister(c.id)
	}
	h.mu.Unlock()

	for _, c := range handles {
		if err := c.deliver(farewell); err != nil {
			h.log.Warn().Err(err).Str("client", c.id.String()).Msg("farewell not queued")
		}
		c.close()
	}

	h.log.Info().Int("clients", len(handles)).Msg("hub closed")
	return len(handles)
}

// Clients returns the number of registered handles.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Len()
}

// History returns the messages a newcomer would be replayed right now.
func (h *Hub) History() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.history.Replay()
}

// fanOut delivers m to recipients other than origin and returns how many
// accepted it. Slow recipients are evicted once they exceed the drop limit.
func (h *Hub) fanOut(m Message, recipients []*Handle, origin uuid.UUID) int {
	delivered := 0
	var clientsToRemove []*Handle

	for _, c := range recipients {
		if c.id == origin {
			continue
		}
		err := c.deliver(m)
		if err == nil {
			delivered++
			continue
		}
		if h.recordFailure(c, err) {
			clientsToRemove = append(clientsToRemove, c)
		}
	}

	h.removeFailedClients(clientsToRemove)
	return delivered
}

// recordFailure logs a failed delivery and reports whether c should be
// disconnected.
func (h *Hub) recordFailure(c *Handle, err error) bool {
	if errors.Is(err, ErrChannelClosed) {
		h.log.Debug().Str("client", c.id.String()).Msg("recipient left during broadcast")
		return false
	}

	dropped := c.dropped.Add(1)
	h.log.Warn().
		Err(err).
		Str("client", c.id.String()).
		Str("name", c.name).
		Int32("dropped", dropped).
		Msg("message dropped for slow client")
	return dropped >= h.maxDropped
}

// removeFailedClients disconnects recipients that kept failing deliveries.
func (h *Hub) removeFailedClients(clientsToRemove []*Handle) {
	for _, c := range clientsToRemove {
		h.log.Warn().
			Str("client", c.id.String()).
			Str("addr", c.addr).
			Msg("client removed due to full send buffer")
		h.Leave(c.id)
	}
}
