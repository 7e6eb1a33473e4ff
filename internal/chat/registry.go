package chat

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handle represents one connected peer from the server's point of view. The
// session writer is the only reader of Messages; the Hub only ever sends.
type Handle struct {
	id      uuid.UUID
	name    string
	addr    string
	seq     uint64
	send    chan Message
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int32
}

// NewHandle creates a handle with an outbound queue of the given capacity.
func NewHandle(name, addr string, buffer int) *Handle {
	if buffer < 1 {
		buffer = 1
	}
	return &Handle{
		id:   uuid.New(),
		name: name,
		addr: addr,
		send: make(chan Message, buffer),
		done: make(chan struct{}),
	}
}

// ID returns the handle's unique connection identifier.
func (h *Handle) ID() uuid.UUID { return h.id }

// Name returns the display name given during the handshake.
func (h *Handle) Name() string { return h.name }

// Addr returns the remote address of the peer.
func (h *Handle) Addr() string { return h.addr }

// Messages returns the outbound queue drained by the session writer.
func (h *Handle) Messages() <-chan Message { return h.send }

// Done is closed once the handle has been unregistered.
func (h *Handle) Done() <-chan struct{} { return h.done }

// deliver attempts a non-blocking send of m.
func (h *Handle) deliver(m Message) error {
	select {
	case <-h.done:
		return ErrChannelClosed
	default:
	}

	select {
	case h.send <- m:
		h.dropped.Store(0)
		return nil
	default:
		return ErrSendBufferFull
	}
}

// close marks the handle as gone. The outbound channel itself is never
// closed so a concurrent deliver cannot panic.
func (h *Handle) close() {
	h.once.Do(func() { close(h.done) })
}

// Registry maps connection identifiers to handles.
//
// Registry is not safe for concurrent use; the Hub serialises access to it.
type Registry struct {
	handles map[uuid.UUID]*Handle
	nextSeq uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[uuid.UUID]*Handle)}
}

// Register adds h and returns its id.
func (r *Registry) Register(h *Handle) uuid.UUID {
	r.nextSeq++
	h.seq = r.nextSeq
	r.handles[h.id] = h
	return h.id
}

// Unregister removes the handle with the given id. Removing an absent id is
// not an error; ok reports whether anything was removed.
func (r *Registry) Unregister(id uuid.UUID) (h *Handle, ok bool) {
	h, ok = r.handles[id]
	if ok {
		delete(r.handles, id)
	}
	return h, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id uuid.UUID) bool {
	_, ok := r.handles[id]
	return ok
}

// Snapshot returns the current handles in join order. The slice is a copy and
// is unaffected by later registrations or removals.
func (r *Registry) Snapshot() []*Handle {
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	return len(r.handles)
}
