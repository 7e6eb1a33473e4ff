package chat

// DefaultHistoryCapacity is the number of messages replayed to newcomers.
const DefaultHistoryCapacity = 20

// History is a fixed-capacity ring of recent messages. Appending to a full
// ring evicts the oldest entry.
//
// History is not safe for concurrent use; the Hub serialises access to it.
type History struct {
	buf   []Message
	start int
	size  int
}

// NewHistory creates an empty ring holding at most capacity messages.
// A capacity below one is treated as one.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]Message, capacity)}
}

// Append stores m, evicting the oldest message when the ring is full.
func (h *History) Append(m Message) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = m
		h.size++
		return
	}
	h.buf[h.start] = m
	h.start = (h.start + 1) % len(h.buf)
}

// Replay returns a copy of the stored messages, oldest first.
func (h *History) Replay() []Message {
	out := make([]Message, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of stored messages.
func (h *History) Len() int {
	return h.size
}

// Cap returns the ring capacity.
func (h *History) Cap() int {
	return len(h.buf)
}
