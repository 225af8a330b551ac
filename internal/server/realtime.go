package server

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// EventEntryChanged is the SSE event name for log mutations.
	EventEntryChanged = "entry-change"

	eventHeartbeat    = "heartbeat"
	heartbeatInterval = 25 * time.Second

	// ChangeActionInsert and friends label what happened to the entries.
	ChangeActionInsert = "insert"
	ChangeActionPatch  = "patch"
)

// ChangeMessage tells connected clients which entries changed. There is no
// per-user routing; every subscriber sees every change.
type ChangeMessage struct {
	Action    string    `json:"action"`
	EntryIDs  []int64   `json:"entry_ids,omitempty"`
	ThawID    string    `json:"thaw_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChangeDispatcher fans change messages out to SSE subscribers. Slow
// subscribers drop messages instead of blocking writers.
type ChangeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]chan ChangeMessage
	nextID      int64
	bufferSize  int
}

func NewChangeDispatcher() *ChangeDispatcher {
	return &ChangeDispatcher{
		subscribers: make(map[int64]chan ChangeMessage),
		bufferSize:  16,
	}
}

// Subscribe registers a listener until ctx is cancelled or the returned
// cleanup runs.
func (d *ChangeDispatcher) Subscribe(ctx context.Context) (<-chan ChangeMessage, func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	stream := make(chan ChangeMessage, d.bufferSize)
	d.subscribers[id] = stream
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		delete(d.subscribers, id)
		d.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish delivers the message to every subscriber without blocking.
func (d *ChangeDispatcher) Publish(message ChangeMessage) {
	if message.Action == "" {
		return
	}
	d.mu.RLock()
	streams := make([]chan ChangeMessage, 0, len(d.subscribers))
	for _, stream := range d.subscribers {
		streams = append(streams, stream)
	}
	d.mu.RUnlock()

	for _, stream := range streams {
		select {
		case stream <- message:
		default:
		}
	}
}

func (h *apiHandler) publishChange(action, thawID string, entryIDs ...int64) {
	h.dispatcher.Publish(ChangeMessage{
		Action:    action,
		EntryIDs:  entryIDs,
		ThawID:    thawID,
		Timestamp: time.Now().UTC(),
	})
}

func (h *apiHandler) handleEventStream(c *gin.Context) {
	stream, cancel := h.dispatcher.Subscribe(c.Request.Context())
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	// Push headers out so clients see the handshake before the first event.
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case message, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(EventEntryChanged, message)
			return true
		case <-heartbeat.C:
			c.SSEvent(eventHeartbeat, gin.H{"timestamp": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
