package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sreejagatab/jagatab-realtime/pkg/protocol"
	"github.com/sreejagatab/jagatab-realtime/pkg/state"
)

// Outbound is one event to fan out to a room's subscribers.
type Outbound struct {
	Event   string
	Payload any
	// Droppable events use the non-blocking send path and are shed first
	// when a subscriber's outbound queue saturates. Typing/presence only.
	Droppable bool
	// Exclude suppresses delivery to one session (zero value excludes none).
	Exclude uuid.UUID
}

// Hub serializes all broadcasts for a room through a single worker goroutine,
// so every subscriber observes events in the same relative order they were
// enqueued. Different rooms run fully in parallel: a saturated room slows its
// own callers only, never broadcasts to other rooms. Subscriber membership is
// owned by the registry; the hub only snapshots it at delivery time.
type Hub struct {
	registry state.Registry
	logger   *slog.Logger
	idleTTL  time.Duration

	mu      sync.Mutex
	workers map[string]*roomWorker
	closed  bool
	wg      sync.WaitGroup
}

type roomWorker struct {
	roomID  string
	mailbox chan Outbound
	// quit is closed by ReleaseRoom: exit now, discard anything queued.
	// The room was empty when it was released, and pre-release events must
	// never reach sessions that join the recreated room later.
	quit chan struct{}
	// flush is closed by Close: deliver everything queued, then exit.
	flush chan struct{}
	// done is closed when the worker goroutine has exited.
	done chan struct{}
}

const (
	mailboxDepth  = 128
	workerIdleTTL = time.Minute
)

func New(registry state.Registry, logger *slog.Logger) *Hub {
	return &Hub{
		registry: registry,
		logger:   logger.With(slog.String("component", "hub")),
		idleTTL:  workerIdleTTL,
		workers:  make(map[string]*roomWorker),
	}
}

// Broadcast enqueues an event for a room. Ordering is the enqueue order of
// this method per room; delivery to each live subscriber is at-least-once.
func (h *Hub) Broadcast(roomID string, msg Outbound) {
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return
		}
		w, ok := h.workers[roomID]
		if !ok {
			w = newRoomWorker(roomID)
			h.workers[roomID] = w
			h.wg.Add(1)
			go h.run(w)
		}
		h.mu.Unlock()

		// Enqueue outside the lock: blocking on one room's full mailbox
		// must not stall broadcasts to any other room.
		select {
		case w.mailbox <- msg:
			return
		case <-w.done:
			// The worker retired or its room was released between the
			// lookup and the enqueue; look the room up again.
		}
	}
}

func newRoomWorker(roomID string) *roomWorker {
	return &roomWorker{
		roomID:  roomID,
		mailbox: make(chan Outbound, mailboxDepth),
		quit:    make(chan struct{}),
		flush:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (h *Hub) run(w *roomWorker) {
	defer h.wg.Done()
	defer close(w.done)

	idle := time.NewTimer(h.idleTTL)
	defer idle.Stop()

	for {
		select {
		case <-w.quit:
			return
		case <-w.flush:
			for {
				select {
				case msg := <-w.mailbox:
					h.deliver(w.roomID, msg)
				default:
					return
				}
			}
		case msg := <-w.mailbox:
			h.deliver(w.roomID, msg)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(h.idleTTL)
		case <-idle.C:
			if h.retire(w) {
				return
			}
			idle.Reset(h.idleTTL)
		}
	}
}

// retire removes a worker whose room has seen no traffic for the idle TTL.
// Rooms that are broadcast to without ever being joined would otherwise hold
// their goroutine until shutdown. Returns false when the room is live again.
func (h *Hub) retire(w *roomWorker) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false // Close owns shutdown; the flush signal handles it
	}
	if len(h.registry.Subscribers(w.roomID)) > 0 {
		return false
	}
	if len(w.mailbox) > 0 {
		return false
	}
	delete(h.workers, w.roomID)
	h.logger.Debug("retired idle room worker", "roomID", w.roomID)
	return true
}

func (h *Hub) deliver(roomID string, msg Outbound) {
	env, err := protocol.NewServerMessage(msg.Event, msg.Payload)
	if err != nil {
		h.logger.Error("failed to encode broadcast payload", "roomID", roomID, "event", msg.Event, slog.Any("error", err))
		return
	}
	frame, err := env.Encode()
	if err != nil {
		h.logger.Error("failed to encode broadcast envelope", "roomID", roomID, slog.Any("error", err))
		return
	}

	for _, sess := range h.registry.Subscribers(roomID) {
		if msg.Exclude != uuid.Nil && sess.ID == msg.Exclude {
			continue
		}
		if msg.Droppable {
			if !sess.Transport.TrySend(frame) {
				h.logger.Debug("dropped presence event for saturated session",
					"roomID", roomID, "sessID", sess.ID.String(), "event", msg.Event)
			}
			continue
		}
		// Reliable events are never dropped; a broken socket is logged and
		// the session catches up on its next hydration.
		sess.Transport.Send(frame)
	}
}

// ReleaseRoom stops the worker for a room that has emptied, discarding any
// events still queued. It returns only after the worker has exited, so a
// room recreated afterwards starts from a clean mailbox. The registry GCs
// the room itself; this only reclaims the goroutine. Safe to call for rooms
// without a worker.
func (h *Hub) ReleaseRoom(roomID string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	w, ok := h.workers[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if len(h.registry.Subscribers(roomID)) > 0 {
		h.mu.Unlock()
		return // re-joined between empty check and release
	}
	delete(h.workers, roomID)
	close(w.quit)
	h.mu.Unlock()

	// The wait must happen outside the lock: the worker may be inside
	// retire, which takes it.
	<-w.done
}

// Close drains every room worker. No Broadcast may be issued afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, w := range h.workers {
		close(w.flush)
	}
	h.workers = make(map[string]*roomWorker)
	h.mu.Unlock()

	h.wg.Wait()
}
