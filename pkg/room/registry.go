// Package room keeps the live membership of chat rooms and fans events out to it.
//
// Each room has its own mutex: join, leave and broadcast on one room are
// serialised, so every member observes that room's broadcasts in the same
// order. The registry lock only guards the key to room map.
package room

import (
	"sync"

	"github.com/google/uuid"

	"roomchat/pkg/logging"
	"roomchat/pkg/metrics"
)

// TypeChatMessage is the event type carried by chat broadcasts.
const TypeChatMessage = "chat_message"

// Event is what a room delivers to its members.
type Event struct {
	Type string
	Body string
	Name string
}

// Member is one receiver in a room.
type Member interface {
	// Deliver enqueues ev without blocking. false means the member cannot take it.
	Deliver(ev Event) bool
	// Evict tells a member it was dropped from its room and should shut down.
	Evict()
}

// Room is one live broadcast group.
type Room struct {
	key     string
	id      string
	mu      sync.Mutex
	members map[Member]struct{}
	closed  bool // set once the last member left; a closed room is never reused
}

func (r *Room) Key() string { return r.key }

// ID identifies this instance. A room recreated under the same key gets a new ID.
func (r *Room) ID() string { return r.id }

// Len is the current member count.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Registry maps room keys to rooms.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// Join adds m to the room named key, creating the room if needed.
func (g *Registry) Join(key string, m Member) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r := g.rooms[key]; r != nil {
		r.mu.Lock()
		if !r.closed {
			r.members[m] = struct{}{}
			r.mu.Unlock()
			return r
		}
		r.mu.Unlock()
	}

	r := &Room{key: key, id: uuid.NewString(), members: map[Member]struct{}{m: {}}}
	g.rooms[key] = r
	metrics.RoomsActive.Inc()
	logging.Debug().Str("room", key).Str("room_id", r.id).Msg("[room] created")
	return r
}

// Leave removes m from the room. Only the call that actually removed the
// member returns true; repeated or concurrent calls are no-ops.
func (g *Registry) Leave(key string, m Member) bool {
	r := g.lockLive(key)
	if r == nil {
		return false
	}

	if _, ok := r.members[m]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.members, m)
	empty := r.closeIfEmptyNoLock()
	r.mu.Unlock()

	if empty {
		g.forget(r)
	}
	return true
}

// Broadcast delivers ev to every member of the room, sender included, and
// returns how many members accepted it. Members that refuse delivery are
// removed and evicted.
func (g *Registry) Broadcast(key string, ev Event) int {
	r := g.lockLive(key)
	if r == nil {
		return 0
	}

	var evicted []Member
	delivered := 0
	for m := range r.members {
		if m.Deliver(ev) {
			delivered++
			continue
		}
		delete(r.members, m)
		evicted = append(evicted, m)
	}
	empty := r.closeIfEmptyNoLock()
	r.mu.Unlock()

	if empty {
		g.forget(r)
	}
	for _, m := range evicted {
		m.Evict()
	}

	metrics.EventsDelivered.Add(float64(delivered))
	if len(evicted) > 0 {
		metrics.DeliveriesDropped.Add(float64(len(evicted)))
		logging.Warn().Str("room", key).Int("evicted", len(evicted)).Msg("[room] dropped members that could not keep up")
	}
	return delivered
}

// Room returns the live room for key, or nil.
func (g *Registry) Room(key string) *Room {
	r := g.lockLive(key)
	if r != nil {
		r.mu.Unlock()
	}
	return r
}

// Members returns a snapshot of the room's members.
func (g *Registry) Members(key string) []Member {
	r := g.lookup(key)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Member, 0, len(r.members))
	for m := range r.members {
		out = append(out, m)
	}
	return out
}

// Len is the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

func (g *Registry) lookup(key string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[key]
}

// lockLive returns the open room for key with its mutex held, or nil.
func (g *Registry) lockLive(key string) *Room {
	for {
		r := g.lookup(key)
		if r == nil {
			return nil
		}
		r.mu.Lock()
		if !r.closed {
			return r
		}
		r.mu.Unlock()
		// closed but not yet forgotten: nothing newer exists
		if g.lookup(key) == r {
			return nil
		}
	}
}

// forget drops r from the map unless the key already points at a newer room.
func (g *Registry) forget(r *Room) {
	g.mu.Lock()
	if g.rooms[r.key] == r {
		delete(g.rooms, r.key)
		logging.Debug().Str("room", r.key).Str("room_id", r.id).Msg("[room] destroyed")
	}
	g.mu.Unlock()
	metrics.RoomsActive.Dec()
}

// caller must hold r.mu
func (r *Room) closeIfEmptyNoLock() bool {
	if len(r.members) > 0 || r.closed {
		return false
	}
	r.closed = true
	return true
}
