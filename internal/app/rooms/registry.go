// Package rooms tracks who is currently present in live lesson rooms.
// Presence is ephemeral: it lives only in process memory and is rebuilt
// from join events after a restart. Nothing here touches the database.
package rooms

import (
	"sort"
	"sync"

	"github.com/harmonyroom/harmonyroom/internal/domain/models"
)

// Registry is an in-memory map of room ID to current participants.
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]models.RoomParticipant // roomID -> participantID -> participant
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[string]models.RoomParticipant)}
}

// Join records a participant entering a room. The participant's role is
// derived from the preset they joined with, never taken from the caller.
// Re-joining with the same participant ID replaces the previous entry.
func (r *Registry) Join(roomID string, p models.RoomParticipant) models.RoomParticipant {
	p.Role = models.RoleFromPreset(p.PresetName)

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]models.RoomParticipant)
		r.rooms[roomID] = room
	}
	room[p.ID] = p
	return p
}

// Leave removes a participant from a room. Returns false if the participant
// was not present. Empty rooms are dropped from the registry.
func (r *Registry) Leave(roomID, participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := room[participantID]; !ok {
		return false
	}
	delete(room, participantID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// List returns the participants currently in a room, sorted by name for
// stable output. An unknown room yields an empty slice.
func (r *Registry) List(roomID string) []models.RoomParticipant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[roomID]
	out := make([]models.RoomParticipant, 0, len(room))
	for _, p := range room {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns one participant and whether they are present.
func (r *Registry) Get(roomID, participantID string) (models.RoomParticipant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.rooms[roomID][participantID]
	return p, ok
}

// Count returns the number of participants in a room.
func (r *Registry) Count(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}
