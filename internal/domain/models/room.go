package models

// RoomParticipant is a member of a live video room.
//
// Participants are ephemeral: they exist only for the duration of a
// session and are never persisted. PresetName is the opaque label
// supplied by the video-room provider at join; Role is derived from it
// once via RoleFromPreset and used for access decisions in the room.
type RoomParticipant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PresetName string `json:"preset_name,omitempty"`
	Role       Role   `json:"role"`
}
