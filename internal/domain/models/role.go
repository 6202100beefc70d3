package models

// Role is a member's effective role within a single group or live room.
// It is deliberately a closed two-valued enumeration: access decisions
// only ever distinguish teachers from students.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// IsTeacher reports whether the role grants teacher privileges.
func (r Role) IsTeacher() bool {
	return r == RoleTeacher
}

// IsValid reports whether the role is one of the known values.
func (r Role) IsValid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// PresetTeacher is the only video-room preset label that maps to the
// teacher role. The provider may emit other labels over time; unknown
// labels resolve to student so that a new preset never grants elevated
// privilege before the mapping table is updated.
const PresetTeacher = "webinar_presenter"

// RoleFromPreset maps the video-room provider's preset label to a Role.
// The empty string (participant joined without a preset) is student.
func RoleFromPreset(presetName string) Role {
	if presetName == PresetTeacher {
		return RoleTeacher
	}
	return RoleStudent
}
