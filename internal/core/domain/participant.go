package domain

type Role string

const (
	RoleRecruiter Role = "recruiter"
	RoleCandidate Role = "candidate"
	RolePanelist  Role = "panelist"
)

// Participant is one remote member of a room as seen over the relay.
// The local user is never listed among participants; it is implicit.
type Participant struct {
	SocketID        SocketID `json:"socketId"`
	UserID          UserID   `json:"userId"`
	Role            Role     `json:"role"`
	Name            string   `json:"name"`
	AudioEnabled    bool     `json:"audioEnabled"`
	VideoEnabled    bool     `json:"videoEnabled"`
	IsScreenSharing bool     `json:"isScreenSharing"`
}

// Identity is what the local user announces when joining a room.
type Identity struct {
	UserID      UserID
	Role        Role
	Name        string
	AccessToken string
}

// CanModerate reports whether the role may coerce another participant's
// media state or end the call for everyone.
func (r Role) CanModerate() bool {
	return r == RoleRecruiter
}
