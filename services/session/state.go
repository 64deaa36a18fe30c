package session

import (
	"github.com/stellarion/api/internal/rbac"
	"github.com/stellarion/api/models"
)

// State is the lifecycle position of one browser context's session
type State string

const (
	// StateUnresolved means the identity provider has not reported yet
	StateUnresolved State = "unresolved"
	// StateAnonymous means nobody is signed in
	StateAnonymous State = "anonymous"
	// StateAuthenticated means a user and profile are present
	StateAuthenticated State = "authenticated"
)

// Snapshot is an immutable view of a Store at one instant
type Snapshot struct {
	State   State               `json:"state"`
	Loading bool                `json:"loading"`
	Profile *models.UserProfile `json:"profile,omitempty"`
}

// Authenticated reports whether the snapshot carries a signed-in profile
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated && s.Profile != nil
}

// Role returns the profile's role, if authenticated
func (s Snapshot) Role() (rbac.Role, bool) {
	if !s.Authenticated() {
		return "", false
	}
	return s.Profile.Role, true
}

// SignUpInput carries the fields of a registration request.
// An empty Role selects rbac.DefaultRole.
type SignUpInput struct {
	Email       string
	Password    string
	DisplayName string
	Role        rbac.Role
}
