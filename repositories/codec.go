package repositories

import (
	"encoding/json"
	"fmt"

	"github.com/stellarion/api/internal/rbac"
	"github.com/stellarion/api/models"
)

// EncodeProfile serializes a profile for the cache and mirror channels.
func EncodeProfile(profile *models.UserProfile) ([]byte, error) {
	data, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}
	return data, nil
}

// DecodeProfile parses a stored profile and rejects payloads that would put an
// unknown role or an empty id into a session.
func DecodeProfile(data []byte) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptProfile, err)
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrCorruptProfile)
	}
	role, err := rbac.ParseRole(string(profile.Role))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptProfile, err)
	}
	profile.Role = role
	return &profile, nil
}
