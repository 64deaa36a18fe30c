package models

import (
	"time"

	"github.com/stellarion/api/internal/rbac"
)

// UserProfile is the per-user record owned by this service. The identity provider
// only owns the bare credential.
type UserProfile struct {
	ID          string       `json:"id" db:"id"` // provider-issued identifier
	Email       string       `json:"email" db:"email"`
	DisplayName string       `json:"displayName" db:"display_name"`
	Role        rbac.Role    `json:"role" db:"role"`
	CreatedAt   time.Time    `json:"createdAt" db:"created_at"`
	LastLoginAt time.Time    `json:"lastLoginAt" db:"last_login_at"`
	IsActive    bool         `json:"isActive" db:"is_active"`
	ProfileData *ProfileData `json:"profileData,omitempty" db:"profile_data"`
}

// ProfileData holds optional free-form display data.
type ProfileData struct {
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	Avatar    string   `json:"avatar,omitempty"`
	Bio       string   `json:"bio,omitempty"`
	Skills    []string `json:"skills,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// ProfileDataPatch is a partial update. Nil fields are left untouched.
type ProfileDataPatch struct {
	FirstName *string   `json:"firstName,omitempty" validate:"omitempty,max=100"`
	LastName  *string   `json:"lastName,omitempty" validate:"omitempty,max=100"`
	Avatar    *string   `json:"avatar,omitempty" validate:"omitempty,url"`
	Bio       *string   `json:"bio,omitempty" validate:"omitempty,max=2000"`
	Skills    *[]string `json:"skills,omitempty" validate:"omitempty,max=50,dive,max=100"`
	Interests *[]string `json:"interests,omitempty" validate:"omitempty,max=50,dive,max=100"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ProfileDataPatch) IsEmpty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Avatar == nil &&
		p.Bio == nil && p.Skills == nil && p.Interests == nil
}

// TableName returns the table name for the UserProfile model
func (UserProfile) TableName() string {
	return "user_profiles"
}

// NewUserProfile creates a fresh active profile stamped with now.
func NewUserProfile(id, email, displayName string, role rbac.Role, now time.Time) *UserProfile {
	return &UserProfile{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
		Role:        role,
		CreatedAt:   now,
		LastLoginAt: now,
		IsActive:    true,
	}
}

// Clone returns a deep copy so snapshots never share mutable state.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	out := *p
	if p.ProfileData != nil {
		data := *p.ProfileData
		data.Skills = cloneStrings(p.ProfileData.Skills)
		data.Interests = cloneStrings(p.ProfileData.Interests)
		out.ProfileData = &data
	}
	return &out
}

// MergeProfileData applies patch as a shallow merge and returns the updated copy.
// ID and Role are never touched.
func (p *UserProfile) MergeProfileData(patch ProfileDataPatch) *UserProfile {
	out := p.Clone()
	data := ProfileData{}
	if out.ProfileData != nil {
		data = *out.ProfileData
	}
	if patch.FirstName != nil {
		data.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		data.LastName = *patch.LastName
	}
	if patch.Avatar != nil {
		data.Avatar = *patch.Avatar
	}
	if patch.Bio != nil {
		data.Bio = *patch.Bio
	}
	if patch.Skills != nil {
		data.Skills = cloneStrings(*patch.Skills)
	}
	if patch.Interests != nil {
		data.Interests = cloneStrings(*patch.Interests)
	}
	out.ProfileData = &data
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
