package cognito

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stellarion/api/identity"
	"github.com/stellarion/api/internal/rbac"
)

var (
	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")

	// ErrInvalidClaimType is returned when a claim has an unexpected type
	ErrInvalidClaimType = errors.New("invalid claim type")
)

// Claims represents the claims of a user pool ID token
type Claims struct {
	jwt.RegisteredClaims
	Email           string `json:"email"`
	EmailVerified   bool   `json:"email_verified"`
	Name            string `json:"name"`
	TokenUse        string `json:"token_use"`
	AuthTime        int64  `json:"auth_time"`
	CognitoUsername string `json:"cognito:username"`

	// Written at sign-up; the profile store stays the authority for roles once a
	// profile exists.
	Role string `json:"custom:role"`
}

// ParsedClaims represents parsed and validated claims
type ParsedClaims struct {
	Sub           uuid.UUID
	Email         string
	Name          string
	Role          rbac.Role // empty when the token carries no role
	EmailVerified bool
	Username      string
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// User converts the claims into the provider's user view
func (p *ParsedClaims) User() *identity.User {
	return &identity.User{
		ID:          p.Sub.String(),
		Email:       p.Email,
		DisplayName: p.Name,
		Role:        p.Role,
	}
}

// ExtractClaimsFromValidatedToken extracts claims from an already validated jwt.Token
func ExtractClaimsFromValidatedToken(token *jwt.Token) (*ParsedClaims, error) {
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidClaimType
	}

	return parseClaims(claims)
}

func parseClaims(claims *Claims) (*ParsedClaims, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	sub, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid sub UUID: %w", err)
	}

	if claims.Email == "" {
		return nil, fmt.Errorf("%w: email", ErrMissingClaim)
	}

	var role rbac.Role
	if claims.Role != "" {
		role, err = rbac.ParseRole(claims.Role)
		if err != nil {
			return nil, fmt.Errorf("invalid custom:role: %w", err)
		}
	}

	parsed := &ParsedClaims{
		Sub:           sub,
		Email:         claims.Email,
		Name:          claims.Name,
		Role:          role,
		EmailVerified: claims.EmailVerified,
		Username:      claims.CognitoUsername,
	}
	if claims.IssuedAt != nil {
		parsed.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		parsed.ExpiresAt = claims.ExpiresAt.Time
	}

	return parsed, nil
}
