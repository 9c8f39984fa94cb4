package client

import (
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
)

// Role mirrors the backend's role vocabulary.
type Role = string

const (
	RoleUser        Role = "user"
	RoleClientAdmin Role = "clientAdmin"
	RoleSuperAdmin  Role = "superAdmin"
)

// AccountStatus mirrors the backend's account lifecycle field.
type AccountStatus = string

const (
	AccountStatusPending  AccountStatus = "pending"
	AccountStatusActive   AccountStatus = "active"
	AccountStatusDisabled AccountStatus = "disabled"
)

// Profile is the authoritative user record served by the backend.
type Profile struct {
	ID             string        `json:"id"`
	DisplayName    string        `json:"display_name"`
	Email          string        `json:"email"`
	Phone          string        `json:"phone,omitempty"`
	Role           Role          `json:"role"`
	OrganizationID string        `json:"organization_id"`
	EmailVerified  bool          `json:"is_email_verified"`
	Status         AccountStatus `json:"status"`
}

// normalize canonicalizes fields the rest of the system compares against.
// Phone numbers are best-effort E.164; an unparsable number is kept verbatim.
func (p *Profile) normalize(region string) {
	if p == nil {
		return
	}

	p.Email = strings.TrimSpace(p.Email)
	if p.Status == "" {
		p.Status = AccountStatusActive
	}

	if p.Phone == "" {
		return
	}
	if num, err := phonenumbers.Parse(p.Phone, region); err == nil && phonenumbers.IsValidNumber(num) {
		p.Phone = phonenumbers.Format(num, phonenumbers.E164)
	}
}

// InvitationType distinguishes invitations needing explicit acceptance from
// magic ones that grant an implicit session.
type InvitationType string

const (
	InvitationDirect InvitationType = "direct"
	InvitationMagic  InvitationType = "magic"
)

// Invitation is the server-issued metadata returned by the validate endpoint.
type Invitation struct {
	Email     string         `json:"email"`
	Token     string         `json:"token"`
	Type      InvitationType `json:"type"`
	Role      Role           `json:"role,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// AcceptInvitationRequest finalizes a direct invitation once a matching
// identity has authenticated.
type AcceptInvitationRequest struct {
	Token       string `json:"token"`
	Email       string `json:"email"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AuthMethod  string `json:"authMethod"`

	// BearerToken rides along when the resolving identity came from the
	// enterprise provider.
	BearerToken string `json:"-"`
}

// MagicGrant is the result of redeeming a magic invitation: a bearer session
// plus the backend user it belongs to.
type MagicGrant struct {
	SessionToken string   `json:"sessionToken"`
	User         *Profile `json:"user"`
}

// LoginRequest is the local credential exchange payload. InviteToken, when
// present, marks the invitation redeemed server-side in the same call.
type LoginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	InviteToken string `json:"inviteToken,omitempty"`
}

// LoginResult is the local credential exchange response.
type LoginResult struct {
	Token string   `json:"token"`
	User  *Profile `json:"user"`
}

// Credential carries whatever secret the active provider can supply for
// backend calls: a bearer token or the magic-session equivalent header.
type Credential struct {
	header string
	value  string
}

// BearerCredential builds the standard Authorization header credential.
func BearerCredential(token string) Credential {
	return Credential{header: "Authorization", value: "Bearer " + token}
}

// MagicCredential builds the header credential for magic-link sessions.
func MagicCredential(token string) Credential {
	return Credential{header: "X-Session-Token", value: token}
}

// Empty reports whether the credential carries no secret.
func (c Credential) Empty() bool {
	return c.value == ""
}

func (c Credential) apply(set func(key, value string)) {
	if c.Empty() {
		return
	}
	set(c.header, c.value)
}
