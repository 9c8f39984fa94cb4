package tokenstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// GrantRecord is the persisted form of a provider grant. Token material is
// sealed before it touches the row; only the lookup columns are plaintext.
type GrantRecord struct {
	bun.BaseModel `bun:"table:provider_grants,alias:pgr"`

	ID        uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Provider  string     `bun:"provider,notnull,unique" json:"provider,omitempty"`
	Subject   string     `bun:"subject" json:"subject,omitempty"`
	Email     string     `bun:"email" json:"email,omitempty"`
	Sealed    []byte     `bun:"sealed,notnull" json:"-"`
	ExpiresAt *time.Time `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// sealedPayload is the JSON that gets encrypted into GrantRecord.Sealed.
type sealedPayload struct {
	AccessToken  string `json:"at"`
	RefreshToken string `json:"rt,omitempty"`
	ExpiresAt    int64  `json:"exp,omitempty"`
}
