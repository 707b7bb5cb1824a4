package authstate

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the profile payload the backend reports for the current session.
// It is never persisted as-is; the state machine caches it as a fact with a
// short TTL.
type User struct {
	ID        uuid.UUID `json:"id,omitempty"`
	Email     string    `json:"email,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Role      Role      `json:"role,omitempty"`
	IsActive  bool      `json:"is_active,omitempty"`
}

// IsAdmin reports whether this user may access admin-gated routes.
func (u *User) IsAdmin() bool {
	if u == nil {
		return false
	}
	return u.Role.IsAdmin()
}

// FullName joins the optional name fields for display.
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// StoredCredential is the durable token slot. At most one live credential
// exists at a time; replacing the token replaces the row.
type StoredCredential struct {
	bun.BaseModel `bun:"table:credentials,alias:cred"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Token         string     `bun:"token,notnull" json:"token,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// SessionFact is a session-scoped key/value row. The value is JSON and the
// expiry is absolute unix milliseconds; zero means the fact never expires.
type SessionFact struct {
	bun.BaseModel `bun:"table:session_facts,alias:fact"`
	Key           string          `bun:"key,pk" json:"key"`
	Value         json.RawMessage `bun:"value,notnull" json:"value"`
	ExpiresAt     int64           `bun:"expires_at" json:"expires_at,omitempty"`
	UpdatedAt     *time.Time      `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Expired reports whether the fact is past its expiry at the given time.
func (f *SessionFact) Expired(now time.Time) bool {
	if f == nil {
		return true
	}
	return f.ExpiresAt > 0 && now.UnixMilli() > f.ExpiresAt
}
