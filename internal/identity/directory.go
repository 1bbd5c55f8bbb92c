package identity

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a user cannot be located in the identity store.
	ErrNotFound = errors.New("identity: user not found")
	// ErrConflict is returned when the identity store rejects a duplicate username or email.
	ErrConflict = errors.New("identity: user already exists")
)

// Directory abstracts the external identity store. Implementations talk to the
// Keycloak admin API or keep users in memory for local development.
type Directory interface {
	ListUsers(ctx context.Context, offset, limit int) ([]User, error)
	SearchUsers(ctx context.Context, term string, offset, limit int) ([]User, error)
	GetUser(ctx context.Context, id string) (User, error)
	CreateUser(ctx context.Context, user User) (string, error)
	UpdateUser(ctx context.Context, id string, user User) error
	DeleteUser(ctx context.Context, id string) error
	CountUsers(ctx context.Context) (int, error)
	FindByUsername(ctx context.Context, username string, exact bool) ([]User, error)
	FindByEmail(ctx context.Context, email string, exact bool) ([]User, error)
	ResetCredential(ctx context.Context, id, secret string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

// CredentialTypePassword is the only credential type the directory writes.
const CredentialTypePassword = "password"

// User mirrors the identity store's user representation.
type User struct {
	ID               string       `json:"id,omitempty"`
	Username         string       `json:"username"`
	Email            string       `json:"email,omitempty"`
	FirstName        string       `json:"firstName,omitempty"`
	LastName         string       `json:"lastName,omitempty"`
	Enabled          bool         `json:"enabled"`
	EmailVerified    bool         `json:"emailVerified"`
	CreatedTimestamp *int64       `json:"createdTimestamp,omitempty"`
	Credentials      []Credential `json:"credentials,omitempty"`
}

// Credential is a secret attached to a user at creation or reset time.
type Credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// PasswordCredential builds a non-temporary password credential.
func PasswordCredential(secret string) Credential {
	return Credential{Type: CredentialTypePassword, Value: secret, Temporary: false}
}

// First returns the first user of a lookup result.
func First(users []User) (User, bool) {
	if len(users) == 0 {
		return User{}, false
	}
	return users[0], true
}
