package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errMissingUsername = errors.New("identity: username is required")

var _ Directory = (*MemoryDirectory)(nil)

// MemoryDirectory keeps identity users in process for local development and tests.
// Listing is ordered by username, matching the identity store's default ordering.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
	clock func() time.Time
}

// MemoryOption customises a MemoryDirectory.
type MemoryOption func(*MemoryDirectory)

// WithClock overrides the clock used to stamp created users.
func WithClock(clock func() time.Time) MemoryOption {
	return func(d *MemoryDirectory) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// NewMemoryDirectory constructs an empty directory.
func NewMemoryDirectory(opts ...MemoryOption) *MemoryDirectory {
	directory := &MemoryDirectory{
		users: make(map[string]User),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(directory)
	}
	return directory
}

// LoadMemoryDirectory parses a JSON fixture of the form {"users": [...]}.
func LoadMemoryDirectory(data []byte, opts ...MemoryOption) (*MemoryDirectory, error) {
	type fixture struct {
		Users []User `json:"users"`
	}
	var parsed fixture
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("identity: parse fixture: %w", err)
	}
	directory := NewMemoryDirectory(opts...)
	if err := directory.Seed(parsed.Users...); err != nil {
		return nil, err
	}
	return directory, nil
}

// LoadMemoryDirectoryFile reads a fixture from disk.
func LoadMemoryDirectoryFile(path string, opts ...MemoryOption) (*MemoryDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read fixture: %w", err)
	}
	return LoadMemoryDirectory(data, opts...)
}

// Seed inserts users as-is, keeping their identifiers when present.
func (d *MemoryDirectory) Seed(users ...User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, user := range users {
		if _, err := d.insertLocked(user); err != nil {
			return err
		}
	}
	return nil
}

func (d *MemoryDirectory) ListUsers(_ context.Context, offset, limit int) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return paginate(d.sortedLocked(func(User) bool { return true }), offset, limit), nil
}

func (d *MemoryDirectory) SearchUsers(_ context.Context, term string, offset, limit int) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(term))
	if query == "*" {
		query = ""
	}
	matches := d.sortedLocked(func(user User) bool {
		return query == "" || matchesTerm(user, query)
	})
	return paginate(matches, offset, limit), nil
}

func (d *MemoryDirectory) GetUser(_ context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return publicCopy(user), nil
}

func (d *MemoryDirectory) CreateUser(_ context.Context, user User) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	user.ID = ""
	user.CreatedTimestamp = nil
	return d.insertLocked(user)
}

func (d *MemoryDirectory) UpdateUser(_ context.Context, id string, user User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.users[id]
	if !ok {
		return ErrNotFound
	}
	if err := d.checkUniqueLocked(id, user.Username, user.Email); err != nil {
		return err
	}
	user.ID = existing.ID
	user.CreatedTimestamp = existing.CreatedTimestamp
	user.Credentials = existing.Credentials
	d.users[id] = user
	return nil
}

func (d *MemoryDirectory) DeleteUser(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[id]; !ok {
		return ErrNotFound
	}
	delete(d.users, id)
	return nil
}

func (d *MemoryDirectory) CountUsers(_ context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users), nil
}

func (d *MemoryDirectory) FindByUsername(_ context.Context, username string, exact bool) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sortedLocked(func(user User) bool {
		return matchesAttribute(user.Username, username, exact)
	}), nil
}

func (d *MemoryDirectory) FindByEmail(_ context.Context, email string, exact bool) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sortedLocked(func(user User) bool {
		return matchesAttribute(user.Email, email, exact)
	}), nil
}

func (d *MemoryDirectory) ResetCredential(_ context.Context, id, secret string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[id]
	if !ok {
		return ErrNotFound
	}
	user.Credentials = []Credential{PasswordCredential(secret)}
	d.users[id] = user
	return nil
}

func (d *MemoryDirectory) SetEnabled(_ context.Context, id string, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[id]
	if !ok {
		return ErrNotFound
	}
	user.Enabled = enabled
	d.users[id] = user
	return nil
}

// CredentialOf exposes the stored credential for assertions in tests.
func (d *MemoryDirectory) CredentialOf(id string) (Credential, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[id]
	if !ok || len(user.Credentials) == 0 {
		return Credential{}, false
	}
	return user.Credentials[0], true
}

func (d *MemoryDirectory) insertLocked(user User) (string, error) {
	if strings.TrimSpace(user.Username) == "" {
		return "", errMissingUsername
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if _, exists := d.users[user.ID]; exists {
		return "", ErrConflict
	}
	if err := d.checkUniqueLocked(user.ID, user.Username, user.Email); err != nil {
		return "", err
	}
	if user.CreatedTimestamp == nil {
		created := d.clock().UnixMilli()
		user.CreatedTimestamp = &created
	}
	d.users[user.ID] = user
	return user.ID, nil
}

func (d *MemoryDirectory) checkUniqueLocked(id, username, email string) error {
	for _, other := range d.users {
		if other.ID == id {
			continue
		}
		if strings.EqualFold(other.Username, username) {
			return ErrConflict
		}
		if email != "" && strings.EqualFold(other.Email, email) {
			return ErrConflict
		}
	}
	return nil
}

func (d *MemoryDirectory) sortedLocked(keep func(User) bool) []User {
	result := make([]User, 0, len(d.users))
	for _, user := range d.users {
		if keep(user) {
			result = append(result, publicCopy(user))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return strings.ToLower(result[i].Username) < strings.ToLower(result[j].Username)
	})
	return result
}

func paginate(users []User, offset, limit int) []User {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(users) {
		return []User{}
	}
	end := len(users)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return users[offset:end]
}

func matchesTerm(user User, query string) bool {
	for _, attribute := range []string{user.Username, user.Email, user.FirstName, user.LastName} {
		if strings.Contains(strings.ToLower(attribute), query) {
			return true
		}
	}
	return false
}

func matchesAttribute(attribute, query string, exact bool) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return false
	}
	if exact {
		return strings.EqualFold(attribute, query)
	}
	return strings.Contains(strings.ToLower(attribute), strings.ToLower(query))
}

// publicCopy strips credentials; the identity store never returns them.
func publicCopy(user User) User {
	user.Credentials = nil
	if user.CreatedTimestamp != nil {
		created := *user.CreatedTimestamp
		user.CreatedTimestamp = &created
	}
	return user
}
