package accounts

import (
	"strings"
	"time"

	"github.com/14vimal2/polarix/internal/identity"
	"gorm.io/gorm"
)

// ExternallyManagedPassword marks local records whose credential lives only in
// the identity store.
const ExternallyManagedPassword = "EXTERNALLY_MANAGED"

const dateOfBirthLayout = "2006-01-02"

// Account is the locally owned half of a user account.
type Account struct {
	ID             string     `gorm:"column:id;primaryKey;size:36"`
	ExternalID     string     `gorm:"column:external_id;size:190;uniqueIndex:idx_accounts_external_id,where:external_id <> ''"`
	Username       string     `gorm:"column:username;size:190;not null;uniqueIndex:idx_accounts_username"`
	Email          string     `gorm:"column:email;size:320;uniqueIndex:idx_accounts_email,where:email <> ''"`
	FirstName      string     `gorm:"column:first_name;size:190"`
	LastName       string     `gorm:"column:last_name;size:190"`
	HashedPassword string     `gorm:"column:hashed_password;size:255;not null"`
	DateOfBirth    *time.Time `gorm:"column:date_of_birth"`
	Enabled        bool       `gorm:"column:enabled;not null"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing local accounts.
func (Account) TableName() string {
	return "accounts"
}

// BeforeSave keeps stored timestamps in UTC. SQLite compares them as text, so
// compiled date filters only line up with a single offset.
func (a *Account) BeforeSave(*gorm.DB) error {
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if a.DateOfBirth != nil {
		born := a.DateOfBirth.UTC()
		a.DateOfBirth = &born
	}
	return nil
}

// NowUTC is the clock the local store stamps records with.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// Linked reports whether the account carries an identity-store identifier.
func (a Account) Linked() bool {
	return strings.TrimSpace(a.ExternalID) != ""
}

// MergedAccount is the externally visible view assembled from both stores.
// It is never persisted.
type MergedAccount struct {
	ID            string    `json:"id,omitempty"`
	ExternalID    string    `json:"externalId,omitempty"`
	Username      string    `json:"username"`
	Email         string    `json:"email,omitempty"`
	FirstName     string    `json:"firstName,omitempty"`
	LastName      string    `json:"lastName,omitempty"`
	DateOfBirth   string    `json:"dateOfBirth,omitempty"`
	Enabled       bool      `json:"enabled"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Page is one window of merged accounts. TotalElements comes from the identity
// store's unfiltered count and does not reflect in-process filters.
type Page struct {
	Content       []MergedAccount `json:"content"`
	Page          int             `json:"page"`
	Size          int             `json:"size"`
	TotalElements int64           `json:"totalElements"`
	TotalPages    int             `json:"totalPages"`
}

func newPage(content []MergedAccount, page, size int, total int64) Page {
	if content == nil {
		content = []MergedAccount{}
	}
	totalPages := 0
	if size > 0 {
		totalPages = int((total + int64(size) - 1) / int64(size))
	}
	return Page{Content: content, Page: page, Size: size, TotalElements: total, TotalPages: totalPages}
}

// localView renders an account from the local record alone.
func localView(account Account) MergedAccount {
	return MergedAccount{
		ID:          account.ID,
		ExternalID:  account.ExternalID,
		Username:    account.Username,
		Email:       account.Email,
		FirstName:   account.FirstName,
		LastName:    account.LastName,
		DateOfBirth: formatDate(account.DateOfBirth),
		Enabled:     account.Enabled,
		CreatedAt:   account.CreatedAt.UTC(),
	}
}

// merge combines an identity record with its local counterpart. Identity
// fields win; the local record contributes its id and date of birth.
func merge(user identity.User, local *Account) MergedAccount {
	merged := MergedAccount{
		ExternalID:    user.ID,
		Username:      user.Username,
		Email:         user.Email,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		Enabled:       user.Enabled,
		EmailVerified: user.EmailVerified,
	}
	if user.CreatedTimestamp != nil {
		merged.CreatedAt = time.UnixMilli(*user.CreatedTimestamp).UTC()
	}
	if local != nil {
		merged.ID = local.ID
		merged.DateOfBirth = formatDate(local.DateOfBirth)
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = local.CreatedAt.UTC()
		}
	}
	return merged
}

// provisionedAccount copies the identity-authoritative fields of user into a
// new local record that holds no credential of its own.
func provisionedAccount(id string, user identity.User) Account {
	return Account{
		ID:             id,
		ExternalID:     user.ID,
		Username:       user.Username,
		Email:          user.Email,
		FirstName:      user.FirstName,
		LastName:       user.LastName,
		Enabled:        user.Enabled,
		HashedPassword: ExternallyManagedPassword,
	}
}

func formatDate(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.UTC().Format(dateOfBirthLayout)
}

// ParseDateOfBirth parses a yyyy-mm-dd date into UTC midnight.
func ParseDateOfBirth(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.ParseInLocation(dateOfBirthLayout, raw, time.UTC)
	if err != nil {
		return nil, newServiceError(opParseDateOfBirth, "invalid_date", ErrInvalidInput, err)
	}
	return &parsed, nil
}
