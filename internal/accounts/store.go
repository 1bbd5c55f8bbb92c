package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/14vimal2/polarix/internal/filters"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the local directory the coordinator reads and writes.
type Store interface {
	FindByID(ctx context.Context, id string) (Account, error)
	FindByUsername(ctx context.Context, username string) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindAllByExternalIDs(ctx context.Context, externalIDs []string) ([]Account, error)
	Save(ctx context.Context, account *Account) error
	SaveAll(ctx context.Context, accounts []Account) error
	Delete(ctx context.Context, id string) error
	// InsertUnique checks username and email availability and inserts the
	// account inside one transaction.
	InsertUnique(ctx context.Context, account *Account) error
	Query(ctx context.Context, query LocalQuery) ([]Account, int64, error)
}

// LocalQuery is a compiled, paginated listing over the local store.
type LocalQuery struct {
	Predicate   filters.Predicate[Account]
	Offset      int
	Limit       int
	OrderColumn string
	Descending  bool
}

// GormStore implements Store on a gorm connection.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore wraps db. The schema is expected to be migrated already.
// Automatic timestamps are taken in UTC whatever clock db was opened with.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("accounts: database handle is required")
	}
	return &GormStore{db: db.Session(&gorm.Session{NowFunc: NowUTC})}, nil
}

func (s *GormStore) FindByID(ctx context.Context, id string) (Account, error) {
	return s.take(ctx, "id = ?", id)
}

func (s *GormStore) FindByUsername(ctx context.Context, username string) (Account, error) {
	return s.take(ctx, "username = ?", username)
}

func (s *GormStore) FindByEmail(ctx context.Context, email string) (Account, error) {
	if email == "" {
		return Account{}, ErrNotFound
	}
	return s.take(ctx, "email = ?", email)
}

func (s *GormStore) FindAllByExternalIDs(ctx context.Context, externalIDs []string) ([]Account, error) {
	if len(externalIDs) == 0 {
		return []Account{}, nil
	}
	var found []Account
	if err := s.db.WithContext(ctx).Where("external_id IN ?", externalIDs).Find(&found).Error; err != nil {
		return nil, err
	}
	return found, nil
}

func (s *GormStore) Save(ctx context.Context, account *Account) error {
	return translate(s.db.WithContext(ctx).Save(account).Error)
}

func (s *GormStore) SaveAll(ctx context.Context, accounts []Account) error {
	if len(accounts) == 0 {
		return nil
	}
	return translate(s.db.WithContext(ctx).Create(&accounts).Error)
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Account{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) InsertUnique(ctx context.Context, account *Account) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		check := tx.Model(&Account{}).Where("username = ?", account.Username)
		if account.Email != "" {
			check = check.Or("email = ?", account.Email)
		}
		if account.ExternalID != "" {
			check = check.Or("external_id = ?", account.ExternalID)
		}
		if err := check.Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return ErrConflict
		}
		return translate(tx.Create(account).Error)
	})
}

func (s *GormStore) Query(ctx context.Context, query LocalQuery) ([]Account, int64, error) {
	scope := query.Predicate.Scope()

	var total int64
	if err := s.db.WithContext(ctx).Model(&Account{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderColumn := query.OrderColumn
	if orderColumn == "" {
		orderColumn = "created_at"
	}
	listing := s.db.WithContext(ctx).
		Scopes(scope).
		Order(clause.OrderByColumn{Column: clause.Column{Name: orderColumn}, Desc: query.Descending}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).
		Offset(query.Offset)
	if query.Limit > 0 {
		listing = listing.Limit(query.Limit)
	}

	var found []Account
	if err := listing.Find(&found).Error; err != nil {
		return nil, 0, err
	}
	return found, total, nil
}

func (s *GormStore) take(ctx context.Context, condition string, value string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where(condition, value).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// translate maps unique-index violations onto ErrConflict. It relies on the
// connection being opened with TranslateError enabled.
func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
