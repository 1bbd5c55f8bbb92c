package accounts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/14vimal2/polarix/internal/identity"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var errIdentityDown = errors.New("identity store timed out")

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "accounts.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := NewGormStore(openTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func plainHasher(secret string) (string, error) {
	return "plain:" + secret, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type recordingJournal struct {
	mu    sync.Mutex
	sagas []Saga
}

func (j *recordingJournal) Record(_ context.Context, saga Saga) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sagas = append(j.sagas, saga)
	return nil
}

// countingStore counts the batch calls the reconciliation path makes.
type countingStore struct {
	Store
	mu           sync.Mutex
	findAllCalls int
	saveAllCalls int
	savedCount   int
}

func (s *countingStore) FindAllByExternalIDs(ctx context.Context, externalIDs []string) ([]Account, error) {
	s.mu.Lock()
	s.findAllCalls++
	s.mu.Unlock()
	return s.Store.FindAllByExternalIDs(ctx, externalIDs)
}

func (s *countingStore) SaveAll(ctx context.Context, accounts []Account) error {
	s.mu.Lock()
	s.saveAllCalls++
	s.savedCount += len(accounts)
	s.mu.Unlock()
	return s.Store.SaveAll(ctx, accounts)
}

func (s *countingStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findAllCalls, s.saveAllCalls, s.savedCount = 0, 0, 0
}

type failingInsertStore struct {
	Store
}

func (failingInsertStore) InsertUnique(context.Context, *Account) error {
	return errors.New("disk full")
}

// flakyDirectory fails the selected identity operations.
type flakyDirectory struct {
	identity.Directory
	failList   bool
	failUpdate bool
	failDelete bool
}

func (d *flakyDirectory) ListUsers(ctx context.Context, offset, limit int) ([]identity.User, error) {
	if d.failList {
		return nil, errIdentityDown
	}
	return d.Directory.ListUsers(ctx, offset, limit)
}

func (d *flakyDirectory) UpdateUser(ctx context.Context, id string, user identity.User) error {
	if d.failUpdate {
		return errIdentityDown
	}
	return d.Directory.UpdateUser(ctx, id, user)
}

func (d *flakyDirectory) DeleteUser(ctx context.Context, id string) error {
	if d.failDelete {
		return errIdentityDown
	}
	return d.Directory.DeleteUser(ctx, id)
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

// seedIdentities adds count users named user00..userNN with ascending creation times.
func seedIdentities(t *testing.T, directory *identity.MemoryDirectory, count int) []identity.User {
	t.Helper()
	users := make([]identity.User, 0, count)
	for index := 0; index < count; index++ {
		created := int64(1_700_000_000_000 + index*1000)
		users = append(users, identity.User{
			ID:               fmt.Sprintf("kc-%02d", index),
			Username:         fmt.Sprintf("user%02d", index),
			Email:            fmt.Sprintf("user%02d@example.com", index),
			FirstName:        fmt.Sprintf("First%02d", index),
			LastName:         fmt.Sprintf("Last%02d", index),
			Enabled:          index%2 == 0,
			EmailVerified:    index%3 == 0,
			CreatedTimestamp: &created,
		})
	}
	if err := directory.Seed(users...); err != nil {
		t.Fatalf("failed to seed identities: %v", err)
	}
	return users
}

type testHarness struct {
	service   *Service
	store     *countingStore
	directory *identity.MemoryDirectory
	publisher *recordingPublisher
	journal   *recordingJournal
}

func newTestHarness(t *testing.T, wrap func(identity.Directory) identity.Directory) testHarness {
	t.Helper()
	directory := identity.NewMemoryDirectory(identity.WithClock(fixedClock))
	var serviceDirectory identity.Directory = directory
	if wrap != nil {
		serviceDirectory = wrap(directory)
	}
	store := &countingStore{Store: newTestStore(t)}
	publisher := &recordingPublisher{}
	journal := &recordingJournal{}
	service, err := NewService(ServiceConfig{
		Store:     store,
		Directory: serviceDirectory,
		Journal:   journal,
		Publisher: publisher,
		Hasher:    plainHasher,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return testHarness{service: service, store: store, directory: directory, publisher: publisher, journal: journal}
}
