package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// StepStatus is the recorded outcome of one saga step.
type StepStatus string

const (
	StepCommitted StepStatus = "committed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Stores touched by saga steps.
const (
	StoreIdentity = "identity"
	StoreLocal    = "local"
)

// Saga outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomePartial   = "partial"
	OutcomeFailed    = "failed"
)

// Step records what happened on one side of a cross-store operation.
type Step struct {
	Name   string     `json:"name"`
	Store  string     `json:"store"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
	Err    error      `json:"-"`
}

// Saga is the ordered record of a lifecycle operation spanning both stores.
// No rollback exists; a failed step after a committed one leaves the stores
// diverged until a later sync or provisioning pass reconciles them.
type Saga struct {
	ID         string    `json:"id"`
	Operation  string    `json:"operation"`
	LocalID    string    `json:"localId,omitempty"`
	ExternalID string    `json:"externalId,omitempty"`
	Steps      []Step    `json:"steps"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (s *Saga) commit(name, store, detail string) {
	s.Steps = append(s.Steps, Step{Name: name, Store: store, Status: StepCommitted, Detail: detail})
}

func (s *Saga) fail(name, store string, err error) {
	step := Step{Name: name, Store: store, Status: StepFailed, Err: err}
	if err != nil {
		step.Detail = err.Error()
	}
	s.Steps = append(s.Steps, step)
}

func (s *Saga) skip(name, store, detail string) {
	s.Steps = append(s.Steps, Step{Name: name, Store: store, Status: StepSkipped, Detail: detail})
}

// Failed reports whether any step failed.
func (s Saga) Failed() bool {
	for _, step := range s.Steps {
		if step.Status == StepFailed {
			return true
		}
	}
	return false
}

// Partial reports whether at least one step committed while another failed.
func (s Saga) Partial() bool {
	committed := false
	for _, step := range s.Steps {
		if step.Status == StepCommitted {
			committed = true
			break
		}
	}
	return committed && s.Failed()
}

// Outcome summarises the saga as completed, partial or failed.
func (s Saga) Outcome() string {
	switch {
	case s.Partial():
		return OutcomePartial
	case s.Failed():
		return OutcomeFailed
	default:
		return OutcomeCompleted
	}
}

// Step returns the first step with the given name.
func (s Saga) Step(name string) (Step, bool) {
	for _, step := range s.Steps {
		if step.Name == name {
			return step, true
		}
	}
	return Step{}, false
}

// SagaJournal persists finished sagas for later reconciliation.
type SagaJournal interface {
	Record(ctx context.Context, saga Saga) error
}

// SagaRecord is the persisted row of a finished saga.
type SagaRecord struct {
	ID         string    `gorm:"column:saga_id;primaryKey;size:36"`
	Operation  string    `gorm:"column:operation;size:64;not null;index"`
	Outcome    string    `gorm:"column:outcome;size:16;not null;index"`
	LocalID    string    `gorm:"column:local_id;size:36;index"`
	ExternalID string    `gorm:"column:external_id;size:190;index"`
	StepsJSON  string    `gorm:"column:steps_json;type:text;not null"`
	StartedAt  time.Time `gorm:"column:started_at;not null"`
	FinishedAt time.Time `gorm:"column:finished_at;not null"`
}

// TableName exposes the table backing the saga journal.
func (SagaRecord) TableName() string {
	return "account_sagas"
}

// GormJournal writes sagas to the account_sagas table.
type GormJournal struct {
	db *gorm.DB
}

var _ SagaJournal = (*GormJournal)(nil)

func NewGormJournal(db *gorm.DB) (*GormJournal, error) {
	if db == nil {
		return nil, errors.New("accounts: database handle is required")
	}
	return &GormJournal{db: db.Session(&gorm.Session{NowFunc: NowUTC})}, nil
}

func (j *GormJournal) Record(ctx context.Context, saga Saga) error {
	steps, err := json.Marshal(saga.Steps)
	if err != nil {
		return err
	}
	record := SagaRecord{
		ID:         saga.ID,
		Operation:  saga.Operation,
		Outcome:    saga.Outcome(),
		LocalID:    saga.LocalID,
		ExternalID: saga.ExternalID,
		StepsJSON:  string(steps),
		StartedAt:  saga.StartedAt.UTC(),
		FinishedAt: saga.FinishedAt.UTC(),
	}
	return j.db.WithContext(ctx).Create(&record).Error
}

// Unreconciled lists partial sagas newest first, for operators chasing orphans.
func (j *GormJournal) Unreconciled(ctx context.Context, limit int) ([]SagaRecord, error) {
	query := j.db.WithContext(ctx).Where("outcome = ?", OutcomePartial).Order("finished_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []SagaRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Models lists the gorm models owned by this package, for schema migration.
func Models() []any {
	return []any{&Account{}, &SagaRecord{}}
}
