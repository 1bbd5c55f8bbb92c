package accounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/14vimal2/polarix/internal/identity"
	"go.uber.org/zap"
)

// Saga step names.
const (
	stepIdentityLink   = "identity.link"
	stepIdentityCreate = "identity.create"
	stepIdentityRead   = "identity.read"
	stepIdentityUpdate = "identity.update"
	stepIdentityDelete = "identity.delete"
	stepIdentityReset  = "identity.reset_credential"
	stepIdentityEnable = "identity.set_enabled"
	stepLocalInsert    = "local.insert"
	stepLocalSave      = "local.save"
	stepLocalDelete    = "local.delete"
)

// AccountInput is the caller-supplied account payload. Empty strings mean
// "not supplied" for Patch.
type AccountInput struct {
	Username    string
	Email       string
	FirstName   string
	LastName    string
	Password    string
	DateOfBirth *time.Time
}

func (in AccountInput) normalized() AccountInput {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	return in
}

// Create registers a new account. The local store is checked for duplicates
// first, then the identity store is resolved (an identity with the same email
// is linked rather than duplicated), and the local record is inserted last.
// A failed local insert leaves a newly created identity behind as an orphan,
// or a linked identity without its local record; either is logged and recorded
// in the saga, never rolled back.
func (s *Service) Create(ctx context.Context, input AccountInput) (Outcome, error) {
	input = input.normalized()
	if input.Username == "" {
		return Outcome{}, newServiceError(opCreate, "missing_username", ErrInvalidInput, errMissingUsername)
	}
	if input.Password == "" {
		return Outcome{}, newServiceError(opCreate, "missing_password", ErrInvalidInput, errMissingPassword)
	}
	if err := s.ensureAvailable(ctx, opCreate, "", input.Username, input.Email); err != nil {
		return Outcome{}, err
	}

	hashed, err := s.hasher(input.Password)
	if err != nil {
		s.logError(opCreate, "hash_failed", err, zap.String("username", input.Username))
		return Outcome{}, newServiceError(opCreate, "hash_failed", nil, err)
	}
	localID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Outcome{}, newServiceError(opCreate, "id_generation_failed", nil, err)
	}

	saga := s.beginSaga(opCreate)
	defer s.finishSaga(ctx, &saga)

	user, linked, err := s.resolveIdentity(ctx, &saga, input)
	if err != nil {
		return Outcome{Saga: saga}, err
	}
	saga.ExternalID = user.ID

	account := Account{
		ID:             localID,
		ExternalID:     user.ID,
		Username:       input.Username,
		Email:          input.Email,
		FirstName:      input.FirstName,
		LastName:       input.LastName,
		HashedPassword: hashed,
		DateOfBirth:    input.DateOfBirth,
		Enabled:        true,
	}
	if err := s.store.InsertUnique(ctx, &account); err != nil {
		saga.fail(stepLocalInsert, StoreLocal, err)
		reason := "orphaned_identity"
		if linked {
			reason = "link_not_recorded"
		}
		s.logError(opCreate, reason, err,
			zap.String("external_id", user.ID),
			zap.String("username", input.Username),
			zap.String("email", input.Email))
		return Outcome{Saga: saga}, localError(opCreate, "local_insert_failed", err)
	}
	saga.LocalID = account.ID
	saga.commit(stepLocalInsert, StoreLocal, "")

	s.logger.Info("account created", zap.String("local_id", account.ID), zap.String("external_id", user.ID))
	s.publish(EventAccountCreated, saga.Outcome(), account.ID)
	return Outcome{Account: merge(user, &account), Saga: saga}, nil
}

// resolveIdentity reports whether an existing identity was linked rather than created.
func (s *Service) resolveIdentity(ctx context.Context, saga *Saga, input AccountInput) (identity.User, bool, error) {
	if input.Email != "" {
		matches, err := s.directory.FindByEmail(ctx, input.Email, true)
		if err != nil {
			saga.fail(stepIdentityLink, StoreIdentity, err)
			s.logError(opCreate, "identity_lookup_failed", err, zap.String("email", input.Email))
			return identity.User{}, false, newServiceError(opCreate, "identity_lookup_failed", ErrExternalUnavailable, err)
		}
		if existing, ok := identity.First(matches); ok {
			saga.commit(stepIdentityLink, StoreIdentity, "linked existing identity")
			s.logger.Info("linking existing identity", zap.String("external_id", existing.ID), zap.String("email", input.Email))
			return existing, true, nil
		}
	}

	user := identity.User{
		Username:    input.Username,
		Email:       input.Email,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		Enabled:     true,
		Credentials: []identity.Credential{identity.PasswordCredential(input.Password)},
	}
	externalID, err := s.directory.CreateUser(ctx, user)
	if err != nil {
		saga.fail(stepIdentityCreate, StoreIdentity, err)
		s.logError(opCreate, "identity_create_failed", err, zap.String("username", input.Username))
		return identity.User{}, false, identityError(opCreate, "identity_create_failed", "", err)
	}
	saga.commit(stepIdentityCreate, StoreIdentity, "")
	user.ID = externalID
	user.Credentials = nil
	return user, false, nil
}

// Update replaces the account's fields. See Patch for the cross-store policy.
func (s *Service) Update(ctx context.Context, id string, input AccountInput) (Outcome, error) {
	input = input.normalized()
	if input.Username == "" {
		return Outcome{}, newServiceError(opUpdate, "missing_username", ErrInvalidInput, errMissingUsername)
	}
	return s.mutate(ctx, opUpdate, id, input, false)
}

// Patch overwrites only the non-empty fields of input. The local mutation is
// computed first, the linked identity record then receives first name, last
// name and email (never username), and the local write is committed whether or
// not the identity write succeeded. An identity failure is returned alongside
// the committed outcome.
func (s *Service) Patch(ctx context.Context, id string, input AccountInput) (Outcome, error) {
	return s.mutate(ctx, opPatch, id, input.normalized(), true)
}

func (s *Service) mutate(ctx context.Context, operation, id string, input AccountInput, partial bool) (Outcome, error) {
	account, err := s.store.FindByID(ctx, id)
	if err != nil {
		return Outcome{}, localError(operation, "lookup_failed", err)
	}
	if err := s.ensureAvailable(ctx, operation, account.ID, changed(account.Username, input.Username), changed(account.Email, input.Email)); err != nil {
		return Outcome{}, err
	}
	if err := s.applyInput(&account, input, partial); err != nil {
		s.logError(operation, "hash_failed", err, zap.String("local_id", id))
		return Outcome{}, newServiceError(operation, "hash_failed", nil, err)
	}

	saga := s.beginSaga(operation)
	saga.LocalID = account.ID
	saga.ExternalID = account.ExternalID
	defer s.finishSaga(ctx, &saga)

	var (
		identityErr error
		pushed      *identity.User
	)
	if account.Linked() {
		pushed, identityErr = s.pushIdentity(ctx, &saga, operation, account.ExternalID, input, partial)
	} else {
		saga.skip(stepIdentityUpdate, StoreIdentity, "not linked")
	}

	if err := s.store.Save(ctx, &account); err != nil {
		saga.fail(stepLocalSave, StoreLocal, err)
		s.logError(operation, "local_save_failed", err, zap.String("local_id", account.ID))
		return Outcome{Saga: saga}, localError(operation, "local_save_failed", err)
	}
	saga.commit(stepLocalSave, StoreLocal, "")
	s.publish(EventAccountUpdated, saga.Outcome(), account.ID)

	outcome := Outcome{Account: localView(account), Saga: saga}
	if pushed != nil {
		outcome.Account = merge(*pushed, &account)
	}
	return outcome, identityErr
}

func (s *Service) pushIdentity(ctx context.Context, saga *Saga, operation, externalID string, input AccountInput, partial bool) (*identity.User, error) {
	user, err := s.directory.GetUser(ctx, externalID)
	if err != nil {
		saga.fail(stepIdentityUpdate, StoreIdentity, err)
		s.logError(operation, "identity_read_failed", err, zap.String("external_id", externalID))
		return nil, identityError(operation, "identity_read_failed", externalID, err)
	}
	if !partial || input.FirstName != "" {
		user.FirstName = input.FirstName
	}
	if !partial || input.LastName != "" {
		user.LastName = input.LastName
	}
	if !partial || input.Email != "" {
		user.Email = input.Email
	}
	if err := s.directory.UpdateUser(ctx, externalID, user); err != nil {
		saga.fail(stepIdentityUpdate, StoreIdentity, err)
		s.logError(operation, "identity_update_failed", err, zap.String("external_id", externalID))
		return nil, identityError(operation, "identity_update_failed", externalID, err)
	}
	saga.commit(stepIdentityUpdate, StoreIdentity, "")
	return &user, nil
}

func (s *Service) applyInput(account *Account, input AccountInput, partial bool) error {
	if input.Password != "" {
		hashed, err := s.hasher(input.Password)
		if err != nil {
			return err
		}
		account.HashedPassword = hashed
	}
	if !partial {
		account.Username = input.Username
		account.Email = input.Email
		account.FirstName = input.FirstName
		account.LastName = input.LastName
		account.DateOfBirth = input.DateOfBirth
		return nil
	}
	if input.Username != "" {
		account.Username = input.Username
	}
	if input.Email != "" {
		account.Email = input.Email
	}
	if input.FirstName != "" {
		account.FirstName = input.FirstName
	}
	if input.LastName != "" {
		account.LastName = input.LastName
	}
	if input.DateOfBirth != nil {
		account.DateOfBirth = input.DateOfBirth
	}
	return nil
}

// Delete removes the account. The identity record is deleted first; a failure
// there is logged and recorded but does not stop the local delete, since the
// local record's absence is what marks the account as gone.
func (s *Service) Delete(ctx context.Context, id string) (Saga, error) {
	account, err := s.store.FindByID(ctx, id)
	if err != nil {
		return Saga{}, localError(opDelete, "lookup_failed", err)
	}

	saga := s.beginSaga(opDelete)
	saga.LocalID = account.ID
	saga.ExternalID = account.ExternalID
	defer s.finishSaga(ctx, &saga)

	if account.Linked() {
		err := s.directory.DeleteUser(ctx, account.ExternalID)
		switch {
		case err == nil:
			saga.commit(stepIdentityDelete, StoreIdentity, "")
		case errors.Is(err, identity.ErrNotFound):
			saga.skip(stepIdentityDelete, StoreIdentity, "identity already absent")
		default:
			saga.fail(stepIdentityDelete, StoreIdentity, err)
			s.logError(opDelete, "identity_delete_failed", err,
				zap.String("local_id", account.ID),
				zap.String("external_id", account.ExternalID))
		}
	} else {
		saga.skip(stepIdentityDelete, StoreIdentity, "not linked")
	}

	if err := s.store.Delete(ctx, account.ID); err != nil {
		saga.fail(stepLocalDelete, StoreLocal, err)
		s.logError(opDelete, "local_delete_failed", err, zap.String("local_id", account.ID))
		return saga, localError(opDelete, "local_delete_failed", err)
	}
	saga.commit(stepLocalDelete, StoreLocal, "")

	s.logger.Info("account deleted", zap.String("local_id", account.ID), zap.String("outcome", saga.Outcome()))
	s.publish(EventAccountDeleted, saga.Outcome(), account.ID)
	return saga, nil
}

// Sync re-pulls the identity-authoritative fields into the local record.
func (s *Service) Sync(ctx context.Context, id string) (Outcome, error) {
	account, err := s.linkedAccount(ctx, opSync, id)
	if err != nil {
		return Outcome{}, err
	}

	saga := s.beginSaga(opSync)
	saga.LocalID = account.ID
	saga.ExternalID = account.ExternalID
	defer s.finishSaga(ctx, &saga)

	user, err := s.directory.GetUser(ctx, account.ExternalID)
	if err != nil {
		saga.fail(stepIdentityRead, StoreIdentity, err)
		s.logError(opSync, "identity_read_failed", err,
			zap.String("local_id", account.ID),
			zap.String("external_id", account.ExternalID))
		return Outcome{Saga: saga}, identityError(opSync, "identity_read_failed", account.ExternalID, err)
	}
	saga.commit(stepIdentityRead, StoreIdentity, "")

	account.Username = user.Username
	account.Email = user.Email
	account.FirstName = user.FirstName
	account.LastName = user.LastName
	account.Enabled = user.Enabled
	if err := s.store.Save(ctx, &account); err != nil {
		saga.fail(stepLocalSave, StoreLocal, err)
		s.logError(opSync, "local_save_failed", err, zap.String("local_id", account.ID))
		return Outcome{Saga: saga}, localError(opSync, "local_save_failed", err)
	}
	saga.commit(stepLocalSave, StoreLocal, "")

	s.publish(EventAccountSynced, saga.Outcome(), account.ID)
	return Outcome{Account: merge(user, &account), Saga: saga}, nil
}

// ResetCredential replaces the password held by the identity store.
func (s *Service) ResetCredential(ctx context.Context, id, secret string) (Saga, error) {
	if secret == "" {
		return Saga{}, newServiceError(opResetCredential, "missing_password", ErrInvalidInput, errMissingPassword)
	}
	account, err := s.linkedAccount(ctx, opResetCredential, id)
	if err != nil {
		return Saga{}, err
	}

	saga := s.beginSaga(opResetCredential)
	saga.LocalID = account.ID
	saga.ExternalID = account.ExternalID
	defer s.finishSaga(ctx, &saga)

	if err := s.directory.ResetCredential(ctx, account.ExternalID, secret); err != nil {
		saga.fail(stepIdentityReset, StoreIdentity, err)
		s.logError(opResetCredential, "identity_reset_failed", err, zap.String("external_id", account.ExternalID))
		return saga, identityError(opResetCredential, "identity_reset_failed", account.ExternalID, err)
	}
	saga.commit(stepIdentityReset, StoreIdentity, "")
	return saga, nil
}

// SetEnabled flips the enabled flag in the identity store, then mirrors it locally.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) (Outcome, error) {
	account, err := s.linkedAccount(ctx, opSetEnabled, id)
	if err != nil {
		return Outcome{}, err
	}

	saga := s.beginSaga(opSetEnabled)
	saga.LocalID = account.ID
	saga.ExternalID = account.ExternalID
	defer s.finishSaga(ctx, &saga)

	if err := s.directory.SetEnabled(ctx, account.ExternalID, enabled); err != nil {
		saga.fail(stepIdentityEnable, StoreIdentity, err)
		saga.skip(stepLocalSave, StoreLocal, "identity not updated")
		s.logError(opSetEnabled, "identity_update_failed", err, zap.String("external_id", account.ExternalID))
		return Outcome{Saga: saga}, identityError(opSetEnabled, "identity_update_failed", account.ExternalID, err)
	}
	saga.commit(stepIdentityEnable, StoreIdentity, "")

	account.Enabled = enabled
	if err := s.store.Save(ctx, &account); err != nil {
		saga.fail(stepLocalSave, StoreLocal, err)
		s.logError(opSetEnabled, "local_save_failed", err, zap.String("local_id", account.ID))
		return Outcome{Saga: saga}, localError(opSetEnabled, "local_save_failed", err)
	}
	saga.commit(stepLocalSave, StoreLocal, "")

	s.publish(EventAccountUpdated, saga.Outcome(), account.ID)
	return Outcome{Account: localView(account), Saga: saga}, nil
}

func (s *Service) linkedAccount(ctx context.Context, operation, id string) (Account, error) {
	account, err := s.store.FindByID(ctx, id)
	if err != nil {
		return Account{}, localError(operation, "lookup_failed", err)
	}
	if !account.Linked() {
		return Account{}, newServiceError(operation, "not_linked", ErrNotLinked, nil)
	}
	return account, nil
}

// ensureAvailable rejects a username or email held by another local account.
// Empty values are not checked.
func (s *Service) ensureAvailable(ctx context.Context, operation, selfID, username, email string) error {
	if username != "" {
		existing, err := s.store.FindByUsername(ctx, username)
		switch {
		case err == nil && existing.ID != selfID:
			return newServiceError(operation, "username_taken", ErrConflict, nil)
		case err != nil && !errors.Is(err, ErrNotFound):
			s.logError(operation, "username_lookup_failed", err, zap.String("username", username))
			return newServiceError(operation, "username_lookup_failed", nil, err)
		}
	}
	if email != "" {
		existing, err := s.store.FindByEmail(ctx, email)
		switch {
		case err == nil && existing.ID != selfID:
			return newServiceError(operation, "email_taken", ErrConflict, nil)
		case err != nil && !errors.Is(err, ErrNotFound):
			s.logError(operation, "email_lookup_failed", err, zap.String("email", email))
			return newServiceError(operation, "email_lookup_failed", nil, err)
		}
	}
	return nil
}

// changed returns next when it differs from current, or "" otherwise.
func changed(current, next string) string {
	if next == "" || next == current {
		return ""
	}
	return next
}
