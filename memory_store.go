package authstate

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryAccountStore is an in-memory AccountStore for tests, examples,
// and single-process deployments that do not need durable accounts. All
// methods are safe for concurrent use; ConsumeBackupCode marks a code
// used at most once under the store mutex.
type MemoryAccountStore struct {
	mu sync.Mutex

	byID    map[string]*Account
	byEmail map[string]string // lower-cased email -> account ID
	byPhone map[string]string
	byOAuth map[string]string // provider \x00 providerID -> account ID

	backupCodes map[string][]BackupCode
}

// NewMemoryAccountStore returns an empty store.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		byID:        make(map[string]*Account),
		byEmail:     make(map[string]string),
		byPhone:     make(map[string]string),
		byOAuth:     make(map[string]string),
		backupCodes: make(map[string][]BackupCode),
	}
}

func oauthKey(provider, providerID string) string {
	return provider + "\x00" + providerID
}

func cloneAccount(a *Account) Account {
	out := *a
	if a.OAuthIDs != nil {
		out.OAuthIDs = make(map[string]string, len(a.OAuthIDs))
		for k, v := range a.OAuthIDs {
			out.OAuthIDs[k] = v
		}
	}
	return out
}

func (s *MemoryAccountStore) Create(_ context.Context, account Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(account.Email)
	if email != "" {
		if _, exists := s.byEmail[email]; exists {
			return Account{}, ErrDuplicateIdentity
		}
	}
	if account.Phone != "" {
		if _, exists := s.byPhone[account.Phone]; exists {
			return Account{}, ErrDuplicateIdentity
		}
	}
	for provider, providerID := range account.OAuthIDs {
		if _, exists := s.byOAuth[oauthKey(provider, providerID)]; exists {
			return Account{}, ErrDuplicateIdentity
		}
	}

	stored := cloneAccount(&account)
	stored.Email = email
	s.byID[stored.ID] = &stored
	if email != "" {
		s.byEmail[email] = stored.ID
	}
	if stored.Phone != "" {
		s.byPhone[stored.Phone] = stored.ID
	}
	for provider, providerID := range stored.OAuthIDs {
		s.byOAuth[oauthKey(provider, providerID)] = stored.ID
	}
	return cloneAccount(&stored), nil
}

func (s *MemoryAccountStore) FindByID(_ context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(id)
}

func (s *MemoryAccountStore) find(id string) (Account, error) {
	account, ok := s.byID[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (s *MemoryAccountStore) FindByEmail(_ context.Context, email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return s.find(id)
}

func (s *MemoryAccountStore) FindByPhone(_ context.Context, phone string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPhone[phone]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return s.find(id)
}

func (s *MemoryAccountStore) FindByOAuth(_ context.Context, provider, providerID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byOAuth[oauthKey(provider, providerID)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return s.find(id)
}

func (s *MemoryAccountStore) update(id string, apply func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	apply(account)
	return nil
}

func (s *MemoryAccountStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(a *Account) { a.PasswordHash = hash })
}

func (s *MemoryAccountStore) MarkEmailVerified(_ context.Context, id string) error {
	return s.update(id, func(a *Account) { a.EmailVerified = true })
}

func (s *MemoryAccountStore) MarkPhoneVerified(_ context.Context, id string) error {
	return s.update(id, func(a *Account) { a.PhoneVerified = true })
}

func (s *MemoryAccountStore) LinkOAuth(_ context.Context, id, provider, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	key := oauthKey(provider, providerID)
	if owner, exists := s.byOAuth[key]; exists && owner != id {
		return ErrDuplicateIdentity
	}
	if account.OAuthIDs == nil {
		account.OAuthIDs = make(map[string]string, 1)
	}
	account.OAuthIDs[provider] = providerID
	s.byOAuth[key] = id
	return nil
}

func (s *MemoryAccountStore) TouchLogin(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(a *Account) { a.LastLogin = at })
}

func (s *MemoryAccountStore) TouchActive(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(a *Account) { a.LastActiveAt = at })
}

func (s *MemoryAccountStore) SetPendingTOTPSecret(_ context.Context, id, secret string) error {
	return s.update(id, func(a *Account) {
		a.TwoFactor.Enabled = false
		a.TwoFactor.Secret = secret
	})
}

func (s *MemoryAccountStore) EnableTOTP(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(a *Account) {
		a.TwoFactor.Enabled = true
		a.TwoFactor.SetupAt = at
	})
}

func (s *MemoryAccountStore) DisableTOTP(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.TwoFactor = TwoFactorState{}
	delete(s.backupCodes, id)
	return nil
}

func (s *MemoryAccountStore) ReplaceBackupCodes(_ context.Context, id string, codes []BackupCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return ErrAccountNotFound
	}
	stored := make([]BackupCode, len(codes))
	copy(stored, codes)
	s.backupCodes[id] = stored
	return nil
}

func (s *MemoryAccountStore) ConsumeBackupCode(_ context.Context, id string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return false, ErrAccountNotFound
	}
	codes := s.backupCodes[id]
	for i := range codes {
		if codes[i].Hash == hash {
			if codes[i].Used {
				return false, nil
			}
			codes[i].Used = true
			codes[i].UsedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryAccountStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	if account.Email != "" {
		delete(s.byEmail, account.Email)
	}
	if account.Phone != "" {
		delete(s.byPhone, account.Phone)
	}
	for provider, providerID := range account.OAuthIDs {
		delete(s.byOAuth, oauthKey(provider, providerID))
	}
	delete(s.byID, id)
	delete(s.backupCodes, id)
	return nil
}
