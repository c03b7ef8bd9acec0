package authstate

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/tmachard/authstate/oauth"
)

// OAuthAuthCodeURL returns the provider consent URL for the given CSRF
// state.
func (e *Engine) OAuthAuthCodeURL(provider, state string) (string, error) {
	if e == nil || e.oauth == nil {
		return "", ErrEngineNotReady
	}
	url, err := e.oauth.AuthCodeURL(provider, state)
	if err != nil {
		return "", ErrUnknownProvider
	}
	return url, nil
}

// LoginWithOAuthCode redeems a provider callback code and logs the
// resulting identity in, creating or linking the account as needed.
func (e *Engine) LoginWithOAuthCode(ctx context.Context, provider, code string) (*LoginResult, error) {
	if e == nil || e.oauth == nil {
		return nil, ErrEngineNotReady
	}

	profile, err := e.oauth.ExchangeProfile(ctx, provider, code)
	if err != nil {
		if errors.Is(err, oauth.ErrUnknownProvider) {
			return nil, ErrUnknownProvider
		}
		return nil, ErrInvalidCredentials
	}
	return e.UpsertFromOAuth(ctx, profile)
}

// UpsertFromOAuth resolves a provider-verified profile to a local account
// and completes a login for it. Resolution order: an account already
// linked to this provider identity, then an account matching the
// provider-verified email (which gets linked), then a fresh account.
// Fresh OAuth accounts carry no password and a verified email; the
// provider vouched for it.
//
// Password-side lockout does not gate this path, the provider did the
// authenticating. 2FA still does: an enabled account gets the usual
// challenge instead of a session.
func (e *Engine) UpsertFromOAuth(ctx context.Context, profile *oauth.Profile) (*LoginResult, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	if profile == nil || profile.Provider == "" || profile.ProviderID == "" {
		return nil, ErrInvalidCredentials
	}

	account, err := e.resolveOAuthAccount(ctx, profile)
	if err != nil {
		return nil, err
	}

	if !account.Active || account.Blocked {
		e.emitAudit(auditEventLoginFailure, false, account.ID, ErrAccountDisabled,
			map[string]string{"provider": profile.Provider})
		return nil, ErrAccountDisabled
	}

	if account.TwoFactor.Enabled {
		return e.deferToTwoFactor(ctx, account.ID,
			map[string]string{"provider": profile.Provider})
	}

	result, err := e.finishLogin(ctx, account.ID, auditEventOAuthLogin, MetricOAuthLogin)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) resolveOAuthAccount(ctx context.Context, profile *oauth.Profile) (Account, error) {
	account, err := e.accounts.FindByOAuth(ctx, profile.Provider, profile.ProviderID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, storeFailure(err)
	}

	if profile.Email != "" {
		account, err = e.accounts.FindByEmail(ctx, normalizeEmail(profile.Email))
		if err == nil {
			if linkErr := e.accounts.LinkOAuth(ctx, account.ID, profile.Provider, profile.ProviderID); linkErr != nil {
				return Account{}, storeFailure(linkErr)
			}
			return account, nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return Account{}, storeFailure(err)
		}
	}

	account, err = e.accounts.Create(ctx, Account{
		ID:            uuid.NewString(),
		Email:         normalizeEmail(profile.Email),
		EmailVerified: profile.Email != "",
		Active:        true,
		OAuthIDs:      map[string]string{profile.Provider: profile.ProviderID},
		Name:          profile.Name,
		AvatarURL:     profile.AvatarURL,
		CreatedAt:     e.now(),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			// Lost a create race; the winner holds the identity now.
			return e.resolveOAuthRetry(ctx, profile)
		}
		return Account{}, storeFailure(err)
	}

	e.metricInc(MetricRegistration)
	e.emitAudit(auditEventRegistration, true, account.ID, nil,
		map[string]string{"provider": profile.Provider})
	return account, nil
}

func (e *Engine) resolveOAuthRetry(ctx context.Context, profile *oauth.Profile) (Account, error) {
	account, err := e.accounts.FindByOAuth(ctx, profile.Provider, profile.ProviderID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, storeFailure(err)
	}
	if profile.Email == "" {
		return Account{}, ErrDuplicateIdentity
	}

	account, err = e.accounts.FindByEmail(ctx, normalizeEmail(profile.Email))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, ErrDuplicateIdentity
		}
		return Account{}, storeFailure(err)
	}
	if linkErr := e.accounts.LinkOAuth(ctx, account.ID, profile.Provider, profile.ProviderID); linkErr != nil {
		return Account{}, storeFailure(linkErr)
	}
	return account, nil
}
