package authcore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/onboarding"
	"github.com/MrEthical07/authcore/password"
)

// AccountCredentials is the default [CredentialStore]. It checks an email and
// password against onboarding accounts and only admits active accounts.
// Unknown emails and unfinished accounts cost one dummy hash verification so
// their timing matches a wrong password.
type AccountCredentials struct {
	accounts onboarding.AccountStore
	hasher   *password.Argon2
	scopes   []string
	clock    Clock
	timeout  time.Duration
	logger   *slog.Logger
}

// NewAccountCredentials builds the adapter for callers wiring their own
// engine pieces.
func NewAccountCredentials(accounts onboarding.AccountStore, hasher *password.Argon2, scopes []string) *AccountCredentials {
	return &AccountCredentials{accounts: accounts, hasher: hasher, scopes: scopes}
}

func (c *AccountCredentials) VerifyCredentials(ctx context.Context, identifier, secret string) (Principal, error) {
	if c == nil || c.accounts == nil || c.hasher == nil {
		return Principal{}, ErrEngineNotReady
	}
	email, err := onboarding.NormalizeEmail(identifier)
	if err != nil || secret == "" {
		c.hasher.VerifyDummy(secret)
		return Principal{}, ErrInvalidCredentials
	}

	sctx, cancel := c.storeContext(ctx)
	acct, err := c.accounts.ByEmail(sctx, email)
	cancel()
	switch {
	case errors.Is(err, onboarding.ErrAccountNotFound):
		c.hasher.VerifyDummy(secret)
		return Principal{}, ErrInvalidCredentials
	case err != nil:
		return Principal{}, storeUnavailable(err)
	}
	if acct.State != onboarding.StateActive || acct.PasswordHash == "" {
		c.hasher.VerifyDummy(secret)
		return Principal{}, ErrInvalidCredentials
	}

	ok, err := c.hasher.Verify(secret, acct.PasswordHash)
	if err != nil || !ok {
		return Principal{}, ErrInvalidCredentials
	}

	c.upgradeHash(ctx, acct, secret)

	return Principal{
		SubjectID: acct.SubjectID,
		Scopes:    append([]string(nil), c.scopes...),
	}, nil
}

// upgradeHash rehashes with the current parameters. Failure never blocks a
// successful login.
func (c *AccountCredentials) upgradeHash(ctx context.Context, acct onboarding.Account, secret string) {
	needs, err := c.hasher.NeedsUpgrade(acct.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := c.hasher.Hash(secret)
	if err != nil {
		c.warn("password hash upgrade failed", slog.Any("error", err))
		return
	}
	sctx, cancel := c.storeContext(ctx)
	defer cancel()
	if err := c.accounts.SetPasswordHash(sctx, acct.SubjectID, hash, c.now()); err != nil {
		c.warn("password hash upgrade not stored", slog.String("subject_id", acct.SubjectID), slog.Any("error", err))
	}
}

func (c *AccountCredentials) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *AccountCredentials) now() time.Time {
	if c.clock == nil {
		return time.Now().UTC()
	}
	return c.clock.Now()
}

func (c *AccountCredentials) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
