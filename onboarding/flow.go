package onboarding

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/clock"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/google/uuid"
)

// ErrTokenAlreadyUsed is returned when an onboarding token is presented after
// the transition it authorizes has already happened.
var ErrTokenAlreadyUsed = errors.New("onboarding token already used")

// ErrInvalidEmail is returned for addresses that do not parse.
var ErrInvalidEmail = errors.New("invalid email address")

// Purpose binds an onboarding token to one transition.
type Purpose string

const (
	PurposeVerifyEmail Purpose = "verify-email"
	PurposeSetPassword Purpose = "set-password"
)

func (p Purpose) transition() (from, to State) {
	switch p {
	case PurposeVerifyEmail:
		to, _ = Next(StatePendingVerification, EventEmailVerified)
		return StatePendingVerification, to
	case PurposeSetPassword:
		to, _ = Next(StateVerifiedNoPassword, EventPasswordSet)
		return StateVerifiedNoPassword, to
	}
	return 0, 0
}

// Token is an issued onboarding token.
type Token struct {
	Value     string
	SubjectID string
	Purpose   Purpose
	ExpiresAt time.Time
}

// Flow issues and consumes onboarding tokens.
type Flow struct {
	codec *jwt.Codec
	store AccountStore
	ttl   time.Duration
	clock clock.Clock
}

// NewFlow wires a Flow. ttl bounds every onboarding token.
func NewFlow(codec *jwt.Codec, store AccountStore, ttl time.Duration, clk clock.Clock) (*Flow, error) {
	if codec == nil || store == nil {
		return nil, errors.New("onboarding flow requires codec and account store")
	}
	if ttl <= 0 {
		return nil, errors.New("onboarding token ttl must be positive")
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Flow{codec: codec, store: store, ttl: ttl, clock: clk}, nil
}

// NormalizeEmail validates and canonicalizes an address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Register creates a pending account for email and returns its verification
// token.
func (f *Flow) Register(ctx context.Context, email string) (Account, Token, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return Account{}, Token{}, err
	}
	now := f.clock.Now()
	acct := Account{
		SubjectID: uuid.NewString(),
		Email:     email,
		State:     StatePendingVerification,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.store.Create(ctx, acct); err != nil {
		return Account{}, Token{}, err
	}
	tok, err := f.issue(acct, PurposeVerifyEmail)
	if err != nil {
		return Account{}, Token{}, err
	}
	return acct, tok, nil
}

// IssueVerificationToken issues a fresh verify-email token for a pending
// account.
func (f *Flow) IssueVerificationToken(ctx context.Context, email string) (Token, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return Token{}, err
	}
	acct, err := f.store.ByEmail(ctx, email)
	if err != nil {
		return Token{}, err
	}
	if acct.State != StatePendingVerification {
		return Token{}, ErrStateMismatch
	}
	return f.issue(acct, PurposeVerifyEmail)
}

// ConsumeVerification validates a verify-email token and moves the account
// to verified-no-password.
func (f *Flow) ConsumeVerification(ctx context.Context, token string) (Account, error) {
	return f.consume(ctx, token, PurposeVerifyEmail, "")
}

// IssueSetPasswordToken issues a set-password token for a verified account.
func (f *Flow) IssueSetPasswordToken(ctx context.Context, subjectID string) (Token, error) {
	acct, err := f.store.ByID(ctx, subjectID)
	if err != nil {
		return Token{}, err
	}
	if acct.State != StateVerifiedNoPassword {
		return Token{}, ErrStateMismatch
	}
	return f.issue(acct, PurposeSetPassword)
}

// ConsumeSetPassword validates a set-password token and activates the
// account with passwordHash.
func (f *Flow) ConsumeSetPassword(ctx context.Context, token, passwordHash string) (Account, error) {
	if passwordHash == "" {
		return Account{}, errors.New("password hash is required")
	}
	return f.consume(ctx, token, PurposeSetPassword, passwordHash)
}

func (f *Flow) issue(acct Account, purpose Purpose) (Token, error) {
	value, claims, err := f.codec.Issue(acct.SubjectID, jwt.TypeOnboarding, f.ttl, jwt.Extra{
		Purpose: string(purpose),
		Email:   acct.Email,
	})
	if err != nil {
		return Token{}, err
	}
	return Token{
		Value:     value,
		SubjectID: acct.SubjectID,
		Purpose:   purpose,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (f *Flow) consume(ctx context.Context, token string, purpose Purpose, passwordHash string) (Account, error) {
	claims, err := f.codec.VerifyType(token, jwt.TypeOnboarding)
	if err != nil {
		return Account{}, err
	}
	if Purpose(claims.Purpose) != purpose {
		return Account{}, fmt.Errorf("%w: token purpose %q", jwt.ErrTokenMalformed, claims.Purpose)
	}

	cur, err := f.store.ByID(ctx, claims.Subject)
	if err != nil {
		return Account{}, err
	}
	if cur.Email != claims.Email {
		return Account{}, fmt.Errorf("%w: email does not match account", jwt.ErrTokenMalformed)
	}

	from, to := purpose.transition()
	acct, err := f.store.Transition(ctx, claims.Subject, from, to, passwordHash, f.clock.Now())
	if errors.Is(err, ErrStateMismatch) {
		if acct.State > from {
			return Account{}, ErrTokenAlreadyUsed
		}
		return Account{}, err
	}
	if err != nil {
		return Account{}, err
	}
	return acct, nil
}
