package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/clock"
	"github.com/MrEthical07/authcore/keys"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultLeeway is the clock-skew tolerance applied to exp, nbf and iat.
const DefaultLeeway = 30 * time.Second

// MaxLeeway bounds the configurable skew tolerance.
const MaxLeeway = 2 * time.Minute

var (
	// ErrTokenMalformed covers structurally invalid tokens and claim sets,
	// including a token of the wrong type.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenExpired is returned once now exceeds exp plus leeway.
	ErrTokenExpired = errors.New("token expired")
	// ErrSignatureInvalid covers bad signatures, unexpected algorithms and
	// unknown key ids.
	ErrSignatureInvalid = errors.New("token signature invalid")
)

// TokenType distinguishes the token families sharing one signing key.
type TokenType string

const (
	TypeAccess     TokenType = "access"
	TypeRefresh    TokenType = "refresh"
	TypeOnboarding TokenType = "onboarding"
)

func (t TokenType) valid() bool {
	return t == TypeAccess || t == TypeRefresh || t == TypeOnboarding
}

// Claims is the claim set carried by every authcore token.
type Claims struct {
	Type     TokenType `json:"typ"`
	Scopes   []string  `json:"scope,omitempty"`
	FamilyID string    `json:"fam,omitempty"`
	Sequence uint64    `json:"seq,omitempty"`
	Purpose  string    `json:"purpose,omitempty"`
	Email    string    `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Validate runs after the registered-claim checks.
func (c *Claims) Validate() error {
	if !c.Type.valid() {
		return fmt.Errorf("unknown token type %q", c.Type)
	}
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("missing subject")
	}
	if c.ID == "" {
		return errors.New("missing jti")
	}
	switch c.Type {
	case TypeRefresh:
		if c.FamilyID == "" {
			return errors.New("refresh token without family")
		}
	case TypeOnboarding:
		if c.Purpose == "" {
			return errors.New("onboarding token without purpose")
		}
	}
	return nil
}

// Extra carries the type-specific claims for Issue.
type Extra struct {
	Scopes   []string
	FamilyID string
	Sequence uint64
	Purpose  string
	Email    string
}

// Config tunes issuance and verification.
type Config struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
	Clock    clock.Clock
}

// Codec signs and verifies tokens with a single key pair.
// Safe for concurrent use.
type Codec struct {
	pair   keys.SigningKeyPair
	method jwt.SigningMethod
	cfg    Config
	now    func() time.Time
}

// NewCodec binds the provider's current key pair.
func NewCodec(provider *keys.Provider, cfg Config) (*Codec, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil provider", keys.ErrKeyUnavailable)
	}
	if cfg.Leeway < 0 || cfg.Leeway > MaxLeeway {
		return nil, errors.New("invalid leeway configuration")
	}
	pair := provider.Current()
	var method jwt.SigningMethod
	switch pair.Algorithm {
	case keys.Ed25519:
		method = jwt.SigningMethodEdDSA
	case keys.RS256:
		method = jwt.SigningMethodRS256
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", keys.ErrKeyUnavailable, pair.Algorithm)
	}
	return &Codec{
		pair:   pair,
		method: method,
		cfg:    cfg,
		now:    clock.Func(cfg.Clock),
	}, nil
}

// Issue signs a token of type typ for subject, valid for ttl from now.
func (c *Codec) Issue(subject string, typ TokenType, ttl time.Duration, extra Extra) (string, *Claims, error) {
	if ttl <= 0 {
		return "", nil, errors.New("token ttl must be positive")
	}
	if !typ.valid() {
		return "", nil, fmt.Errorf("unknown token type %q", typ)
	}
	now := c.now()
	claims := &Claims{
		Type:     typ,
		Scopes:   extra.Scopes,
		FamilyID: extra.FamilyID,
		Sequence: extra.Sequence,
		Purpose:  extra.Purpose,
		Email:    extra.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if c.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.cfg.Audience}
	}
	if err := claims.Validate(); err != nil {
		return "", nil, err
	}

	token := jwt.NewWithClaims(c.method, claims)
	token.Header["kid"] = c.pair.KeyID
	signed, err := token.SignedString(c.pair.Private)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", keys.ErrKeyUnavailable, err)
	}
	return signed, claims, nil
}

// Verify checks signature, algorithm, key id and time claims.
func (c *Codec) Verify(token string) (*Claims, error) {
	return c.parse(token, c.parserOptions()...)
}

// VerifyType is Verify plus a token-type check.
func (c *Codec) VerifyType(token string, typ TokenType) (*Claims, error) {
	claims, err := c.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Type != typ {
		return nil, fmt.Errorf("%w: expected %s token, got %s", ErrTokenMalformed, typ, claims.Type)
	}
	return claims, nil
}

// VerifyIgnoringExpiry enforces signature and structure but not the time
// claims. Used where an expired token must still identify its owner, such as
// logout.
func (c *Codec) VerifyIgnoringExpiry(token string, typ TokenType) (*Claims, error) {
	claims, err := c.parse(token,
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, err
	}
	if err := claims.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if claims.Type != typ {
		return nil, fmt.Errorf("%w: expected %s token, got %s", ErrTokenMalformed, typ, claims.Type)
	}
	return claims, nil
}

// KeyID returns the kid stamped on issued tokens.
func (c *Codec) KeyID() string {
	return c.pair.KeyID
}

func (c *Codec) parserOptions() []jwt.ParserOption {
	leeway := c.cfg.Leeway
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if leeway > 0 {
		options = append(options, jwt.WithLeeway(leeway))
	}
	if c.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.cfg.Issuer))
	}
	if c.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(c.cfg.Audience))
	}
	return options
}

func (c *Codec) parse(tokenStr string, options ...jwt.ParserOption) (*Claims, error) {
	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, c.keyFunc)
	if err != nil {
		return nil, classify(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func (c *Codec) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != c.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("missing kid")
	}
	if kid != c.pair.KeyID {
		return nil, errors.New("unknown kid")
	}
	return c.pair.Public, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
