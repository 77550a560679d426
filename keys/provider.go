package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrKeyUnavailable is returned when the signing key material is missing,
// unreadable or inconsistent.
var ErrKeyUnavailable = errors.New("signing key unavailable")

// Algorithm selects the asymmetric signature scheme.
type Algorithm string

const (
	// Ed25519 signs with EdDSA over Curve25519 (JWT alg "EdDSA").
	Ed25519 Algorithm = "ed25519"
	// RS256 signs with RSASSA-PKCS1-v1_5 using SHA-256.
	RS256 Algorithm = "rs256"
)

// MinRSABits is the smallest accepted RSA modulus.
const MinRSABits = 2048

// JWTAlg returns the JOSE algorithm name.
func (a Algorithm) JWTAlg() string {
	switch a {
	case RS256:
		return jwt.SigningMethodRS256.Alg()
	default:
		return jwt.SigningMethodEdDSA.Alg()
	}
}

// Valid reports whether a is a supported algorithm.
func (a Algorithm) Valid() bool {
	return a == Ed25519 || a == RS256
}

// Config describes where the key pair comes from. Inline PEM wins over paths.
// The public key may be omitted; it is then derived from the private key.
type Config struct {
	Algorithm      Algorithm `toml:"algorithm" env:"ALGORITHM"`
	PrivateKeyPath string    `toml:"private_key_path" env:"PRIVATE_KEY_PATH"`
	PublicKeyPath  string    `toml:"public_key_path" env:"PUBLIC_KEY_PATH"`
	KeyID          string    `toml:"key_id" env:"KEY_ID"`
	PrivateKeyPEM  []byte    `toml:"-"`
	PublicKeyPEM   []byte    `toml:"-"`
}

// SigningKeyPair is the active key material.
type SigningKeyPair struct {
	Algorithm Algorithm
	KeyID     string
	Private   crypto.Signer
	Public    crypto.PublicKey
}

// Provider hands out the loaded pair. Safe for concurrent use.
type Provider struct {
	pair SigningKeyPair
}

// New validates pair and wraps it in a Provider. An empty KeyID is replaced by
// the public key thumbprint.
func New(pair SigningKeyPair) (*Provider, error) {
	if !pair.Algorithm.Valid() {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrKeyUnavailable, pair.Algorithm)
	}
	if pair.Private == nil {
		return nil, fmt.Errorf("%w: private key missing", ErrKeyUnavailable)
	}
	if pair.Public == nil {
		pair.Public = pair.Private.Public()
	}
	if err := checkPair(pair); err != nil {
		return nil, err
	}
	pair.KeyID = strings.TrimSpace(pair.KeyID)
	if pair.KeyID == "" {
		kid, err := Thumbprint(pair.Public)
		if err != nil {
			return nil, err
		}
		pair.KeyID = kid
	}
	return &Provider{pair: pair}, nil
}

// Load reads the pair described by cfg.
func Load(cfg Config) (*Provider, error) {
	alg := cfg.Algorithm
	if alg == "" {
		alg = Ed25519
	}
	privPEM, err := material(cfg.PrivateKeyPEM, cfg.PrivateKeyPath, "private")
	if err != nil {
		return nil, err
	}
	if len(privPEM) == 0 {
		return nil, fmt.Errorf("%w: no private key configured", ErrKeyUnavailable)
	}
	pubPEM, err := material(cfg.PublicKeyPEM, cfg.PublicKeyPath, "public")
	if err != nil {
		return nil, err
	}

	pair := SigningKeyPair{Algorithm: alg, KeyID: cfg.KeyID}
	switch alg {
	case Ed25519:
		priv, err := parseEdPrivateKey(privPEM)
		if err != nil {
			return nil, err
		}
		pair.Private = priv
		if len(pubPEM) > 0 {
			pub, err := parseEdPublicKey(pubPEM)
			if err != nil {
				return nil, err
			}
			pair.Public = pub
		}
	case RS256:
		priv, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid rsa private key: %v", ErrKeyUnavailable, err)
		}
		pair.Private = priv
		if len(pubPEM) > 0 {
			pub, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid rsa public key: %v", ErrKeyUnavailable, err)
			}
			pair.Public = pub
		}
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrKeyUnavailable, alg)
	}
	return New(pair)
}

// Current returns the active pair.
func (p *Provider) Current() SigningKeyPair {
	return p.pair
}

// Generate creates a fresh pair for alg.
func Generate(alg Algorithm) (SigningKeyPair, error) {
	switch alg {
	case Ed25519, "":
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return SigningKeyPair{}, err
		}
		return SigningKeyPair{Algorithm: Ed25519, Private: priv, Public: pub}, nil
	case RS256:
		priv, err := rsa.GenerateKey(rand.Reader, MinRSABits)
		if err != nil {
			return SigningKeyPair{}, err
		}
		return SigningKeyPair{Algorithm: RS256, Private: priv, Public: &priv.PublicKey}, nil
	default:
		return SigningKeyPair{}, fmt.Errorf("%w: unsupported algorithm %q", ErrKeyUnavailable, alg)
	}
}

// EncodePEM renders the pair as PKCS#8 private and PKIX public PEM blocks.
func EncodePEM(pair SigningKeyPair) (privPEM, pubPEM []byte, err error) {
	privDER, err := x509.MarshalPKCS8PrivateKey(pair.Private)
	if err != nil {
		return nil, nil, err
	}
	pub := pair.Public
	if pub == nil {
		pub = pair.Private.Public()
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, nil, err
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privPEM, pubPEM, nil
}

// Thumbprint returns a short stable identifier for pub.
func Thumbprint(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:])[:16], nil
}

func material(inline []byte, path, kind string) ([]byte, error) {
	if len(inline) > 0 {
		return inline, nil
	}
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s key: %v", ErrKeyUnavailable, kind, err)
	}
	return raw, nil
}

func checkPair(pair SigningKeyPair) error {
	switch pair.Algorithm {
	case Ed25519:
		priv, ok := pair.Private.(ed25519.PrivateKey)
		if !ok {
			return fmt.Errorf("%w: private key is not ed25519", ErrKeyUnavailable)
		}
		pub, ok := pair.Public.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("%w: public key is not ed25519", ErrKeyUnavailable)
		}
		if !pub.Equal(priv.Public()) {
			return fmt.Errorf("%w: public key does not match private key", ErrKeyUnavailable)
		}
	case RS256:
		priv, ok := pair.Private.(*rsa.PrivateKey)
		if !ok {
			return fmt.Errorf("%w: private key is not rsa", ErrKeyUnavailable)
		}
		pub, ok := pair.Public.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: public key is not rsa", ErrKeyUnavailable)
		}
		if priv.N.BitLen() < MinRSABits {
			return fmt.Errorf("%w: rsa key shorter than %d bits", ErrKeyUnavailable, MinRSABits)
		}
		if !pub.Equal(&priv.PublicKey) {
			return fmt.Errorf("%w: public key does not match private key", ErrKeyUnavailable)
		}
	}
	return nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 private key", ErrKeyUnavailable)
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 private key type", ErrKeyUnavailable)
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 public key", ErrKeyUnavailable)
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 public key type", ErrKeyUnavailable)
	}
	return edKey, nil
}
