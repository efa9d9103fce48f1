// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ParseExpireTime reads a TOKEN_EXPIRE_TIME value. "never", "0" and "" mean
// tokens carry no exp claim.
func ParseExpireTime(v string) (time.Duration, error) {
	if v == "never" || v == "0" || v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// Sessions signs and verifies session JWTs with an ed25519 key pair.
type Sessions struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration
	clock   clock.Clock
}

// NewSessions generates a fresh key pair. Tokens do not survive a restart.
func NewSessions(ttl time.Duration, clk clock.Clock) (*Sessions, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Sessions{private: priv, public: pub, ttl: ttl, clock: clk}, nil
}

// LoadSessions reads raw ed25519 keys from disk.
func LoadSessions(privatePath, publicPath string, ttl time.Duration, clk clock.Clock) (*Sessions, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ed25519 key size")
	}
	return &Sessions{
		private: ed25519.PrivateKey(privateKeyData),
		public:  ed25519.PublicKey(publicKeyData),
		ttl:     ttl,
		clock:   clk,
	}, nil
}

// Create signs a token with sub = userID. A zero ttl omits exp.
func (s *Sessions) Create(userID uuid.UUID) (string, error) {
	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:  userID.String(),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.private)
}

// Authenticate verifies tokenString and returns its subject.
func (s *Sessions) Authenticate(tokenString string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.public, nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return uuid.Nil, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return uuid.Nil, fmt.Errorf("invalid token")
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid sub in jwt: %w", err)
	}
	return id, nil
}
