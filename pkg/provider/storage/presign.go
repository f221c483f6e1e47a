package storage

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Presign methods for token claims.
const (
	PresignMethodGet = "GET"
	PresignMethodPut = "PUT"
)

// PresignClaims are the claims embedded in a presigned URL token for
// adapters without a native signing scheme.
type PresignClaims struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Method string `json:"method"`
	jwt.RegisteredClaims
}

// PresignSigner issues and verifies HS256-signed presign tokens. The
// memory, filesystem, vfs and sqlite adapters embed these tokens in their
// memory:// / file:// / sqlite:// URLs; pkg/api redeems them over HTTP.
type PresignSigner struct {
	secret []byte
}

// NewPresignSigner creates a signer with the given secret. A nil or empty
// secret gets a fresh random one, which limits token validity to this
// process.
func NewPresignSigner(secret []byte) *PresignSigner {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic("storage: rand.Read: " + err.Error())
		}
	}
	return &PresignSigner{secret: secret}
}

// defaultSigner is shared by all local adapters in this process so that a
// URL presigned by one provider instance can be redeemed through pkg/api.
var defaultSigner = NewPresignSigner(nil)

// DefaultSigner returns the process-wide presign signer.
func DefaultSigner() *PresignSigner {
	return defaultSigner
}

// SignURL builds "{scheme}://{bucket}/{key}?token={jwt}" authorizing one
// method on one object for the given duration.
func (s *PresignSigner) SignURL(scheme, bucket, key, method string, expires time.Duration) (string, error) {
	now := time.Now()
	claims := PresignClaims{
		Bucket: bucket,
		Key:    key,
		Method: method,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expires)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign presign token: %w", err)
	}
	// Part-upload keys already carry a query string with their upload
	// coordinates; the token joins it instead of starting a second one.
	sep := "?"
	if strings.Contains(key, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s://%s/%s%stoken=%s", scheme, bucket, key, sep, url.QueryEscape(token)), nil
}

// VerifyToken parses and validates a presign token, returning its claims.
func (s *PresignSigner) VerifyToken(token string) (*PresignClaims, error) {
	claims := &PresignClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid presign token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid presign token")
	}
	return claims, nil
}

// VerifyURL validates a presigned URL produced by SignURL and checks that
// its claims authorize method on bucket/key.
func (s *PresignSigner) VerifyURL(raw, method string) (*PresignClaims, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid presigned url: %w", err)
	}
	claims, err := s.VerifyToken(u.Query().Get("token"))
	if err != nil {
		return nil, err
	}
	if claims.Method != method {
		return nil, fmt.Errorf("presign token authorizes %s, not %s", claims.Method, method)
	}
	return claims, nil
}
