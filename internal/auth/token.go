// Package auth verifies the bearer tokens the platform issues for API calls.
// Tokens are a base64url JSON payload and an HMAC-SHA256 signature joined
// by a dot.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"nexus/manuals/internal/util"
)

type Claims struct {
	Sub        string `json:"sub"`
	Name       string `json:"name"`
	CompanyID  string `json:"companyId,omitempty"`
	GlobalRole string `json:"globalRole,omitempty"`
	JTI        string `json:"jti"`
	Exp        int64  `json:"exp"`
}

// Identity is the caller as seen by handlers and services.
type Identity struct {
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	CompanyID  string `json:"companyId,omitempty"`
	GlobalRole string `json:"globalRole,omitempty"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for identity valid for ttl. Used by the operator CLI
// and tests; production tokens come from the platform's sign-in service.
func (v *Verifier) Issue(identity Identity, ttl time.Duration) (string, error) {
	claims := Claims{
		Sub:        identity.UserID,
		Name:       identity.UserName,
		CompanyID:  identity.CompanyID,
		GlobalRole: identity.GlobalRole,
		JTI:        util.NewID("jti"),
		Exp:        v.now().Add(ttl).Unix(),
	}
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return payload + "." + v.sign(payload), nil
}

func (v *Verifier) Verify(token string) (Identity, error) {
	payload, signature, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || payload == "" || strings.Contains(signature, ".") {
		return Identity{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(v.sign(payload))) {
		return Identity{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Identity{}, ErrInvalidToken
	}
	if claims.Sub == "" || claims.JTI == "" || claims.Exp == 0 {
		return Identity{}, ErrInvalidToken
	}
	if v.now().Unix() >= claims.Exp {
		return Identity{}, ErrExpiredToken
	}
	return Identity{
		UserID:     claims.Sub,
		UserName:   claims.Name,
		CompanyID:  claims.CompanyID,
		GlobalRole: claims.GlobalRole,
	}, nil
}

func (v *Verifier) sign(payload string) string {
	sum := hmac.New(sha256.New, v.secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}
