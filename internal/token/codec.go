package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid is returned for any token that fails validation; callers get no
// detail about which check failed.
var ErrInvalid = errors.New("invalid token")

// payload is the signed claim set.
type payload struct {
	Identity string `json:"identity"`
	Expiry   int64  `json:"expiry"` // epoch seconds
}

// Codec issues and validates stateless capability tokens. A token is
// base64url(json{identity,expiry}) + "." + hex(HMAC-SHA256(json)). No
// server-side record is kept, so tokens cannot be revoked before expiry.
type Codec struct {
	secret  []byte
	nowFunc func() time.Time
}

// NewCodec returns a Codec signing with secret.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	return &Codec{
		secret:  []byte(secret),
		nowFunc: time.Now,
	}, nil
}

// Issue returns a token for identity valid for ttl.
func (c *Codec) Issue(identity string, ttl time.Duration) (string, error) {
	if identity == "" {
		return "", errors.New("identity must not be empty")
	}
	body, err := json.Marshal(payload{
		Identity: identity,
		Expiry:   c.nowFunc().Add(ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(body) + "." + c.sign(body), nil
}

// Validate checks structure, signature and expiry, in that order, and returns
// the identity the token was issued for. All three checks are mandatory;
// any failure yields ErrInvalid.
func (c *Codec) Validate(tok string) (string, error) {
	part, sig, ok := strings.Cut(tok, ".")
	if !ok || part == "" || sig == "" {
		return "", ErrInvalid
	}
	body, err := base64.RawURLEncoding.DecodeString(part)
	if err != nil {
		return "", ErrInvalid
	}
	if !hmac.Equal([]byte(c.sign(body)), []byte(sig)) {
		return "", ErrInvalid
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", ErrInvalid
	}
	if p.Identity == "" || p.Expiry < c.nowFunc().Unix() {
		return "", ErrInvalid
	}
	return p.Identity, nil
}

func (c *Codec) sign(body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
