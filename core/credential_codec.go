package core

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strconv"
	"strings"
)

// Credential layout:
//
//	legacy:     <nonce>.<sig>
//	role-aware: <nonce>|<payload>.<sig>
//
// payload is "admin" or "partner:<id>", sig is the lowercase hex HMAC of
// everything before the final '.'.
const (
	nonceBytes       = 32
	payloadSeparator = "|"
	signatureMark    = "."
	identitySep      = ":"
)

// CredentialCodec signs principals into opaque strings and verifies them back.
// Verify reports ok=false for every malformed or tampered input.
type CredentialCodec interface {
	Sign(p Principal) (string, error)
	Verify(raw string) (Principal, bool)
}

// HMACCodec implements CredentialCodec with a keyed digest over a random
// nonce and the serialized principal.
type HMACCodec struct {
	key     []byte
	newHash func() hash.Hash
	random  io.Reader
}

// CodecOption customises an HMACCodec.
type CodecOption func(*HMACCodec)

// WithDigest swaps the hash used for the HMAC (sha256 by default).
func WithDigest(h func() hash.Hash) CodecOption {
	return func(c *HMACCodec) {
		if h != nil {
			c.newHash = h
		}
	}
}

// WithRandom replaces the nonce source (crypto/rand by default).
func WithRandom(r io.Reader) CodecOption {
	return func(c *HMACCodec) {
		if r != nil {
			c.random = r
		}
	}
}

// NewHMACCodec builds a codec keyed by cfg.SigningKey.
func NewHMACCodec(cfg SecurityConfig, opts ...CodecOption) *HMACCodec {
	c := &HMACCodec{
		key:     []byte(cfg.SigningKey),
		newHash: sha256.New,
		random:  rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sign returns a fresh credential for p. Two calls for the same principal
// never return the same string.
func (c *HMACCodec) Sign(p Principal) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	nonce := make([]byte, nonceBytes)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return "", fmt.Errorf("credential nonce: %w", err)
	}
	body := hex.EncodeToString(nonce) + payloadSeparator + encodePayload(p)
	return body + signatureMark + c.digest(body), nil
}

// Verify checks the signature of raw and decodes the principal it carries.
func (c *HMACCodec) Verify(raw string) (Principal, bool) {
	tok, ok := c.parse(raw)
	if !ok {
		return Principal{}, false
	}
	return tok.principal()
}

func (c *HMACCodec) digest(body string) string {
	mac := hmac.New(c.newHash, c.key)
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// signedToken is what a credential turns into once its signature checks out.
type signedToken interface {
	principal() (Principal, bool)
}

// legacyAdminToken predates role-aware credentials. Those were only ever
// issued to administrators, so they keep decoding as one.
type legacyAdminToken struct{}

func (legacyAdminToken) principal() (Principal, bool) {
	return AdministratorPrincipal(), true
}

type roleAwareToken struct {
	payload string
}

func (t roleAwareToken) principal() (Principal, bool) {
	return decodePayload(t.payload)
}

func (c *HMACCodec) parse(raw string) (signedToken, bool) {
	i := strings.LastIndex(raw, signatureMark)
	if i <= 0 || i == len(raw)-1 {
		return nil, false
	}
	body, sig := raw[:i], raw[i+1:]
	if !hmac.Equal([]byte(sig), []byte(c.digest(body))) {
		return nil, false
	}

	nonce, payload, roleAware := strings.Cut(body, payloadSeparator)
	if nonce == "" || strings.Contains(nonce, signatureMark) {
		return nil, false
	}
	if !roleAware {
		return legacyAdminToken{}, true
	}
	return roleAwareToken{payload: payload}, true
}

func encodePayload(p Principal) string {
	if p.Role == RoleBusinessPartner {
		return string(p.Role) + identitySep + strconv.FormatInt(p.IdentityID, 10)
	}
	return string(p.Role)
}

func decodePayload(payload string) (Principal, bool) {
	roleStr, idStr, hasID := strings.Cut(payload, identitySep)
	p := Principal{Role: Role(roleStr)}
	if hasID {
		if p.Role != RoleBusinessPartner {
			return Principal{}, false
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || strconv.FormatInt(id, 10) != idStr {
			return Principal{}, false
		}
		p.IdentityID = id
	}
	if p.validate() != nil {
		return Principal{}, false
	}
	return p, true
}
