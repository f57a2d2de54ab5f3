package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrBadSignature     = errors.New("invalid signature")
)

// Codec turns a JSON document into a single URL-safe token and back.
//
// Without a key the token is the unpadded base64url encoding of the JSON
// and anyone can read or forge it. With a key an HMAC-SHA256 tag is appended
// as "<payload>.<tag>" and checked on Decode.
type Codec struct {
	key []byte
}

// NewCodec returns a codec. A nil or empty key produces a transparent codec.
func NewCodec(key []byte) *Codec {
	if len(key) == 0 {
		return &Codec{}
	}
	return &Codec{key: key}
}

// Signed reports whether tokens carry an integrity tag
func (c *Codec) Signed() bool {
	return len(c.key) > 0
}

func (c *Codec) Encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	if !c.Signed() {
		return payload, nil
	}
	return payload + "." + c.tag(payload), nil
}

func (c *Codec) Decode(token string, v any) error {
	payload := token
	if c.Signed() {
		p, tag, ok := strings.Cut(token, ".")
		if !ok {
			return ErrBadSignature
		}
		if !hmac.Equal([]byte(tag), []byte(c.tag(p))) {
			return ErrBadSignature
		}
		payload = p
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func (c *Codec) tag(payload string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// DeriveKey expands secret into a 32-byte key bound to label, so state and
// codes signed from one secret cannot be swapped for each other.
func DeriveKey(secret []byte, label string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, nil
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte(label))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive %s key: %w", label, err)
	}
	return key, nil
}
