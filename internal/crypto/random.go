package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	clientIDPrefix    = "mcp_client_"
	clientIDSuffixLen = 9
	lowerAlnum        = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// GenerateSecureToken returns 32 random bytes, base64url encoded without padding
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateClientID returns mcp_client_<unix-millis>_<9 lowercase alnum>.
// The millisecond prefix keeps ids ordered; the suffix separates ids minted
// within the same millisecond.
func GenerateClientID(now time.Time) (string, error) {
	suffix, err := randomString(clientIDSuffixLen, lowerAlnum)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(clientIDPrefix)
	sb.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	sb.WriteByte('_')
	sb.WriteString(suffix)
	return sb.String(), nil
}

// GenerateAccessToken joins two independent 16-byte random components as hex
func GenerateAccessToken() (string, error) {
	a := make([]byte, 16)
	b := make([]byte, 16)
	if _, err := rand.Read(a); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(a) + hex.EncodeToString(b), nil
}

func randomString(n int, alphabet string) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random index: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
