package oauth

import (
	"testing"
	"time"

	"github.com/dgellow/mcp-relay/internal/idp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIdentity = idp.Identity{
	Provider:   "cognito",
	Subject:    "u1",
	Email:      "a@b.com",
	Name:       "Ada",
	ResolvedAt: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
}

func TestCodeIssuer_RoundTrip(t *testing.T) {
	identities := []idp.Identity{
		testIdentity,
		{Provider: "cognito", Subject: "google_1234", FederatedID: "us-east-1:5f1c2a7e", Email: "x@y.z", ResolvedAt: time.Unix(0, 1).UTC()},
		{Provider: "oidc", Subject: "only-sub", ResolvedAt: time.Unix(1700000000, 0).UTC()},
		{Provider: "oidc", Subject: "s\xff\xfe", Name: "bad \xc3 utf8", ResolvedAt: time.Unix(1700000000, 0).UTC()},
	}

	for _, cfg := range []CodeIssuerConfig{
		{},
		{Key: []byte("0123456789abcdef0123456789abcdef")},
		{Strict: true, TTL: time.Minute},
	} {
		issuer := NewCodeIssuer(cfg)
		for _, id := range identities {
			code, err := issuer.Issue(id, RelayState{ClientID: "c", RedirectURI: "https://example.test/cb"})
			require.NoError(t, err)

			ac, err := issuer.Redeem(code)
			require.NoError(t, err)
			assert.Equal(t, id, ac.Identity)
		}
	}
}

func TestCodeIssuer_StrictBindingKeepsRawBytes(t *testing.T) {
	issuer := NewCodeIssuer(CodeIssuerConfig{Strict: true, TTL: time.Minute})
	rs := RelayState{ClientID: "c\xff", RedirectURI: "https://example.test/cb?x=\xfe", CodeChallenge: "ch\x80"}

	code, err := issuer.Issue(testIdentity, rs)
	require.NoError(t, err)
	ac, err := issuer.Redeem(code)
	require.NoError(t, err)

	assert.Equal(t, []byte(rs.ClientID), []byte(ac.ClientID))
	assert.Equal(t, []byte(rs.RedirectURI), []byte(ac.RedirectURI))
	assert.Equal(t, []byte(rs.CodeChallenge), []byte(ac.CodeChallenge))
}

func TestCodeIssuer_DefaultIsUnbound(t *testing.T) {
	issuer := NewCodeIssuer(CodeIssuerConfig{TTL: time.Minute})
	code, err := issuer.Issue(testIdentity, RelayState{ClientID: "c1", RedirectURI: "https://a.test/cb"})
	require.NoError(t, err)

	ac, err := issuer.Redeem(code)
	require.NoError(t, err)
	assert.Empty(t, ac.ID)
	assert.Empty(t, ac.ClientID)

	// any client, any redirect, repeatedly
	assert.NoError(t, issuer.Verify(ac, RedeemRequest{ClientID: "other"}))
	_, err = issuer.Redeem(code)
	assert.NoError(t, err)

	// no expiry check without EnforceExpiry
	issuer.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	_, err = issuer.Redeem(code)
	assert.NoError(t, err)
}

func TestCodeIssuer_RedeemErrors(t *testing.T) {
	issuer := NewCodeIssuer(CodeIssuerConfig{})

	for _, code := range []string{"", "garbage!", "e30", "bm90LWpzb24"} {
		_, err := issuer.Redeem(code)
		assert.ErrorIs(t, err, ErrInvalidCode, "code %q", code)
	}
}

func TestCodeIssuer_EnforceExpiry(t *testing.T) {
	issuer := NewCodeIssuer(CodeIssuerConfig{EnforceExpiry: true, TTL: 10 * time.Minute})
	code, err := issuer.Issue(testIdentity, RelayState{})
	require.NoError(t, err)

	_, err = issuer.Redeem(code)
	assert.NoError(t, err)

	issuer.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	_, err = issuer.Redeem(code)
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestCodeIssuer_SignedRejectsForgery(t *testing.T) {
	issuer := NewCodeIssuer(CodeIssuerConfig{Key: []byte("0123456789abcdef0123456789abcdef")})
	forged, err := NewCodeIssuer(CodeIssuerConfig{}).Issue(testIdentity, RelayState{})
	require.NoError(t, err)

	_, err = issuer.Redeem(forged)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestCodeIssuer_StrictBinding(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	rs := RelayState{
		ClientID:            "c1",
		RedirectURI:         "https://a.test/cb",
		CodeChallenge:       "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CodeChallengeMethod: PKCEMethodS256,
	}

	issuer := NewCodeIssuer(CodeIssuerConfig{Strict: true, TTL: time.Minute})
	code, err := issuer.Issue(testIdentity, rs)
	require.NoError(t, err)

	ac, err := issuer.Redeem(code)
	require.NoError(t, err)
	assert.NotEmpty(t, ac.ID)

	tests := []struct {
		name    string
		req     RedeemRequest
		wantErr bool
	}{
		{name: "matching", req: RedeemRequest{ClientID: "c1", RedirectURI: "https://a.test/cb", CodeVerifier: verifier}},
		{name: "other client", req: RedeemRequest{ClientID: "c2", RedirectURI: "https://a.test/cb", CodeVerifier: verifier}, wantErr: true},
		{name: "other redirect", req: RedeemRequest{ClientID: "c1", RedirectURI: "https://b.test/cb", CodeVerifier: verifier}, wantErr: true},
		{name: "wrong verifier", req: RedeemRequest{ClientID: "c1", RedirectURI: "https://a.test/cb", CodeVerifier: "nope"}, wantErr: true},
		{name: "missing verifier", req: RedeemRequest{ClientID: "c1", RedirectURI: "https://a.test/cb"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := issuer.Verify(ac, tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCodeMismatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("unbound code presented to strict issuer", func(t *testing.T) {
		loose, err := NewCodeIssuer(CodeIssuerConfig{}).Issue(testIdentity, rs)
		require.NoError(t, err)
		lac, err := issuer.Redeem(loose)
		require.NoError(t, err)
		assert.ErrorIs(t, issuer.Verify(lac, RedeemRequest{ClientID: "c1", RedirectURI: "https://a.test/cb"}), ErrCodeMismatch)
	})
}

func TestCodeIssuer_ExpiresAt(t *testing.T) {
	issued := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	enforced := NewCodeIssuer(CodeIssuerConfig{Strict: true, EnforceExpiry: true, TTL: 10 * time.Minute})
	assert.Equal(t, issued.Add(10*time.Minute), enforced.ExpiresAt(issued))

	// without age checks a code is redeemable forever, so it never expires
	unenforced := NewCodeIssuer(CodeIssuerConfig{Strict: true, TTL: 10 * time.Minute})
	assert.True(t, unenforced.ExpiresAt(issued).IsZero())
}
