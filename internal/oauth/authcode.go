package oauth

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgellow/mcp-relay/internal/crypto"
	"github.com/dgellow/mcp-relay/internal/idp"
)

// AuthorizationCode is the self-contained downstream code. Nothing is kept
// server side; decoding it is the only state. The binding fields and ID are
// only populated by a strict issuer.
type AuthorizationCode struct {
	ID                  string
	Identity            idp.Identity
	IssuedAt            time.Time
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
}

// authorizationCodeJSON is the wire form. Strings are carried as bytes so
// values that are not valid UTF-8 come back unchanged.
type authorizationCodeJSON struct {
	ID                  []byte    `json:"jti,omitempty"`
	Provider            []byte    `json:"provider"`
	Subject             []byte    `json:"sub"`
	FederatedID         []byte    `json:"federated_id,omitempty"`
	Email               []byte    `json:"email,omitempty"`
	Name                []byte    `json:"name,omitempty"`
	ResolvedAt          time.Time `json:"resolved_at"`
	IssuedAt            time.Time `json:"iat"`
	ClientID            []byte    `json:"client_id,omitempty"`
	RedirectURI         []byte    `json:"redirect_uri,omitempty"`
	CodeChallenge       []byte    `json:"code_challenge,omitempty"`
	CodeChallengeMethod []byte    `json:"code_challenge_method,omitempty"`
}

func (ac AuthorizationCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(authorizationCodeJSON{
		ID:                  []byte(ac.ID),
		Provider:            []byte(ac.Identity.Provider),
		Subject:             []byte(ac.Identity.Subject),
		FederatedID:         []byte(ac.Identity.FederatedID),
		Email:               []byte(ac.Identity.Email),
		Name:                []byte(ac.Identity.Name),
		ResolvedAt:          ac.Identity.ResolvedAt,
		IssuedAt:            ac.IssuedAt,
		ClientID:            []byte(ac.ClientID),
		RedirectURI:         []byte(ac.RedirectURI),
		CodeChallenge:       []byte(ac.CodeChallenge),
		CodeChallengeMethod: []byte(ac.CodeChallengeMethod),
	})
}

func (ac *AuthorizationCode) UnmarshalJSON(data []byte) error {
	var raw authorizationCodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*ac = AuthorizationCode{
		ID: string(raw.ID),
		Identity: idp.Identity{
			Provider:    string(raw.Provider),
			Subject:     string(raw.Subject),
			FederatedID: string(raw.FederatedID),
			Email:       string(raw.Email),
			Name:        string(raw.Name),
			ResolvedAt:  raw.ResolvedAt,
		},
		IssuedAt:            raw.IssuedAt,
		ClientID:            string(raw.ClientID),
		RedirectURI:         string(raw.RedirectURI),
		CodeChallenge:       string(raw.CodeChallenge),
		CodeChallengeMethod: string(raw.CodeChallengeMethod),
	}
	return nil
}

// CodeIssuerConfig configures a CodeIssuer
type CodeIssuerConfig struct {
	// Key adds an integrity tag to codes when set
	Key []byte
	// Strict binds codes to the requesting client, redirect URI and PKCE
	// challenge and gives each an ID for single-use tracking
	Strict bool
	// EnforceExpiry rejects codes older than TTL
	EnforceExpiry bool
	TTL           time.Duration
}

type CodeIssuer struct {
	codec         *crypto.Codec
	strict        bool
	enforceExpiry bool
	ttl           time.Duration
	now           func() time.Time
}

func NewCodeIssuer(cfg CodeIssuerConfig) *CodeIssuer {
	return &CodeIssuer{
		codec:         crypto.NewCodec(cfg.Key),
		strict:        cfg.Strict,
		enforceExpiry: cfg.EnforceExpiry,
		ttl:           cfg.TTL,
		now:           time.Now,
	}
}

func (c *CodeIssuer) Strict() bool {
	return c.strict
}

// ExpiresAt is when a code issued at issuedAt stops being redeemable. It is
// the zero time when code age is not enforced: the code never expires, so
// neither may its used marker.
func (c *CodeIssuer) ExpiresAt(issuedAt time.Time) time.Time {
	if !c.enforceExpiry {
		return time.Time{}
	}
	return issuedAt.Add(c.ttl)
}

// Issue encodes identity into a code. rs carries the downstream request
// the code answers; it is only embedded by a strict issuer.
func (c *CodeIssuer) Issue(identity idp.Identity, rs RelayState) (string, error) {
	code := AuthorizationCode{
		Identity: identity,
		IssuedAt: c.now().UTC(),
	}
	if c.strict {
		id, err := crypto.GenerateSecureToken()
		if err != nil {
			return "", err
		}
		code.ID = id
		code.ClientID = rs.ClientID
		code.RedirectURI = rs.RedirectURI
		code.CodeChallenge = rs.CodeChallenge
		code.CodeChallengeMethod = rs.CodeChallengeMethod
	}
	return c.codec.Encode(code)
}

// Redeem decodes a code. Without EnforceExpiry the issuance time is not checked.
func (c *CodeIssuer) Redeem(code string) (*AuthorizationCode, error) {
	if code == "" {
		return nil, ErrInvalidCode
	}
	var ac AuthorizationCode
	if err := c.codec.Decode(code, &ac); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	if ac.Identity.Subject == "" || ac.IssuedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing identity", ErrInvalidCode)
	}
	if c.enforceExpiry && c.now().After(ac.IssuedAt.Add(c.ttl)) {
		return nil, ErrCodeExpired
	}
	return &ac, nil
}

// RedeemRequest is what the token endpoint presents along with a code
type RedeemRequest struct {
	ClientID     string
	RedirectURI  string
	CodeVerifier string
}

// Verify checks a strict code's bindings against req. It is a no-op for a
// non-strict issuer.
func (c *CodeIssuer) Verify(ac *AuthorizationCode, req RedeemRequest) error {
	if !c.strict {
		return nil
	}
	if ac.ID == "" {
		return fmt.Errorf("%w: code carries no binding", ErrCodeMismatch)
	}
	if ac.ClientID != req.ClientID {
		return fmt.Errorf("%w: client_id", ErrCodeMismatch)
	}
	if ac.RedirectURI != req.RedirectURI {
		return fmt.Errorf("%w: redirect_uri", ErrCodeMismatch)
	}
	if ac.CodeChallenge != "" && !VerifyPKCE(req.CodeVerifier, ac.CodeChallenge, ac.CodeChallengeMethod) {
		return fmt.Errorf("%w: code_verifier", ErrCodeMismatch)
	}
	return nil
}
