package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/mcp-relay/internal/idp"
	jsonwriter "github.com/dgellow/mcp-relay/internal/json"
	"github.com/dgellow/mcp-relay/internal/log"
	"github.com/dgellow/mcp-relay/internal/oauth"
	"github.com/dgellow/mcp-relay/internal/storage"
	"github.com/dgellow/mcp-relay/internal/urlutil"
)

const maxRegistrationBody = 64 << 10

// CodeMarker records redeemed authorization codes for strict mode
type CodeMarker interface {
	MarkCodeUsed(ctx context.Context, codeID string, expiresAt time.Time) (bool, error)
}

// AuthDeps are the collaborators of the OAuth endpoints
type AuthDeps struct {
	// Issuer is the relay's public base URL
	Issuer string
	// ResourcePath is where the protected MCP endpoint is mounted
	ResourcePath string

	Clients   storage.ClientRegistry
	Relay     *oauth.Relay
	States    *oauth.StateCodec
	Exchanger idp.CodeExchanger
	Resolver  idp.Resolver
	Codes     *oauth.CodeIssuer
	Tokens    *oauth.TokenIssuer
	UsedCodes CodeMarker
}

// AuthHandlers provides the OAuth HTTP handlers
type AuthHandlers struct {
	deps AuthDeps
	now  func() time.Time
}

func NewAuthHandlers(deps AuthDeps) *AuthHandlers {
	return &AuthHandlers{deps: deps, now: time.Now}
}

// WellKnownHandler serves OAuth 2.0 Authorization Server Metadata (RFC 8414)
func (h *AuthHandlers) WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	metadata, err := oauth.AuthorizationServerMetadata(h.deps.Issuer)
	if err != nil {
		log.LogError("Failed to build authorization server metadata: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}
	if err := jsonwriter.Write(w, metadata); err != nil {
		log.LogError("Failed to encode well-known metadata: %v", err)
	}
}

// ProtectedResourceMetadataHandler serves OAuth 2.0 Protected Resource Metadata (RFC 9728)
func (h *AuthHandlers) ProtectedResourceMetadataHandler(w http.ResponseWriter, r *http.Request) {
	metadata, err := oauth.ProtectedResourceMetadata(h.deps.Issuer, h.deps.ResourcePath)
	if err != nil {
		log.LogError("Failed to build protected resource metadata: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}
	if err := jsonwriter.Write(w, metadata); err != nil {
		log.LogError("Failed to encode protected resource metadata: %v", err)
	}
}

// RegisterHandler handles dynamic client registration (RFC 7591)
func (h *AuthHandlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonwriter.WriteError(w, http.StatusMethodNotAllowed, string(oauth.ErrInvalidRequest), "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRegistrationBody))
	if err != nil {
		jsonwriter.WriteBadRequest(w, "unreadable request body")
		return
	}

	client, err := oauth.RegisterClient(r.Context(), h.deps.Clients, body, h.now())
	if errors.Is(err, oauth.ErrMalformedRequest) {
		log.LogDebug("Rejected registration: %v", err)
		jsonwriter.WriteBadRequest(w, "malformed registration request")
		return
	}
	if err != nil {
		log.LogError("Client registration failed: %v", err)
		jsonwriter.WriteInternalServerError(w, "failed to register client")
		return
	}

	if err := jsonwriter.WriteResponse(w, http.StatusCreated, oauth.BuildClientMetadata(client)); err != nil {
		log.LogError("Failed to encode registration response: %v", err)
	}
}

// AuthorizeHandler starts the downstream flow and redirects upstream
func (h *AuthHandlers) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, err := h.deps.Relay.AuthorizeURL(r.Context(), oauth.AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		State:               q.Get("state"),
		Scope:               q.Get("scope"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	})
	switch {
	case errors.Is(err, oauth.ErrMissingParameter):
		http.Error(w, "Missing required parameters: client_id and redirect_uri", http.StatusBadRequest)
		return
	case errors.Is(err, oauth.ErrUnknownClient):
		http.Error(w, "Unknown client", http.StatusUnauthorized)
		return
	case err != nil:
		log.LogError("Authorize request failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// CallbackHandler receives the upstream redirect, resolves the identity and
// sends the downstream client its own code
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if upstreamErr := q.Get("error"); upstreamErr != "" {
		log.LogWarnWithFields("oauth", "Upstream returned an error", map[string]any{
			"error":             upstreamErr,
			"error_description": q.Get("error_description"),
		})
		http.Error(w, "Authentication failed: "+upstreamErr, http.StatusBadRequest)
		return
	}

	code, rawState := q.Get("code"), q.Get("state")
	if code == "" || rawState == "" {
		http.Error(w, "Missing code or state parameter", http.StatusBadRequest)
		return
	}

	rs, err := h.deps.States.Decode(rawState)
	if err != nil {
		log.LogDebug("Rejected callback state: %v", err)
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}
	redirectURI, err := urlutil.ParseAbsolute(rs.RedirectURI)
	if err != nil {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	upstreamToken, err := h.deps.Exchanger.Exchange(ctx, code)
	if err != nil {
		h.callbackFailure(w, "Upstream token exchange failed", err)
		return
	}

	identity, err := h.deps.Resolver.Resolve(ctx, upstreamToken)
	if err != nil {
		h.callbackFailure(w, "Identity resolution failed", err)
		return
	}

	downstreamCode, err := h.deps.Codes.Issue(*identity, rs)
	if err != nil {
		h.callbackFailure(w, "Failed to issue authorization code", err)
		return
	}

	log.LogInfoWithFields("oauth", "Issued authorization code", map[string]any{
		"client_id":    rs.ClientID,
		"provider":     identity.Provider,
		"sub":          identity.Subject,
		"federated_id": identity.FederatedID,
	})

	target := urlutil.WithQuery(redirectURI, url.Values{
		"code":  {downstreamCode},
		"state": {rs.State},
	})
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *AuthHandlers) callbackFailure(w http.ResponseWriter, message string, err error) {
	fields := map[string]any{"error": err.Error()}
	var statusErr *idp.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode != 0 {
		fields["upstream_status"] = statusErr.StatusCode
	}
	log.LogErrorWithFields("oauth", message, fields)
	http.Error(w, message, http.StatusInternalServerError)
}

// TokenHandler redeems a downstream code for a bearer token
func (h *AuthHandlers) TokenHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodPost {
		h.tokenError(w, http.StatusBadRequest, oauth.ErrInvalidRequest, "token requests must be POST")
		return
	}
	if err := r.ParseForm(); err != nil {
		h.tokenError(w, http.StatusBadRequest, oauth.ErrInvalidRequest, "malformed form body")
		return
	}

	if r.PostForm.Get("grant_type") != "authorization_code" {
		h.tokenError(w, http.StatusBadRequest, oauth.ErrInvalidRequest, "grant_type must be authorization_code")
		return
	}

	clientID := r.PostForm.Get("client_id")
	client, err := h.lookupClient(ctx, clientID)
	if errors.Is(err, storage.ErrClientNotFound) {
		h.tokenError(w, http.StatusUnauthorized, oauth.ErrInvalidClient, "unknown client")
		return
	}
	if err != nil {
		log.LogError("Client lookup failed: %v", err)
		h.tokenError(w, http.StatusInternalServerError, oauth.ErrServerError, "")
		return
	}

	code := r.PostForm.Get("code")
	if code == "" {
		h.tokenError(w, http.StatusBadRequest, oauth.ErrInvalidRequest, "missing code")
		return
	}

	ac, err := h.deps.Codes.Redeem(code)
	if err != nil {
		log.LogDebug("Rejected authorization code: %v", err)
		h.tokenError(w, http.StatusBadRequest, oauth.ErrInvalidGrant, "invalid authorization code")
		return
	}

	if h.deps.Codes.Strict() {
		if err := h.checkStrictCode(ctx, ac, r); err != nil {
			if errors.Is(err, oauth.ErrCodeMismatch) || errors.Is(err, oauth.ErrCodeReused) {
				log.LogWarnWithFields("oauth", "Rejected authorization code", map[string]any{
					"client_id": clientID,
					"reason":    err.Error(),
				})
				h.tokenError(w, http.StatusBadRequest, oauth.ErrInvalidGrant, err.Error())
				return
			}
			log.LogError("Recording code redemption failed: %v", err)
			h.tokenError(w, http.StatusInternalServerError, oauth.ErrServerError, "")
			return
		}
	}

	resp, err := h.deps.Tokens.Issue(ctx, ac.Identity, client.GetID(), client.Scope)
	if err != nil {
		log.LogError("Token issuance failed: %v", err)
		h.tokenError(w, http.StatusInternalServerError, oauth.ErrServerError, "")
		return
	}

	log.LogInfoWithFields("oauth", "Issued access token", map[string]any{
		"client_id": client.GetID(),
		"sub":       ac.Identity.Subject,
	})
	oauth.WriteTokenResponse(w, resp)
}

func (h *AuthHandlers) lookupClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if clientID == "" {
		return nil, storage.ErrClientNotFound
	}
	return h.deps.Clients.GetClient(ctx, clientID)
}

func (h *AuthHandlers) checkStrictCode(ctx context.Context, ac *oauth.AuthorizationCode, r *http.Request) error {
	err := h.deps.Codes.Verify(ac, oauth.RedeemRequest{
		ClientID:     r.PostForm.Get("client_id"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
	})
	if err != nil {
		return err
	}

	first, err := h.deps.UsedCodes.MarkCodeUsed(ctx, ac.ID, h.deps.Codes.ExpiresAt(ac.IssuedAt))
	if err != nil {
		return fmt.Errorf("marking code used: %w", err)
	}
	if !first {
		return oauth.ErrCodeReused
	}
	return nil
}

func (h *AuthHandlers) tokenError(w http.ResponseWriter, status int, code oauth.ErrorCode, description string) {
	oauth.WriteTokenError(w, status, oauth.NewOAuthError(code, description))
}
