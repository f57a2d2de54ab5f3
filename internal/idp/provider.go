package idp

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Identity is the subject resolved from an upstream login.
// FederatedID is only set by the federated resolver, where it is mandatory.
type Identity struct {
	Provider    string    `json:"provider"`
	Subject     string    `json:"sub"`
	FederatedID string    `json:"federated_id,omitempty"`
	Email       string    `json:"email,omitempty"`
	Name        string    `json:"name,omitempty"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// AuthorizeURLBuilder builds the upstream authorization redirect.
type AuthorizeURLBuilder interface {
	// AuthorizeURL returns the upstream authorize URL carrying state. An
	// empty scope selects the configured default.
	AuthorizeURL(state, scope string) string
}

// CodeExchanger trades an upstream authorization code for upstream tokens.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// Resolver turns upstream tokens into an Identity. No partial identity is
// ever returned alongside an error.
type Resolver interface {
	Resolve(ctx context.Context, token *oauth2.Token) (*Identity, error)
}

// IDToken returns the id_token delivered with an upstream token response.
func IDToken(token *oauth2.Token) string {
	if token == nil {
		return ""
	}
	idToken, _ := token.Extra("id_token").(string)
	return idToken
}
