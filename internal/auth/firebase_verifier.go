package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

const (
	claimEmail         = "email"
	claimEmailVerified = "email_verified"
	claimName          = "name"
	defaultProviderTag = "firebase"
)

var (
	errMissingFirebaseClient = errors.New("firebase verifier: client required")
	// ErrInvalidIDToken indicates a provider ID token failed verification.
	ErrInvalidIDToken = errors.New("auth: invalid id token")
)

// IdentityClaims is the verified identity carried by a provider ID token.
type IdentityClaims struct {
	Provider      string
	Subject       string
	Email         string
	// EmailVerified reports whether the provider confirmed ownership of Email.
	EmailVerified bool
	DisplayName   string
}

// IDTokenVerifier verifies Firebase ID tokens. *firebaseauth.Client satisfies it.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier exchanges Firebase ID tokens for identity claims.
type FirebaseVerifier struct {
	client IDTokenVerifier
}

// NewFirebaseVerifier constructs a verifier over the Firebase auth client.
func NewFirebaseVerifier(client IDTokenVerifier) (*FirebaseVerifier, error) {
	if client == nil {
		return nil, errMissingFirebaseClient
	}
	return &FirebaseVerifier{client: client}, nil
}

// Verify validates idToken and returns the identity it asserts.
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (IdentityClaims, error) {
	if strings.TrimSpace(idToken) == "" {
		return IdentityClaims{}, ErrInvalidIDToken
	}
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return IdentityClaims{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	if token == nil || token.UID == "" {
		return IdentityClaims{}, ErrInvalidIDToken
	}

	provider := defaultProviderTag
	if token.Firebase.SignInProvider != "" {
		provider = token.Firebase.SignInProvider
	}
	return IdentityClaims{
		Provider:      provider,
		Subject:       token.UID,
		Email:         stringClaim(token.Claims, claimEmail),
		EmailVerified: boolClaim(token.Claims, claimEmailVerified),
		DisplayName:   stringClaim(token.Claims, claimName),
	}, nil
}

func stringClaim(claims map[string]interface{}, key string) string {
	value, ok := claims[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func boolClaim(claims map[string]interface{}, key string) bool {
	value, ok := claims[key].(bool)
	return ok && value
}
