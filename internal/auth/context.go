/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"context"

	"github.com/friendsincode/tandem/internal/models"
)

type contextKey string

const claimsContextKey contextKey = "tandemClaims"

// WithClaims attaches JWT claims to the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext retrieves JWT claims from context if present.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok && claims != nil
}

// ProfileFromContext returns the profile the request acts for, falling back
// to the default profile when the request carries no claims.
func ProfileFromContext(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok && claims.ProfileID != "" {
		return claims.ProfileID
	}
	return models.DefaultProfileID
}
