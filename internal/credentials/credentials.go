// Package credentials stores per (company, marketplace) marketplace API
// credentials.
package credentials

import (
	"context"
	"errors"
	"time"
)

// RefreshHorizon is how close to token expiry a credential is considered due
// for refresh.
const RefreshHorizon = 5 * time.Minute

// ErrNotFound is returned when no valid credentials exist for a pair.
var ErrNotFound = errors.New("credentials not found")

// Credentials holds one (company, marketplace) API credential. Secrets are
// opaque here; persistent stores keep them encrypted at rest.
type Credentials struct {
	CompanyID      string
	Marketplace    string
	ClientID       string
	Secret         string
	TokenExpiresAt *time.Time
	Active         bool
	UpdatedAt      time.Time
}

// IsValid reports whether the credential can be used for API calls.
func (c *Credentials) IsValid() bool {
	return c.Active && c.ClientID != "" && c.Secret != ""
}

// NeedsRefresh reports whether the token expires within RefreshHorizon of
// now. Credentials without an expiry never need refresh.
func (c *Credentials) NeedsRefresh(now time.Time) bool {
	if c.TokenExpiresAt == nil {
		return false
	}
	return c.TokenExpiresAt.Sub(now) <= RefreshHorizon
}

// Store is the persistence port for credentials. Credentials are only ever
// soft-deleted: sync audit history references their identity.
type Store interface {
	// FindValid returns the active, usable credential for a pair, or
	// ErrNotFound.
	FindValid(ctx context.Context, companyID, marketplace string) (*Credentials, error)

	// NeedsRefresh lists active credentials whose token expires within
	// RefreshHorizon of now.
	NeedsRefresh(ctx context.Context, now time.Time) ([]*Credentials, error)

	// Save creates or replaces a credential.
	Save(ctx context.Context, c *Credentials) error

	// Deactivate soft-deletes a credential (active=false).
	Deactivate(ctx context.Context, companyID, marketplace string) error
}
