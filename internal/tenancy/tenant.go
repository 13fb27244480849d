// Package tenancy carries the authenticated tenant through a request and
// stores per-tenant settings.
package tenancy

import (
	"time"

	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
)

// Tenant is the already-authenticated tenant context handed to every
// component. It is built from the credential, never from request payloads.
type Tenant struct {
	ID       string
	Location *time.Location
	// Honorifics overrides the resolver's default token list when non-empty.
	Honorifics []string
}

// New builds a tenant value; a nil location means UTC.
func New(id string, loc *time.Location) Tenant {
	if loc == nil {
		loc = time.UTC
	}
	return Tenant{ID: id, Location: loc}
}

// Validate returns scheduling.ErrMissingTenant when the tenant is unset.
func (t Tenant) Validate() error {
	if t.ID == "" {
		return scheduling.ErrMissingTenant
	}
	return nil
}

// Loc returns the tenant location, defaulting to UTC.
func (t Tenant) Loc() *time.Location {
	if t.Location == nil {
		return time.UTC
	}
	return t.Location
}

// Today returns the tenant's current local date.
func (t Tenant) Today(now time.Time) scheduling.Date {
	return scheduling.DateOf(now.In(t.Loc()))
}
