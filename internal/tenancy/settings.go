package tenancy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Settings holds per-tenant configuration that shapes interpretation and
// resolution.
type Settings struct {
	TenantID string `json:"tenant_id"`
	// Timezone is an IANA name, e.g. "America/Sao_Paulo".
	Timezone   string   `json:"timezone"`
	Honorifics []string `json:"honorifics,omitempty"`
}

// DefaultSettings returns the settings used when a tenant has none stored.
func DefaultSettings(tenantID, timezone string) *Settings {
	if strings.TrimSpace(timezone) == "" {
		timezone = "UTC"
	}
	return &Settings{TenantID: tenantID, Timezone: timezone}
}

// Location loads the configured timezone. An empty timezone means UTC; an
// unknown name is an error rather than a silent UTC fallback, since every
// date the tenant speaks would shift.
func (s *Settings) Location() (*time.Location, error) {
	if s == nil || s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("tenancy: unknown timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// Tenant builds the tenant value for a request.
func (s *Settings) Tenant() (Tenant, error) {
	loc, err := s.Location()
	if err != nil {
		return Tenant{}, err
	}
	t := New(s.TenantID, loc)
	t.Honorifics = append([]string(nil), s.Honorifics...)
	return t, nil
}

// SettingsStore persists tenant settings in Redis.
type SettingsStore struct {
	redis           *redis.Client
	defaultTimezone string
}

// NewSettingsStore creates a settings store. defaultTimezone applies to
// tenants without stored settings.
func NewSettingsStore(redisClient *redis.Client, defaultTimezone string) *SettingsStore {
	if redisClient == nil {
		panic("tenancy: redis client cannot be nil")
	}
	return &SettingsStore{redis: redisClient, defaultTimezone: defaultTimezone}
}

func (s *SettingsStore) key(tenantID string) string {
	return fmt.Sprintf("tenant_settings:%s", tenantID)
}

// Get retrieves tenant settings, returning defaults if not found.
func (s *SettingsStore) Get(ctx context.Context, tenantID string) (*Settings, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID)).Bytes()
	if err == redis.Nil {
		return DefaultSettings(tenantID, s.defaultTimezone), nil
	}
	if err != nil {
		return nil, fmt.Errorf("tenancy: get settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("tenancy: unmarshal settings: %w", err)
	}
	// The key is authoritative for ownership.
	settings.TenantID = tenantID
	if settings.Timezone == "" {
		settings.Timezone = DefaultSettings(tenantID, s.defaultTimezone).Timezone
	}
	return &settings, nil
}

// Set saves tenant settings.
func (s *SettingsStore) Set(ctx context.Context, settings *Settings) error {
	if settings == nil || settings.TenantID == "" {
		return fmt.Errorf("tenancy: settings require a tenant id")
	}
	if _, err := time.LoadLocation(settings.Timezone); err != nil {
		return fmt.Errorf("tenancy: invalid timezone %q: %w", settings.Timezone, err)
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("tenancy: marshal settings: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(settings.TenantID), data, 0).Err(); err != nil {
		return fmt.Errorf("tenancy: set settings: %w", err)
	}
	return nil
}

// Resolve loads the tenant value for an authenticated tenant id.
func (s *SettingsStore) Resolve(ctx context.Context, tenantID string) (Tenant, error) {
	settings, err := s.Get(ctx, tenantID)
	if err != nil {
		return Tenant{}, err
	}
	return settings.Tenant()
}

// StaticResolver resolves every tenant with the same location. It backs
// deployments without Redis and tests.
type StaticResolver struct {
	Location *time.Location
}

// Resolve returns a tenant in the configured location.
func (r StaticResolver) Resolve(_ context.Context, tenantID string) (Tenant, error) {
	return New(tenantID, r.Location), nil
}
