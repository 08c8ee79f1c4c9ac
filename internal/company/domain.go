package company

import "errors"

// SyncMode selects push delivery timing for a company.
type SyncMode string

const (
	// ModeRealtime delivers synchronously on submit, with a queue fallback.
	ModeRealtime SyncMode = "realtime"
	// ModeBatch always queues for the worker pool.
	ModeBatch SyncMode = "batch"
)

// AuthType identifies how outbound webhook requests authenticate.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
)

// AuthConfig describes webhook credentials. Custom headers are applied
// additively on top of the typed scheme.
type AuthConfig struct {
	Type     AuthType          `json:"type"`
	Token    string            `json:"token,omitempty"`
	Username string            `json:"username,omitempty"`
	Password string            `json:"password,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// SyncConfig is the per-company sync configuration. Its lifecycle is owned by
// the ERP; this service only reads it.
type SyncConfig struct {
	CompanyID      int64
	Enabled        bool
	Mode           SyncMode
	WebhookURL     string
	Auth           AuthConfig
	PollingEnabled bool
}

// PushConfigured reports whether webhook delivery is possible at all.
func (c SyncConfig) PushConfigured() bool {
	return c.WebhookURL != ""
}

var (
	// ErrNotFound indicates no sync configuration exists for the company.
	ErrNotFound = errors.New("company: sync config not found")
)
