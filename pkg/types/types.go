package types

import (
	"time"
)

// IntegrationType identifies one entry in the closed type catalog.
type IntegrationType string

const (
	TypeWebUI           IntegrationType = "web-ui"
	TypeDevelopmentTool IntegrationType = "development-tool"
	TypeAPIService      IntegrationType = "api-service"
	TypeDatabase        IntegrationType = "database"
	TypeMessageQueue    IntegrationType = "message-queue"
	TypeOpenAPI         IntegrationType = "openapi"
	TypeWebhook         IntegrationType = "webhook"
	TypePlugin          IntegrationType = "plugin"
)

// IntegrationStatus represents the lifecycle state of an integration.
type IntegrationStatus string

const (
	StatusInitializing IntegrationStatus = "initializing"
	StatusActive       IntegrationStatus = "active"
	StatusUnhealthy    IntegrationStatus = "unhealthy"
	StatusDisabled     IntegrationStatus = "disabled"
	StatusFailed       IntegrationStatus = "failed"
	StatusRemoved      IntegrationStatus = "removed"
)

// Config is the type-dependent configuration bag of an integration.
type Config map[string]any

// String returns the string value stored under key, or "" if absent or
// not a string.
func (c Config) String(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// Int returns the integer value stored under key. JSON round-trips store
// numbers as float64, so both forms are accepted.
func (c Config) Int(key string) (int, bool) {
	switch v := c[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Clone returns a shallow copy of the config bag.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// HealthCheck describes how an integration is probed.
type HealthCheck struct {
	URL      string        `json:"url"`
	Interval time.Duration `json:"interval"`
	Timeout  time.Duration `json:"timeout"`
	Enabled  bool          `json:"enabled"`
}

// Metrics holds per-integration counters maintained by the registry and
// the health prober.
type Metrics struct {
	Requests          int64     `json:"requests"`
	Errors            int64     `json:"errors"`
	HealthTotal       int64     `json:"healthTotal"`
	HealthOK          int64     `json:"healthOk"`
	HealthFail        int64     `json:"healthFail"`
	LastHealthCheckAt time.Time `json:"lastHealthCheckAt"`
	AvgResponseTimeMs float64   `json:"avgResponseTimeMs"`
}

// DeliveryRecord is one entry in a webhook integration's delivery log.
type DeliveryRecord struct {
	EventID    string        `json:"eventId"`
	Topic      string        `json:"topic"`
	HTTPStatus int           `json:"httpStatus"`
	Duration   time.Duration `json:"duration"`
	ErrorKind  string        `json:"errorKind,omitempty"`
	At         time.Time     `json:"at"`
}

// Endpoint is one operation extracted from an OpenAPI document.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Integration is the central entity: one externally-reachable service
// placed under the hub's management.
type Integration struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Type   IntegrationType   `json:"type"`
	Config Config            `json:"config"`
	Status IntegrationStatus `json:"status"`

	// AllocatedPort is owned by the port allocator while the record is
	// live. OriginalPort is set iff a conflict was resolved at
	// registration time.
	AllocatedPort int `json:"allocatedPort,omitempty"`
	OriginalPort  int `json:"originalPort,omitempty"`

	HealthCheck HealthCheck `json:"healthCheck"`
	Metrics     Metrics     `json:"metrics"`

	LastHealthError string `json:"lastHealthError,omitempty"`

	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	RegisteredAt time.Time `json:"registeredAt"`

	// TypeConfig caches the resolved catalog entry for fast dispatch.
	TypeConfig *TypeConfig `json:"-"`

	// Endpoints is populated for openapi integrations.
	Endpoints []Endpoint `json:"endpoints,omitempty"`

	// SubscribedTopics and DeliveryLog are populated for webhook
	// integrations.
	SubscribedTopics []string         `json:"subscribedTopics,omitempty"`
	DeliveryLog      []DeliveryRecord `json:"deliveryLog,omitempty"`
}

// Clone returns a copy of the record safe to hand to readers while the
// registry keeps mutating the original.
func (i *Integration) Clone() *Integration {
	out := *i
	out.Config = i.Config.Clone()
	if i.Endpoints != nil {
		out.Endpoints = append([]Endpoint(nil), i.Endpoints...)
	}
	if i.SubscribedTopics != nil {
		out.SubscribedTopics = append([]string(nil), i.SubscribedTopics...)
	}
	if i.DeliveryLog != nil {
		out.DeliveryLog = append([]DeliveryRecord(nil), i.DeliveryLog...)
	}
	return &out
}

// RegisterOptions tunes a single Register call.
type RegisterOptions struct {
	SkipHealthCheck   bool `json:"skipHealthCheck,omitempty"`
	AutoDetectPort    bool `json:"autoDetectPort,omitempty"`
	BypassHealthCheck bool `json:"bypassHealthCheck,omitempty"`
}

// RegisterRequest is the input to Registry.Register.
type RegisterRequest struct {
	Name    string          `json:"name"`
	Type    IntegrationType `json:"type"`
	Config  Config          `json:"config"`
	Options RegisterOptions `json:"options"`
}

// ListFilter narrows Registry.List results. Zero values match everything.
type ListFilter struct {
	Type   IntegrationType   `json:"type,omitempty"`
	Status IntegrationStatus `json:"status,omitempty"`
	Tag    string            `json:"tag,omitempty"`
}

// CleanupPolicy governs when and how an integration's resources are
// released during deintegration.
type CleanupPolicy string

const (
	PolicyImmediate CleanupPolicy = "immediate"
	PolicyGraceful  CleanupPolicy = "graceful"
	PolicyScheduled CleanupPolicy = "scheduled"
	PolicyManual    CleanupPolicy = "manual"
)

// DeintegrationStatus is the state of a deintegration pipeline run.
type DeintegrationStatus string

const (
	DeintegrationInProgress           DeintegrationStatus = "in_progress"
	DeintegrationCompleted            DeintegrationStatus = "completed"
	DeintegrationFailed               DeintegrationStatus = "failed"
	DeintegrationScheduled            DeintegrationStatus = "scheduled"
	DeintegrationAwaitingConfirmation DeintegrationStatus = "awaiting_confirmation"
)

// DeintegrationStep records one pipeline step.
type DeintegrationStep struct {
	Name      string              `json:"name"`
	StartedAt time.Time           `json:"startedAt"`
	EndedAt   time.Time           `json:"endedAt,omitempty"`
	Status    DeintegrationStatus `json:"status"`
	Checks    []string            `json:"checks,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Deintegration records one teardown run, persisted as
// <id>-record.json in the deintegration directory.
type Deintegration struct {
	ID            string               `json:"id"`
	IntegrationID string               `json:"integrationId"`
	Policy        CleanupPolicy        `json:"policy"`
	StartedAt     time.Time            `json:"startedAt"`
	EndedAt       time.Time            `json:"endedAt,omitempty"`
	Status        DeintegrationStatus  `json:"status"`
	Steps         []*DeintegrationStep `json:"steps"`
}

// DeintegrateOptions tunes a single Deintegrate call.
type DeintegrateOptions struct {
	Policy       CleanupPolicy `json:"policy"`
	PreserveData bool          `json:"preserveData"`
	Force        bool          `json:"force"`
	// At is the execution time for the scheduled policy.
	At time.Time `json:"at,omitempty"`
}

// StateSnapshot is the on-disk shape of <id>-state.json.
type StateSnapshot struct {
	IntegrationID   string           `json:"integrationId"`
	DeintegrationID string           `json:"deintegrationId"`
	Timestamp       time.Time        `json:"timestamp"`
	State           any              `json:"state"`
	Metadata        SnapshotMetadata `json:"metadata"`
}

// SnapshotMetadata identifies how a snapshot can be re-instantiated.
type SnapshotMetadata struct {
	AdapterType IntegrationType `json:"adapterType"`
	Version     string          `json:"version"`
}
