package types

import "time"

// TypeConfig is one entry in the integration type catalog. The catalog is
// a process-wide constant table; Catalog returns the entry for a type.
type TypeConfig struct {
	Type           IntegrationType
	DefaultPort    int // 0 means the type has no default port
	HealthPath     string
	HealthTimeout  time.Duration
	RequiredFields []string
}

// HasHealthPath reports whether integrations of this type are probed.
func (tc *TypeConfig) HasHealthPath() bool {
	return tc.HealthPath != ""
}

var catalog = map[IntegrationType]*TypeConfig{
	TypeWebUI: {
		Type:           TypeWebUI,
		DefaultPort:    3000,
		HealthPath:     "/",
		HealthTimeout:  5 * time.Second,
		RequiredFields: []string{"url"},
	},
	TypeDevelopmentTool: {
		Type:           TypeDevelopmentTool,
		DefaultPort:    8080,
		HealthPath:     "/health",
		HealthTimeout:  5 * time.Second,
		RequiredFields: []string{"command"},
	},
	TypeAPIService: {
		Type:           TypeAPIService,
		DefaultPort:    8000,
		HealthPath:     "/health",
		HealthTimeout:  5 * time.Second,
		RequiredFields: []string{"apiUrl"},
	},
	TypeDatabase: {
		Type:           TypeDatabase,
		DefaultPort:    5432,
		HealthTimeout:  10 * time.Second,
		RequiredFields: []string{"connectionString"},
	},
	TypeMessageQueue: {
		Type:           TypeMessageQueue,
		DefaultPort:    5672,
		HealthTimeout:  10 * time.Second,
		RequiredFields: []string{"brokerUrl"},
	},
	TypeOpenAPI: {
		Type:           TypeOpenAPI,
		DefaultPort:    8000,
		HealthPath:     "/health",
		HealthTimeout:  5 * time.Second,
		RequiredFields: []string{"apiUrl", "spec"},
	},
	TypeWebhook: {
		Type:           TypeWebhook,
		HealthTimeout:  5 * time.Second,
		RequiredFields: []string{"url"},
	},
	TypePlugin: {
		Type:           TypePlugin,
		HealthTimeout:  5 * time.Second,
		RequiredFields: []string{"source"},
	},
}

// Catalog looks up the type catalog entry for t. The second return is
// false for types outside the closed catalog.
func Catalog(t IntegrationType) (*TypeConfig, bool) {
	tc, ok := catalog[t]
	return tc, ok
}

// CatalogTypes returns all types in the catalog, in no particular order.
func CatalogTypes() []IntegrationType {
	out := make([]IntegrationType, 0, len(catalog))
	for t := range catalog {
		out = append(out, t)
	}
	return out
}
