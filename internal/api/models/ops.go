package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus represents the overall system status.
type SystemStatus struct {
	Status     HealthStatus           `json:"status"`
	Time       Timestamp              `json:"time"`
	Subsystems []SubsystemStatus      `json:"subsystems"`
	Providers  []ProviderStatus       `json:"providers"`
	Model      *ModelStatus           `json:"model,omitempty"`
	Cache      *CacheStatus           `json:"cache,omitempty"`
	Ingest     map[string]interface{} `json:"ingest,omitempty"`
}

// SubsystemStatus represents the status of a subsystem.
type SubsystemStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}

// ProviderStatus represents the status of an external provider.
type ProviderStatus struct {
	Provider            string       `json:"provider"`
	Status              HealthStatus `json:"status"`
	CircuitState        string       `json:"circuitState"`
	ConsecutiveFailures uint32       `json:"consecutiveFailures"`
	LastSuccessAt       *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *Timestamp   `json:"lastFailureAt,omitempty"`
	Message             *string      `json:"message,omitempty"`
}

// ModelStatus describes the forecast model loaded at startup.
type ModelStatus struct {
	Mode     string     `json:"mode"`
	Source   string     `json:"source,omitempty"`
	LoadedAt *Timestamp `json:"loadedAt,omitempty"`
	Error    *string    `json:"error,omitempty"`
}

// CacheStatus describes the live-reading cache in front of the provider.
type CacheStatus struct {
	Entries     int        `json:"entries"`
	Expired     int        `json:"expired"`
	LastFetchAt *Timestamp `json:"lastFetchAt,omitempty"`
}
