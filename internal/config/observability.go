package config

// TraceConfig controls OTLP trace export.
// Traces are exported over HTTP to an OpenTelemetry collector; when
// Enabled is false no exporter is installed and spans are no-ops.
type TraceConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	AgentHost   string `mapstructure:"agent_host" json:"agent_host"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}
