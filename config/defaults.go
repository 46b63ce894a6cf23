package config

import "github.com/spf13/viper"

// SetDefaults registers default values for all configuration keys
func SetDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_json", false)
	v.SetDefault("server.allowed_origins", []string{})

	// Storage
	v.SetDefault("storage.dir", "./data")
	v.SetDefault("storage.database_path", "")

	// JMeter: no default path; an unset path surfaces as a failed
	// execution with a "not configured" error, never a crash
	v.SetDefault("jmeter.path", "")

	// Executions
	v.SetDefault("executions.max_concurrent", DefaultMaxConcurrent)
}
