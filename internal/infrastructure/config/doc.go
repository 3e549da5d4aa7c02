// Package config handles loading and validating accessd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (ACCESSD_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/accessd.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Dispatch.QueueCapacity)
package config
