// Package config handles loading and validating the telemetry agent configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with MAAGENT_* environment variables
//   - Validation of required fields, collecting every problem at once
//   - Default value handling (the firmware limits: 32 variables, 64-slot
//     queue, 1s send period, 1s recovery window)
//
// Security Considerations:
//   - The SAS token, InfluxDB token and history cookie should be set via
//     environment variables, not committed in the YAML file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/maagent.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Agent.AssetName)
package config
