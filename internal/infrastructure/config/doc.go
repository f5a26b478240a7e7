// Package config handles loading and validating HA-163 bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (device secrets, HA tokens) should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// The bridge reloads the config file periodically to pick up device list
// changes; DevicesHash provides a cheap change check for that cycle.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Gateway.DeviceName)
package config
