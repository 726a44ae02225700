// Package config handles loading, validating and hot-reloading homely-sync configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (HOMELYSYNC_*)
//   - Validation of required fields
//   - Watching the file so the poll interval and the WebSocket toggle can change at runtime
//
// Security Considerations:
//   - Account credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.PollInterval())
package config
