// Package config handles loading and validating the hub configuration.
//
// This package manages:
//   - Loading configuration from a YAML file
//   - Overriding with GRAYHUB_* environment variables
//   - Validation of required fields
//
// Secrets (auth.jwt_secret, mqtt.auth.password, influxdb.token) should be
// supplied through the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/grayhub.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Addr())
package config
