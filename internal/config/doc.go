// Package config loads the gateway configuration file.
//
// Files are YAML with ${VAR} and ${VAR:-default} environment substitution
// ($$ escapes a literal dollar). Loading applies defaults and validates
// the result, reporting every problem found at once:
//
//	cfg, err := config.LoadConfig("configs/gateway.yaml")
//	if err != nil {
//	    return err
//	}
//
// Conversion helpers turn each section into the configuration type of the
// package that consumes it.
package config
