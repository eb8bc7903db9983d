// Package config loads the supervisor's YAML configuration.
//
// Load applies, in order: built-in defaults, the YAML file, environment
// overrides, then Validate. The environment is read once, here; in
// particular PERCY_SERVER_ADDRESS is copied into Percy.ServerAddress and
// never consulted again.
//
// BrowserStack credentials belong in BROWSERSTACK_USERNAME and
// BROWSERSTACK_ACCESS_KEY, not in a committed file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	addr := cfg.Percy.ServerAddress
package config
