// Package config loads, validates, and normalizes the TOML configuration for
// the gather daemon.
//
// All policy constants for the upload pipeline live here: worker counts,
// retry/backoff parameters, lease and retention windows, hub rate limits, and
// guest session lifetimes. Defaults are applied first, then overridden by the
// config file, then normalized (path expansion) and validated. Components
// never read configuration from the environment directly.
package config
