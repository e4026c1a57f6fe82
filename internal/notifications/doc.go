// Package notifications delivers operator-facing alerts via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled, so pipeline code can emit alerts unconditionally without HTTP
// glue or nil checks.
package notifications
