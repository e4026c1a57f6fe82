// Package api defines the JSON payload types exchanged between the gather
// daemon and its clients, plus converters from internal records. Keeping the
// wire shapes here means the daemon handlers and the CLI agree on one format.
package api
