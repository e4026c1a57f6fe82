// Package daemon wires the upload pipeline together and exposes it over
// HTTP: the intake endpoint, the operator queue API, the claim endpoints,
// and the websocket channel. It also enforces single-instance execution via
// a lock file.
package daemon
