// Package services holds the cross-cutting contracts shared by the upload
// pipeline services: the error taxonomy used to classify failures and the
// context carriers that tag work with job, event, and request identifiers.
//
// Sentinel errors are the only sanctioned way to communicate failure class
// between layers. Handlers and workers wrap causes with the matching marker
// via Wrap and callers branch with errors.Is rather than string matching.
package services
