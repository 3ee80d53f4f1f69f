// Package event defines the inbound monitoring snapshot and its validator.
//
// Validate is pure: it reads the raw JSON with gjson, never touches shared
// state, and either returns a fully populated Event or a *ValidationError
// naming the first offending field.
package event
