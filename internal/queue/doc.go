// Package queue is the durable priority queue of pending alerts.
//
// The queue lives in one state-store document (key "queue"). Every mutation
// goes through storage.Store.Update, so concurrent producers and the single
// drainer never interleave. Destructive rewrites (drain, promotion, reset of
// a corrupt document) snapshot the previous document to a Backups sink first.
package queue
