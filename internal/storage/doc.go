// Package storage keeps the most recent clock seen at each pipeline stage of
// a participant, for diagnostics. Nothing is persisted; the store lives and
// dies with its participant.
package storage
