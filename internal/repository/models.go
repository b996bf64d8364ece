// Package repository is the Queries layer (spec.md §2.4): logical database
// operations over the wide-column device store. Only the logical queries
// matter per spec.md §1 — the schema and driver are external collaborators;
// pgx stands in for the driver contract.
package repository

import (
	"time"

	"github.com/google/uuid"
)

// Device mirrors the persistent `devices` row (§6).
type Device struct {
	DeviceID                uuid.UUID
	Connected               bool
	LastConnection          *time.Time
	LastDisconnection       *time.Time
	LastSeenIP              string
	TotalReceivedMsgs       int64
	TotalReceivedBytes      int64
	IntrospectionMajor      map[string]int
	IntrospectionMinor      map[string]int
	OldIntrospection        map[string]int // name -> major, for interfaces removed then possibly re-added
	PendingEmptyCache       bool
	DatastreamMaxRetention  *int // seconds; nil means unbounded
}

// StoredValue is a previously-persisted property value, used to compute the
// value-change/path-created/path-removed trigger sets (§4.2.3 steps 8-12).
type StoredValue struct {
	Value     interface{}
	Timestamp time.Time
}
