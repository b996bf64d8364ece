package actor

import (
	"github.com/google/uuid"

	"github.com/astarte-platform/astra-data-updater/internal/ids"
	"github.com/astarte-platform/astra-data-updater/internal/schema"
	"github.com/astarte-platform/astra-data-updater/internal/trigger"
)

// deviceState is the in-memory state of one DataUpdater, spec.md §3.
type deviceState struct {
	key ids.Key

	connected                 bool
	lastSeenMessageDecimicro  int64
	lastDeviceTriggersRefresh int64

	introspectionMajor map[string]int
	introspectionMinor map[string]int

	interfaces          *interfaceCache
	mappings            map[uuid.UUID]schema.Mapping
	dispatch            *trigger.DispatchTable
	paths               *pathsCache

	totalReceivedMsgs  int64
	totalReceivedBytes int64

	datastreamMaxRetentionSeconds *int
}

func newDeviceState(key ids.Key, pathsCacheCapacity int) *deviceState {
	return &deviceState{
		key:                key,
		introspectionMajor: make(map[string]int),
		introspectionMinor: make(map[string]int),
		interfaces:         newInterfaceCache(),
		mappings:           make(map[uuid.UUID]schema.Mapping),
		dispatch:           trigger.NewDispatchTable(),
		paths:              newPathsCache(pathsCacheCapacity),
	}
}

// mergeMappings adds every mapping of a freshly loaded interface into the
// flat endpoint_id -> Mapping index (spec.md §3 "mappings: map<endpoint_id,
// Mapping> (all endpoints of all loaded interfaces)").
func (s *deviceState) mergeMappings(mappings []schema.Mapping) {
	for _, m := range mappings {
		s.mappings[m.EndpointID] = m
	}
}

// forgetInterfaceMappings drops every mapping belonging to interfaceID, used
// when an interface is evicted from the cache or removed by introspection.
func (s *deviceState) forgetInterfaceMappings(interfaceID uuid.UUID) {
	for endpointID, m := range s.mappings {
		if m.InterfaceID == interfaceID {
			delete(s.mappings, endpointID)
		}
	}
}
