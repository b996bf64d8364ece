package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/astarte-platform/astra-data-updater/internal/repository"
)

// fakeQueries is an in-memory repository.Queries used by actor package
// tests, standing in for the wide-column store the real PGQueries talks to.
type fakeQueries struct {
	mu sync.Mutex

	devices    map[string]*repository.Device // realm/device_id
	retentions map[string]*int               // realm

	properties map[string]map[string]repository.StoredValue // table|realm|device|iface -> path -> value
	paths      map[string]time.Time                          // table key + path

	majors   map[string]int // realm/device/interface
	triggers map[string][]repository.StoredSimpleTrigger

	datastreamInserts int
	objectInserts     int
}

func newFakeQueries() *fakeQueries {
	return &fakeQueries{
		devices:    make(map[string]*repository.Device),
		retentions: make(map[string]*int),
		properties: make(map[string]map[string]repository.StoredValue),
		paths:      make(map[string]time.Time),
		majors:     make(map[string]int),
		triggers:   make(map[string][]repository.StoredSimpleTrigger),
	}
}

func deviceKey(realm string, deviceID uuid.UUID) string {
	return realm + "/" + deviceID.String()
}

func (f *fakeQueries) putDevice(realm string, deviceID uuid.UUID, d *repository.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[deviceKey(realm, deviceID)] = d
}

func (f *fakeQueries) GetDevice(ctx context.Context, realm string, deviceID uuid.UUID) (*repository.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceKey(realm, deviceID)]
	if !ok {
		return &repository.Device{DeviceID: deviceID}, nil
	}
	return d, nil
}

func (f *fakeQueries) SetDeviceConnected(ctx context.Context, realm string, deviceID uuid.UUID, tsMillis int64, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.devices[deviceKey(realm, deviceID)]
	if d == nil {
		d = &repository.Device{DeviceID: deviceID}
		f.devices[deviceKey(realm, deviceID)] = d
	}
	d.Connected = true
	d.LastSeenIP = ip
	return nil
}

func (f *fakeQueries) SetDeviceDisconnected(ctx context.Context, realm string, deviceID uuid.UUID, tsMillis int64, totalMsgs, totalBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.devices[deviceKey(realm, deviceID)]
	if d == nil {
		d = &repository.Device{DeviceID: deviceID}
		f.devices[deviceKey(realm, deviceID)] = d
	}
	d.Connected = false
	d.TotalReceivedMsgs = totalMsgs
	d.TotalReceivedBytes = totalBytes
	return nil
}

func (f *fakeQueries) UpdateIntrospection(ctx context.Context, realm string, deviceID uuid.UUID, major, minor map[string]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.devices[deviceKey(realm, deviceID)]
	if d == nil {
		d = &repository.Device{DeviceID: deviceID}
		f.devices[deviceKey(realm, deviceID)] = d
	}
	d.IntrospectionMajor = major
	d.IntrospectionMinor = minor
	return nil
}

func (f *fakeQueries) MergeOldIntrospection(ctx context.Context, realm string, deviceID uuid.UUID, removed map[string]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.devices[deviceKey(realm, deviceID)]
	if d == nil {
		return nil
	}
	if d.OldIntrospection == nil {
		d.OldIntrospection = make(map[string]int)
	}
	for k, v := range removed {
		d.OldIntrospection[k] = v
	}
	return nil
}

func (f *fakeQueries) RemoveFromOldIntrospection(ctx context.Context, realm string, deviceID uuid.UUID, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.devices[deviceKey(realm, deviceID)]
	if d == nil || d.OldIntrospection == nil {
		return nil
	}
	for _, n := range names {
		delete(d.OldIntrospection, n)
	}
	return nil
}

func (f *fakeQueries) SetPendingEmptyCache(ctx context.Context, realm string, deviceID uuid.UUID, pending bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.devices[deviceKey(realm, deviceID)]
	if d == nil {
		d = &repository.Device{DeviceID: deviceID}
		f.devices[deviceKey(realm, deviceID)] = d
	}
	d.PendingEmptyCache = pending
	return nil
}

func (f *fakeQueries) RegisterDeviceWithInterface(ctx context.Context, realm string, deviceID uuid.UUID, interfaceName string, major int) error {
	return nil
}

func (f *fakeQueries) UnregisterDeviceWithInterface(ctx context.Context, realm string, deviceID uuid.UUID, interfaceName string, major int) error {
	return nil
}

func (f *fakeQueries) GetRealmDatastreamMaxRetention(ctx context.Context, realm string) (*int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retentions[realm], nil
}

func propKey(realm, table string, deviceID, interfaceID uuid.UUID) string {
	return fmt.Sprintf("%s|%s|%s|%s", table, realm, deviceID, interfaceID)
}

func (f *fakeQueries) InsertProperty(ctx context.Context, realm string, table string, deviceID, interfaceID, endpointID uuid.UUID, path string, receptionTSMillis int64, value interface{}, consistency repository.Consistency) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := propKey(realm, table, deviceID, interfaceID)
	if f.properties[key] == nil {
		f.properties[key] = make(map[string]repository.StoredValue)
	}
	f.properties[key][path] = repository.StoredValue{Value: value, Timestamp: time.UnixMilli(receptionTSMillis)}
	return nil
}

func (f *fakeQueries) DeleteProperty(ctx context.Context, realm string, table string, deviceID, interfaceID, endpointID uuid.UUID, path string, consistency repository.Consistency) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := propKey(realm, table, deviceID, interfaceID)
	delete(f.properties[key], path)
	return nil
}

func (f *fakeQueries) FetchProperty(ctx context.Context, realm string, table string, deviceID, interfaceID, endpointID uuid.UUID, path string) (*repository.StoredValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := propKey(realm, table, deviceID, interfaceID)
	sv, ok := f.properties[key][path]
	if !ok {
		return nil, nil
	}
	return &sv, nil
}

func (f *fakeQueries) FetchAllProperties(ctx context.Context, realm string, table string, deviceID, interfaceID uuid.UUID) (map[string]repository.StoredValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := propKey(realm, table, deviceID, interfaceID)
	out := make(map[string]repository.StoredValue, len(f.properties[key]))
	for k, v := range f.properties[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeQueries) InsertDatastreamValue(ctx context.Context, realm string, table string, deviceID, interfaceID, endpointID uuid.UUID, path string, valueTSMillis, receptionTSMillis, receptionSubmillis int64, value interface{}, ttlSeconds *int, consistency repository.Consistency) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.datastreamInserts++
	return nil
}

func (f *fakeQueries) InsertObjectDatastreamValue(ctx context.Context, realm string, table string, deviceID, interfaceID uuid.UUID, path string, columns map[string]interface{}, valueTSMillis *int64, receptionTSMillis int64, ttlSeconds *int, consistency repository.Consistency) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objectInserts++
	return nil
}

func (f *fakeQueries) FetchPathExpiry(ctx context.Context, realm string, deviceID, interfaceID, endpointID uuid.UUID, path string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.paths[fmt.Sprintf("%s|%s|%s|%s", realm, deviceID, interfaceID, path)]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeQueries) InsertPath(ctx context.Context, realm string, deviceID, interfaceID, endpointID uuid.UUID, path string, datetimeValue time.Time, ttlSeconds *int, consistency repository.Consistency) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[fmt.Sprintf("%s|%s|%s|%s", realm, deviceID, interfaceID, path)] = datetimeValue
	return nil
}

func (f *fakeQueries) GetDeviceInterfaceMajor(ctx context.Context, realm string, deviceID uuid.UUID, interfaceName string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	major, ok := f.majors[fmt.Sprintf("%s/%s/%s", realm, deviceID, interfaceName)]
	if !ok {
		return 0, fmt.Errorf("interface_loading_failed: device %s has no declared major for %s", deviceID, interfaceName)
	}
	return major, nil
}

func (f *fakeQueries) setMajor(realm string, deviceID uuid.UUID, interfaceName string, major int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.majors[fmt.Sprintf("%s/%s/%s", realm, deviceID, interfaceName)] = major
}

func (f *fakeQueries) GetSimpleTriggers(ctx context.Context, realm string, objectID uuid.UUID, objectType string) ([]repository.StoredSimpleTrigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggers[fmt.Sprintf("%s/%s/%s", realm, objectID, objectType)], nil
}

func (f *fakeQueries) setTriggers(realm string, objectID uuid.UUID, objectType string, rows []repository.StoredSimpleTrigger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers[fmt.Sprintf("%s/%s/%s", realm, objectID, objectType)] = rows
}

var _ repository.Queries = (*fakeQueries)(nil)
