package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queries is the logical database contract the data updater actor depends
// on (spec.md §2.4). A pgx-backed implementation is provided below; actor
// package tests use an in-memory fake (see internal/actor/fake_queries_test.go)
// since the real schema is an external collaborator out of scope per
// spec.md §1.
type Queries interface {
	GetDevice(ctx context.Context, realm string, deviceID uuid.UUID) (*Device, error)
	SetDeviceConnected(ctx context.Context, realm string, deviceID uuid.UUID, tsMillis int64, ip string) error
	SetDeviceDisconnected(ctx context.Context, realm string, deviceID uuid.UUID, tsMillis int64, totalMsgs, totalBytes int64) error
	UpdateIntrospection(ctx context.Context, realm string, deviceID uuid.UUID, major, minor map[string]int) error
	MergeOldIntrospection(ctx context.Context, realm string, deviceID uuid.UUID, removed map[string]int) error
	RemoveFromOldIntrospection(ctx context.Context, realm string, deviceID uuid.UUID, names []string) error
	SetPendingEmptyCache(ctx context.Context, realm string, deviceID uuid.UUID, pending bool) error

	RegisterDeviceWithInterface(ctx context.Context, realm string, deviceID uuid.UUID, interfaceName string, major int) error
	UnregisterDeviceWithInterface(ctx context.Context, realm string, deviceID uuid.UUID, interfaceName string, major int) error

	GetRealmDatastreamMaxRetention(ctx context.Context, realm string) (*int, error)

	// Property storage (multi_interface_individual_properties_dbtable).
	InsertProperty(ctx context.Context, realm string, table string, deviceID, interfaceID, endpointID uuid.UUID, path string, receptionTSMillis int64, value interface{}, consistency Consistency) error
	DeleteProperty(ctx context.Context, realm string, table string, deviceID, interfaceID, endpointID uuid.UUID, path string, consistency Consistency) error
	FetchProperty(ctx context.Context, realm string, table string, deviceID, interfaceID, endpointID uuid.UUID, path string) (*StoredValue, error)
	FetchAllProperties(ctx context.Context, realm string, table string, deviceID, interfaceID uuid.UUID) (map[string]StoredValue, error)

	// Datastream storage (multi_interface_individual_datastream_dbtable).
	InsertDatastreamValue(ctx context.Context, realm string, table string, deviceID, interfaceID, endpointID uuid.UUID, path string, valueTSMillis, receptionTSMillis, receptionSubmillis int64, value interface{}, ttlSeconds *int, consistency Consistency) error

	// Object datastream storage (one_object_datastream_dbtable).
	InsertObjectDatastreamValue(ctx context.Context, realm string, table string, deviceID, interfaceID uuid.UUID, path string, columns map[string]interface{}, valueTSMillis *int64, receptionTSMillis int64, ttlSeconds *int, consistency Consistency) error

	// Path registry (individual_properties TTL bookkeeping, §4.2.3 step 10).
	FetchPathExpiry(ctx context.Context, realm string, deviceID, interfaceID, endpointID uuid.UUID, path string) (*time.Time, error)
	InsertPath(ctx context.Context, realm string, deviceID, interfaceID, endpointID uuid.UUID, path string, datetimeValue time.Time, ttlSeconds *int, consistency Consistency) error

	// Schema lookups.
	GetDeviceInterfaceMajor(ctx context.Context, realm string, deviceID uuid.UUID, interfaceName string) (int, error)

	// Trigger/kv_store lookups.
	GetSimpleTriggers(ctx context.Context, realm string, objectID uuid.UUID, objectType string) ([]StoredSimpleTrigger, error)
}

// Consistency mirrors the Cassandra-style consistency levels the original
// system selects per §4.2.3's consistency-selection table. A pgx-backed
// store has no native notion of per-statement consistency; PGQueries accepts
// it on every write and does not act on it (it is not logged, recorded in
// metrics, or mapped to a transaction isolation level).
type Consistency int

const (
	ConsistencyOne Consistency = iota
	ConsistencyQuorum
	ConsistencyLocalQuorum
	ConsistencyAny
)

// StoredSimpleTrigger is a row from the simple_triggers table.
type StoredSimpleTrigger struct {
	SimpleTriggerID uuid.UUID
	ParentTriggerID uuid.UUID
	RoutingKey      string
	StaticHeaders   map[string]string
	TriggerData     []byte // opaque compiled trigger payload; decoded by the trigger package
}

// PGQueries is the pgx-backed Queries implementation.
type PGQueries struct {
	pool *pgxpool.Pool
}

// NewPGQueries constructs a Queries backed by a pgx connection pool.
func NewPGQueries(pool *pgxpool.Pool) *PGQueries {
	return &PGQueries{pool: pool}
}

func (q *PGQueries) GetDevice(ctx context.Context, realm string, deviceID uuid.UUID) (*Device, error) {
	const query = `
		SELECT connected, last_connection, last_disconnection, last_seen_ip,
		       total_received_msgs, total_received_bytes, pending_empty_cache,
		       introspection, introspection_minor, old_introspection
		FROM devices
		WHERE realm = $1 AND device_id = $2
	`
	var d Device
	d.DeviceID = deviceID
	err := q.pool.QueryRow(ctx, query, realm, deviceID).Scan(
		&d.Connected, &d.LastConnection, &d.LastDisconnection, &d.LastSeenIP,
		&d.TotalReceivedMsgs, &d.TotalReceivedBytes, &d.PendingEmptyCache,
		&d.IntrospectionMajor, &d.IntrospectionMinor, &d.OldIntrospection,
	)
	if err != nil {
		return nil, fmt.Errorf("database_error: fetching device %s/%s: %w", realm, deviceID, err)
	}
	return &d, nil
}

func (q *PGQueries) SetDeviceConnected(ctx context.Context, realm string, deviceID uuid.UUID, tsMillis int64, ip string) error {
	const query = `
		UPDATE devices
		SET connected = true, last_connection = $3, last_seen_ip = $4
		WHERE realm = $1 AND device_id = $2
	`
	ts := time.UnixMilli(tsMillis).UTC()
	if _, err := q.pool.Exec(ctx, query, realm, deviceID, ts, ip); err != nil {
		return fmt.Errorf("database_error: setting device connected: %w", err)
	}
	return nil
}

func (q *PGQueries) SetDeviceDisconnected(ctx context.Context, realm string, deviceID uuid.UUID, tsMillis int64, totalMsgs, totalBytes int64) error {
	const query = `
		UPDATE devices
		SET connected = false, last_disconnection = $3,
		    total_received_msgs = $4, total_received_bytes = $5
		WHERE realm = $1 AND device_id = $2
	`
	ts := time.UnixMilli(tsMillis).UTC()
	if _, err := q.pool.Exec(ctx, query, realm, deviceID, ts, totalMsgs, totalBytes); err != nil {
		return fmt.Errorf("database_error: setting device disconnected: %w", err)
	}
	return nil
}

func (q *PGQueries) UpdateIntrospection(ctx context.Context, realm string, deviceID uuid.UUID, major, minor map[string]int) error {
	const query = `
		UPDATE devices
		SET introspection = $3, introspection_minor = $4
		WHERE realm = $1 AND device_id = $2
	`
	if _, err := q.pool.Exec(ctx, query, realm, deviceID, major, minor); err != nil {
		return fmt.Errorf("database_error: updating introspection: %w", err)
	}
	return nil
}

func (q *PGQueries) MergeOldIntrospection(ctx context.Context, realm string, deviceID uuid.UUID, removed map[string]int) error {
	const query = `
		UPDATE devices
		SET old_introspection = old_introspection || $3
		WHERE realm = $1 AND device_id = $2
	`
	if _, err := q.pool.Exec(ctx, query, realm, deviceID, removed); err != nil {
		return fmt.Errorf("database_error: merging old introspection: %w", err)
	}
	return nil
}

func (q *PGQueries) RemoveFromOldIntrospection(ctx context.Context, realm string, deviceID uuid.UUID, names []string) error {
	const query = `
		UPDATE devices
		SET old_introspection = old_introspection - $3::text[]
		WHERE realm = $1 AND device_id = $2
	`
	if _, err := q.pool.Exec(ctx, query, realm, deviceID, names); err != nil {
		return fmt.Errorf("database_error: pruning old introspection: %w", err)
	}
	return nil
}

func (q *PGQueries) SetPendingEmptyCache(ctx context.Context, realm string, deviceID uuid.UUID, pending bool) error {
	const query = `
		UPDATE devices SET pending_empty_cache = $3
		WHERE realm = $1 AND device_id = $2
	`
	if _, err := q.pool.Exec(ctx, query, realm, deviceID, pending); err != nil {
		return fmt.Errorf("database_error: setting pending_empty_cache: %w", err)
	}
	return nil
}

func (q *PGQueries) RegisterDeviceWithInterface(ctx context.Context, realm string, deviceID uuid.UUID, interfaceName string, major int) error {
	const query = `
		INSERT INTO kv_store (group_name, key_name, value)
		VALUES ('devices-by-interface-' || $3 || '-v0', $1 || '/' || $2, '')
		ON CONFLICT (group_name, key_name) DO NOTHING
	`
	if _, err := q.pool.Exec(ctx, query, realm, deviceID, interfaceName); err != nil {
		return fmt.Errorf("database_error: registering device-by-interface: %w", err)
	}
	return nil
}

func (q *PGQueries) UnregisterDeviceWithInterface(ctx context.Context, realm string, deviceID uuid.UUID, interfaceName string, major int) error {
	const query = `
		DELETE FROM kv_store
		WHERE group_name = 'devices-by-interface-' || $3 || '-v0' AND key_name = $1 || '/' || $2
	`
	if _, err := q.pool.Exec(ctx, query, realm, deviceID, interfaceName); err != nil {
		return fmt.Errorf("database_error: unregistering device-by-interface: %w", err)
	}
	return nil
}

func (q *PGQueries) GetRealmDatastreamMaxRetention(ctx context.Context, realm string) (*int, error) {
	const query = `
		SELECT value::int FROM kv_store
		WHERE group_name = 'realm_config' AND key_name = 'datastream_maximum_storage_retention' AND realm = $1
	`
	var retention int
	err := q.pool.QueryRow(ctx, query, realm).Scan(&retention)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database_error: fetching realm retention: %w", err)
	}
	return &retention, nil
}

func (q *PGQueries) InsertProperty(ctx context.Context, realm string, table string, deviceID, interfaceID, endpointID uuid.UUID, path string, receptionTSMillis int64, value interface{}, consistency Consistency) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (device_id, interface_id, endpoint_id, path, reception_timestamp, value)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, table)
	ts := time.UnixMilli(receptionTSMillis).UTC()
	if _, err := q.pool.Exec(ctx, query, deviceID, interfaceID, endpointID, path, ts, value); err != nil {
		return fmt.Errorf("database_error: inserting property: %w", err)
	}
	return nil
}

func (q *PGQueries) DeleteProperty(ctx context.Context, realm string, table string, deviceID, interfaceID, endpointID uuid.UUID, path string, consistency Consistency) error {
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE device_id = $1 AND interface_id = $2 AND endpoint_id = $3 AND path = $4
	`, table)
	if _, err := q.pool.Exec(ctx, query, deviceID, interfaceID, endpointID, path); err != nil {
		return fmt.Errorf("database_error: deleting property: %w", err)
	}
	return nil
}

func (q *PGQueries) FetchProperty(ctx context.Context, realm string, table string, deviceID, interfaceID, endpointID uuid.UUID, path string) (*StoredValue, error) {
	query := fmt.Sprintf(`
		SELECT value, reception_timestamp FROM %s
		WHERE device_id = $1 AND interface_id = $2 AND endpoint_id = $3 AND path = $4
	`, table)
	var sv StoredValue
	err := q.pool.QueryRow(ctx, query, deviceID, interfaceID, endpointID, path).Scan(&sv.Value, &sv.Timestamp)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database_error: fetching property: %w", err)
	}
	return &sv, nil
}

func (q *PGQueries) FetchAllProperties(ctx context.Context, realm string, table string, deviceID, interfaceID uuid.UUID) (map[string]StoredValue, error) {
	query := fmt.Sprintf(`
		SELECT path, value, reception_timestamp FROM %s
		WHERE device_id = $1 AND interface_id = $2
	`, table)
	rows, err := q.pool.Query(ctx, query, deviceID, interfaceID)
	if err != nil {
		return nil, fmt.Errorf("database_error: fetching all properties: %w", err)
	}
	defer rows.Close()

	out := make(map[string]StoredValue)
	for rows.Next() {
		var path string
		var sv StoredValue
		if err := rows.Scan(&path, &sv.Value, &sv.Timestamp); err != nil {
			return nil, fmt.Errorf("database_error: scanning property row: %w", err)
		}
		out[path] = sv
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database_error: iterating property rows: %w", err)
	}
	return out, nil
}

func (q *PGQueries) InsertDatastreamValue(ctx context.Context, realm string, table string, deviceID, interfaceID, endpointID uuid.UUID, path string, valueTSMillis, receptionTSMillis, receptionSubmillis int64, value interface{}, ttlSeconds *int, consistency Consistency) error {
	var expiresAt *time.Time
	if ttlSeconds != nil {
		e := time.Now().Add(time.Duration(*ttlSeconds) * time.Second).UTC()
		expiresAt = &e
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (device_id, interface_id, endpoint_id, path, value_timestamp,
		                 reception_timestamp, reception_timestamp_submillis, value, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, table)
	valueTS := time.UnixMilli(valueTSMillis).UTC()
	receptionTS := time.UnixMilli(receptionTSMillis).UTC()
	if _, err := q.pool.Exec(ctx, query, deviceID, interfaceID, endpointID, path, valueTS, receptionTS, receptionSubmillis, value, expiresAt); err != nil {
		return fmt.Errorf("database_error: inserting datastream value: %w", err)
	}
	return nil
}

func (q *PGQueries) InsertObjectDatastreamValue(ctx context.Context, realm string, table string, deviceID, interfaceID uuid.UUID, path string, columns map[string]interface{}, valueTSMillis *int64, receptionTSMillis int64, ttlSeconds *int, consistency Consistency) error {
	cols := []string{"device_id", "path", "reception_timestamp"}
	args := []interface{}{deviceID, path, time.UnixMilli(receptionTSMillis).UTC()}

	if valueTSMillis != nil {
		cols = append(cols, "value_timestamp")
		args = append(args, time.UnixMilli(*valueTSMillis).UTC())
	}
	for col, val := range columns {
		cols = append(cols, col)
		args = append(args, val)
	}

	placeholders := ""
	colList := ""
	for i := range cols {
		if i > 0 {
			placeholders += ", "
			colList += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
		colList += cols[i]
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, table, colList, placeholders)
	if _, err := q.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("database_error: inserting object datastream value: %w", err)
	}
	return nil
}

func (q *PGQueries) FetchPathExpiry(ctx context.Context, realm string, deviceID, interfaceID, endpointID uuid.UUID, path string) (*time.Time, error) {
	const query = `
		SELECT datetime_value FROM individual_properties
		WHERE device_id = $1 AND interface_id = $2 AND endpoint_id = $3 AND path = $4
	`
	var t time.Time
	err := q.pool.QueryRow(ctx, query, deviceID, interfaceID, endpointID, path).Scan(&t)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database_error: fetching path expiry: %w", err)
	}
	return &t, nil
}

func (q *PGQueries) InsertPath(ctx context.Context, realm string, deviceID, interfaceID, endpointID uuid.UUID, path string, datetimeValue time.Time, ttlSeconds *int, consistency Consistency) error {
	const query = `
		INSERT INTO individual_properties (device_id, interface_id, endpoint_id, path, datetime_value)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := q.pool.Exec(ctx, query, deviceID, interfaceID, endpointID, path, datetimeValue); err != nil {
		return fmt.Errorf("database_error: inserting path: %w", err)
	}
	return nil
}

func (q *PGQueries) GetDeviceInterfaceMajor(ctx context.Context, realm string, deviceID uuid.UUID, interfaceName string) (int, error) {
	const query = `
		SELECT (introspection -> $3)::int FROM devices WHERE realm = $1 AND device_id = $2
	`
	var major int
	if err := q.pool.QueryRow(ctx, query, realm, deviceID, interfaceName).Scan(&major); err != nil {
		return 0, fmt.Errorf("interface_loading_failed: resolving declared major for %s: %w", interfaceName, err)
	}
	return major, nil
}

func (q *PGQueries) GetSimpleTriggers(ctx context.Context, realm string, objectID uuid.UUID, objectType string) ([]StoredSimpleTrigger, error) {
	const query = `
		SELECT simple_trigger_id, parent_trigger_id, trigger_data
		FROM simple_triggers
		WHERE object_id = $1 AND object_type = $2
	`
	rows, err := q.pool.Query(ctx, query, objectID, objectType)
	if err != nil {
		return nil, fmt.Errorf("database_error: fetching simple triggers: %w", err)
	}
	defer rows.Close()

	var out []StoredSimpleTrigger
	for rows.Next() {
		var st StoredSimpleTrigger
		if err := rows.Scan(&st.SimpleTriggerID, &st.ParentTriggerID, &st.TriggerData); err != nil {
			return nil, fmt.Errorf("database_error: scanning simple trigger row: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database_error: iterating simple trigger rows: %w", err)
	}
	return out, nil
}
