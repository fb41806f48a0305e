package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloudplay/fleet-control-plane/core/models"
)

// HostRepository handles persistence for Host records (§3). A Host is never
// deleted; terminal states are retained for billing.
type HostRepository struct {
	db *DB
}

func NewHostRepository(db *DB) *HostRepository {
	return &HostRepository{db: db}
}

// CreateHost persists a new Host, normally in state NEW/CREATING, and
// records the initial lifecycle event in the same transaction.
func (r *HostRepository) CreateHost(h *models.Host) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	now := time.Now()
	h.CreatedAt = now
	h.UpdatedAt = now

	metaJSON, err := json.Marshal(h.ProviderMetadata)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO hosts (
			id, tier, platform, provider, provider_handle, provider_metadata,
			address, agent_port, state, created_at, updated_at, last_activity,
			auto_stop_timeout_seconds, user_coord_lat, user_coord_lon,
			environment_ready, saves_mounted, user_id, save_ref
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
		)
	`
	var userLat, userLon *float64
	if h.UserCoord != nil {
		userLat, userLon = &h.UserCoord.Lat, &h.UserCoord.Lon
	}

	_, err = tx.Exec(query,
		h.ID, h.Tier, h.Platform, h.Provider, nullIfEmpty(h.ProviderHandle), metaJSON,
		nullIfEmpty(h.Address), h.AgentPort, h.State, h.CreatedAt, h.UpdatedAt, h.LastActivity,
		int64(h.AutoStopTimeout.Seconds()), userLat, userLon,
		h.EnvironmentReady, h.SavesMounted, h.UserID, nullIfEmpty(h.SaveRef),
	)
	if err != nil {
		return err
	}

	if err := r.insertEventTx(tx, h.ID, nil, h.State, "host_created", nil); err != nil {
		return err
	}

	return tx.Commit()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// GetHost retrieves a Host by ID.
func (r *HostRepository) GetHost(id string) (*models.Host, error) {
	query := `
		SELECT id, tier, platform, provider, provider_handle, provider_metadata,
			address, agent_port, state, created_at, updated_at, last_activity,
			auto_stop_timeout_seconds, user_coord_lat, user_coord_lon,
			environment_ready, saves_mounted, user_id, save_ref,
			unhealthy_strikes, last_client_disconnect, last_error,
			session_started_at, accumulated_seconds, last_seq
		FROM hosts WHERE id = $1
	`
	return r.scanRow(r.db.QueryRow(query, id))
}

func (r *HostRepository) scanRow(row *sql.Row) (*models.Host, error) {
	var h models.Host
	var providerHandle, address, saveRef sql.NullString
	var lastActivity, lastClientDisconnect, sessionStartedAt sql.NullTime
	var lastError sql.NullString
	var userLat, userLon sql.NullFloat64
	var autoStopSeconds int64
	var metaJSON []byte

	err := row.Scan(
		&h.ID, &h.Tier, &h.Platform, &h.Provider, &providerHandle, &metaJSON,
		&address, &h.AgentPort, &h.State, &h.CreatedAt, &h.UpdatedAt, &lastActivity,
		&autoStopSeconds, &userLat, &userLon,
		&h.EnvironmentReady, &h.SavesMounted, &h.UserID, &saveRef,
		&h.UnhealthyStrikes, &lastClientDisconnect, &lastError,
		&sessionStartedAt, &h.AccumulatedSeconds, &h.LastSeq,
	)
	if err != nil {
		return nil, err
	}

	h.ProviderHandle = providerHandle.String
	h.Address = address.String
	h.SaveRef = saveRef.String
	h.LastError = lastError.String
	h.AutoStopTimeout = time.Duration(autoStopSeconds) * time.Second

	if lastActivity.Valid {
		t := lastActivity.Time
		h.LastActivity = &t
	}
	if lastClientDisconnect.Valid {
		t := lastClientDisconnect.Time
		h.LastClientDisconnect = &t
	}
	if sessionStartedAt.Valid {
		t := sessionStartedAt.Time
		h.SessionStartedAt = &t
	}
	if userLat.Valid && userLon.Valid {
		h.UserCoord = &models.Coord{Lat: userLat.Float64, Lon: userLon.Float64}
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &h.ProviderMetadata)
	}

	return &h, nil
}

// CompareAndSetState performs the §5 per-Host CAS: the update only applies
// if the row's current state is one of fromStates. Returns (applied, error).
// This is the fix for the non-CAS update the teacher's job repository used.
func (r *HostRepository) CompareAndSetState(hostID string, fromStates []models.HostState, toState models.HostState, reason string, meta map[string]interface{}) (bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var from *models.HostState
	current, cerr := r.currentStateTx(tx, hostID)
	if cerr == nil {
		from = &current
	}

	placeholders := make([]interface{}, 0, len(fromStates)+2)
	placeholders = append(placeholders, toState, hostID)
	inClause := ""
	for i, s := range fromStates {
		if i > 0 {
			inClause += ","
		}
		inClause += fmt.Sprintf("$%d", i+3)
		placeholders = append(placeholders, s)
	}

	query := fmt.Sprintf(`UPDATE hosts SET state = $1, updated_at = NOW() WHERE id = $2 AND state IN (%s)`, inClause)
	res, err := tx.Exec(query, placeholders...)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	if err := r.insertEventTx(tx, hostID, from, toState, reason, meta); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func (r *HostRepository) currentStateTx(tx *sql.Tx, hostID string) (models.HostState, error) {
	var s models.HostState
	err := tx.QueryRow(`SELECT state FROM hosts WHERE id = $1`, hostID).Scan(&s)
	return s, err
}

// UpdateProvisioningFields persists the fields the provisioning task sets as
// it advances a Host (provider handle/metadata, address, readiness flags).
func (r *HostRepository) UpdateProvisioningFields(hostID string, providerHandle string, providerMetadata map[string]string, address string, environmentReady bool) error {
	metaJSON, err := json.Marshal(providerMetadata)
	if err != nil {
		return err
	}
	query := `
		UPDATE hosts
		SET provider_handle = COALESCE(NULLIF($1, ''), provider_handle),
		    provider_metadata = $2,
		    address = COALESCE(NULLIF($3, ''), address),
		    environment_ready = environment_ready OR $4,
		    updated_at = NOW()
		WHERE id = $5
	`
	_, err = r.db.Exec(query, providerHandle, metaJSON, address, environmentReady, hostID)
	return err
}

// RecordLastError stores a human-readable failure reason alongside a FAILED transition.
func (r *HostRepository) RecordLastError(hostID string, lastError string) error {
	_, err := r.db.Exec(`UPDATE hosts SET last_error = $1, updated_at = NOW() WHERE id = $2`, lastError, hostID)
	return err
}

// TouchActivity updates last_activity (and updated_at). session_started_at and
// last_client_disconnect are set by SetSessionStarted and SetLastClientDisconnect.
func (r *HostRepository) TouchActivity(hostID string, at time.Time) error {
	_, err := r.db.Exec(`UPDATE hosts SET last_activity = $1, updated_at = NOW() WHERE id = $2`, at, hostID)
	return err
}

func (r *HostRepository) SetSessionStarted(hostID string, at time.Time) error {
	_, err := r.db.Exec(`UPDATE hosts SET session_started_at = $1 WHERE id = $2 AND session_started_at IS NULL`, at, hostID)
	return err
}

func (r *HostRepository) SetLastClientDisconnect(hostID string, since time.Time) error {
	_, err := r.db.Exec(`UPDATE hosts SET last_client_disconnect = $1 WHERE id = $2`, since, hostID)
	return err
}

// ApplySaveEvent implements the §4.4.3 replace-not-increment rule, idempotent
// regardless of arrival order: the stored accumulated_seconds is only moved
// forward to the value implied by the larger wall_clock.
func (r *HostRepository) ApplySaveEvent(hostID string, accumulatedSeconds int64, seq int64) error {
	query := `
		UPDATE hosts
		SET accumulated_seconds = GREATEST(accumulated_seconds, $1),
		    last_seq = GREATEST(last_seq, $2),
		    updated_at = NOW()
		WHERE id = $3
	`
	_, err := r.db.Exec(query, accumulatedSeconds, seq, hostID)
	return err
}

// IncrementUnhealthyStrikes returns the new strike count.
func (r *HostRepository) IncrementUnhealthyStrikes(hostID string) (int, error) {
	var strikes int
	err := r.db.QueryRow(`UPDATE hosts SET unhealthy_strikes = unhealthy_strikes + 1, updated_at = NOW() WHERE id = $1 RETURNING unhealthy_strikes`, hostID).Scan(&strikes)
	return strikes, err
}

func (r *HostRepository) ResetUnhealthyStrikes(hostID string) error {
	_, err := r.db.Exec(`UPDATE hosts SET unhealthy_strikes = 0, updated_at = NOW() WHERE id = $1`, hostID)
	return err
}

// FindActiveByUserAndPlatform implements the request_session dedup lookup of §4.4.1 step 2.
func (r *HostRepository) FindActiveByUserAndPlatform(userID, platform string) (*models.Host, error) {
	query := `
		SELECT id, tier, platform, provider, provider_handle, provider_metadata,
			address, agent_port, state, created_at, updated_at, last_activity,
			auto_stop_timeout_seconds, user_coord_lat, user_coord_lon,
			environment_ready, saves_mounted, user_id, save_ref,
			unhealthy_strikes, last_client_disconnect, last_error,
			session_started_at, accumulated_seconds, last_seq
		FROM hosts
		WHERE user_id = $1 AND platform = $2
		  AND state IN ('READY','RUNNING','IDLE','STOPPED')
		ORDER BY created_at DESC
		LIMIT 1
	`
	h, err := r.scanRow(r.db.QueryRow(query, userID, platform))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return h, err
}

// ListByStates enumerates Hosts whose state is one of states, for the Supervisor sweeps.
func (r *HostRepository) ListByStates(states ...models.HostState) ([]*models.Host, error) {
	placeholders := make([]interface{}, len(states))
	inClause := ""
	for i, s := range states {
		if i > 0 {
			inClause += ","
		}
		inClause += fmt.Sprintf("$%d", i+1)
		placeholders[i] = s
	}
	query := fmt.Sprintf(`
		SELECT id, tier, platform, provider, provider_handle, provider_metadata,
			address, agent_port, state, created_at, updated_at, last_activity,
			auto_stop_timeout_seconds, user_coord_lat, user_coord_lon,
			environment_ready, saves_mounted, user_id, save_ref,
			unhealthy_strikes, last_client_disconnect, last_error,
			session_started_at, accumulated_seconds, last_seq
		FROM hosts WHERE state IN (%s)
	`, inClause)

	rows, err := r.db.Query(query, placeholders...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hosts []*models.Host
	for rows.Next() {
		var h models.Host
		var providerHandle, address, saveRef sql.NullString
		var lastActivity, lastClientDisconnect, sessionStartedAt sql.NullTime
		var lastError sql.NullString
		var userLat, userLon sql.NullFloat64
		var autoStopSeconds int64
		var metaJSON []byte

		if err := rows.Scan(
			&h.ID, &h.Tier, &h.Platform, &h.Provider, &providerHandle, &metaJSON,
			&address, &h.AgentPort, &h.State, &h.CreatedAt, &h.UpdatedAt, &lastActivity,
			&autoStopSeconds, &userLat, &userLon,
			&h.EnvironmentReady, &h.SavesMounted, &h.UserID, &saveRef,
			&h.UnhealthyStrikes, &lastClientDisconnect, &lastError,
			&sessionStartedAt, &h.AccumulatedSeconds, &h.LastSeq,
		); err != nil {
			continue
		}
		h.ProviderHandle = providerHandle.String
		h.Address = address.String
		h.SaveRef = saveRef.String
		h.LastError = lastError.String
		h.AutoStopTimeout = time.Duration(autoStopSeconds) * time.Second
		if lastActivity.Valid {
			t := lastActivity.Time
			h.LastActivity = &t
		}
		if lastClientDisconnect.Valid {
			t := lastClientDisconnect.Time
			h.LastClientDisconnect = &t
		}
		if sessionStartedAt.Valid {
			t := sessionStartedAt.Time
			h.SessionStartedAt = &t
		}
		if userLat.Valid && userLon.Valid {
			h.UserCoord = &models.Coord{Lat: userLat.Float64, Lon: userLon.Float64}
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &h.ProviderMetadata)
		}
		hosts = append(hosts, &h)
	}
	return hosts, nil
}

// ListStoppedOlderThan implements the long-stopped sweep enumeration (§4.5).
func (r *HostRepository) ListStoppedOlderThan(cutoff time.Time) ([]*models.Host, error) {
	all, err := r.ListByStates(models.HostStateStopped)
	if err != nil {
		return nil, err
	}
	var out []*models.Host
	for _, h := range all {
		if h.UpdatedAt.Before(cutoff) {
			out = append(out, h)
		}
	}
	return out, nil
}

// ListForBilling returns every Host whose lifecycle overlaps [t0, t1], optionally filtered.
func (r *HostRepository) ListForBilling(t0, t1 time.Time, provider *models.Provider, userID *string) ([]*models.Host, error) {
	query := `
		SELECT id, tier, platform, provider, provider_handle, provider_metadata,
			address, agent_port, state, created_at, updated_at, last_activity,
			auto_stop_timeout_seconds, user_coord_lat, user_coord_lon,
			environment_ready, saves_mounted, user_id, save_ref,
			unhealthy_strikes, last_client_disconnect, last_error,
			session_started_at, accumulated_seconds, last_seq
		FROM hosts
		WHERE created_at <= $1 AND (last_activity IS NULL OR last_activity >= $2)
	`
	args := []interface{}{t1, t0}
	idx := 3
	if provider != nil {
		query += fmt.Sprintf(" AND provider = $%d", idx)
		args = append(args, *provider)
		idx++
	}
	if userID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", idx)
		args = append(args, *userID)
		idx++
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hosts []*models.Host
	for rows.Next() {
		var h models.Host
		var providerHandle, address, saveRef sql.NullString
		var lastActivity, lastClientDisconnect, sessionStartedAt sql.NullTime
		var lastError sql.NullString
		var userLat, userLon sql.NullFloat64
		var autoStopSeconds int64
		var metaJSON []byte

		if err := rows.Scan(
			&h.ID, &h.Tier, &h.Platform, &h.Provider, &providerHandle, &metaJSON,
			&address, &h.AgentPort, &h.State, &h.CreatedAt, &h.UpdatedAt, &lastActivity,
			&autoStopSeconds, &userLat, &userLon,
			&h.EnvironmentReady, &h.SavesMounted, &h.UserID, &saveRef,
			&h.UnhealthyStrikes, &lastClientDisconnect, &lastError,
			&sessionStartedAt, &h.AccumulatedSeconds, &h.LastSeq,
		); err != nil {
			continue
		}
		h.ProviderHandle = providerHandle.String
		h.Address = address.String
		h.SaveRef = saveRef.String
		h.LastError = lastError.String
		h.AutoStopTimeout = time.Duration(autoStopSeconds) * time.Second
		if lastActivity.Valid {
			t := lastActivity.Time
			h.LastActivity = &t
		}
		if userLat.Valid && userLon.Valid {
			h.UserCoord = &models.Coord{Lat: userLat.Float64, Lon: userLon.Float64}
		}
		hosts = append(hosts, &h)
	}
	return hosts, nil
}

func (r *HostRepository) insertEventTx(tx *sql.Tx, hostID string, from *models.HostState, to models.HostState, reason string, meta map[string]interface{}) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	var fromStr *string
	if from != nil {
		s := string(*from)
		fromStr = &s
	}
	_, err = tx.Exec(
		`INSERT INTO host_events (host_id, from_state, to_state, reason, meta_json, at) VALUES ($1,$2,$3,$4,$5,NOW())`,
		hostID, fromStr, to, reason, metaJSON,
	)
	return err
}

// InsertEvent records a lifecycle/warning event outside of a state transition
// (e.g. the spend-cap warning sink of SPEC_FULL.md §D.3).
func (r *HostRepository) InsertEvent(hostID string, reason string, meta map[string]interface{}) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(
		`INSERT INTO host_events (host_id, from_state, to_state, reason, meta_json, at) VALUES ($1, NULL, (SELECT state FROM hosts WHERE id=$1), $2, $3, NOW())`,
		hostID, reason, metaJSON,
	)
	return err
}
