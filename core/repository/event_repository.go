package repository

import (
	"encoding/json"
	"time"
)

// HostEvent is one row of the host_events audit trail: every lifecycle
// transition a Host goes through, retained even once the Host reaches a
// terminal state. The Supervisor's strike counter and the §7 last_error
// surface are columns of the hosts table, not derived from these rows.
type HostEvent struct {
	ID       int64
	HostID   string
	At       time.Time
	From     *string
	To       string
	Reason   string
	MetaJSON map[string]interface{}
}

// EventRepository reads the host_events audit trail.
type EventRepository struct {
	db *DB
}

func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// GetHostEvents returns the most recent limit events for a host, newest first.
func (r *EventRepository) GetHostEvents(hostID string, limit int) ([]HostEvent, error) {
	rows, err := r.db.Query(
		`SELECT id, host_id, at, from_state, to_state, reason, meta_json
		 FROM host_events WHERE host_id = $1 ORDER BY at DESC LIMIT $2`,
		hostID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []HostEvent
	for rows.Next() {
		var e HostEvent
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.HostID, &e.At, &e.From, &e.To, &e.Reason, &metaJSON); err != nil {
			continue
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &e.MetaJSON)
		}
		events = append(events, e)
	}
	return events, nil
}
