package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of session event
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventSTTResult      EventType = "stt_result"
	EventTurnFinalized  EventType = "turn_finalized"
	EventModelStarted   EventType = "model_started"
	EventModelCompleted EventType = "model_completed"
	EventModelError     EventType = "model_error"
	EventTTSFallback    EventType = "tts_fallback"
	EventPlaybackError  EventType = "playback_error"
	EventMicDenied      EventType = "mic_denied"
	EventMuteToggled    EventType = "mute_toggled"
	EventSessionEnded   EventType = "session_ended"
)

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, callID string, eventType EventType, data map[string]any) error {
	if l.db == nil || callID == "" {
		return nil // Silently skip if no DB or call ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO session_events (call_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, callID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(callID string, eventType EventType, data map[string]any) {
	if l.db == nil || callID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, callID, eventType, data)
	}()
}

// Event is a stored session event.
type Event struct {
	ID        int64           `json:"id"`
	CallID    string          `json:"call_id"`
	EventType EventType       `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
	CreatedAt time.Time       `json:"created_at"`
}

// ListForCall returns a call's events in insertion order, for the call
// detail view.
func (l *Logger) ListForCall(ctx context.Context, callID string) ([]Event, error) {
	if l.db == nil {
		return nil, nil
	}

	rows, err := l.db.Query(ctx, `
		SELECT id, call_id, event_type, event_data, created_at
		FROM session_events
		WHERE call_id = $1
		ORDER BY id
	`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.CallID, &e.EventType, &e.EventData, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
