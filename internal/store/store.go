package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Agent is the full configuration of one voice agent.
type Agent struct {
	ID                      string            `json:"id"`
	Name                    string            `json:"name"`
	Description             *string           `json:"description,omitempty"`
	Prompt                  string            `json:"prompt"`
	Model                   string            `json:"model"`
	Temperature             float64           `json:"temperature"`
	VoiceID                 *string           `json:"voice_id,omitempty"`
	Greeting                *string           `json:"greeting,omitempty"`
	TranscriptionLanguage   string            `json:"transcription_language"`
	MaxDurationSeconds      int               `json:"max_duration_seconds"`
	SilenceTimeoutSeconds   int               `json:"silence_timeout_seconds"`
	InterruptionSensitivity string            `json:"interruption_sensitivity"`
	WaitForGreeting         bool              `json:"wait_for_greeting"`
	FolderID                *string           `json:"folder_id,omitempty"`
	GHLFieldMapping         map[string]string `json:"ghl_field_mapping,omitempty"`
	CreatedAt               time.Time         `json:"created_at"`
	UpdatedAt               time.Time         `json:"updated_at"`
}

// Folder groups agents in the dashboard sidebar.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// PhoneNumber is a provisioned telephony number, optionally routed to an agent.
type PhoneNumber struct {
	ID           string    `json:"id"`
	Number       string    `json:"number"`
	ProviderSID  *string   `json:"provider_sid,omitempty"`
	FriendlyName *string   `json:"friendly_name,omitempty"`
	AgentID      *string   `json:"agent_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ConnectedAccount is an external CRM account linked to the dashboard.
type ConnectedAccount struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	LocationID   string    `json:"location_id"`
	LocationName *string   `json:"location_name,omitempty"`
	AccessToken  string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// CallLog is one finished or in-progress call, simulated or real.
type CallLog struct {
	ID              string          `json:"id"`
	AgentID         *string         `json:"agent_id,omitempty"`
	Direction       string          `json:"direction"`
	FromNumber      *string         `json:"from_number,omitempty"`
	ToNumber        *string         `json:"to_number,omitempty"`
	Status          string          `json:"status"`
	Transcript      json.RawMessage `json:"transcript"`
	DurationSeconds int             `json:"duration_seconds"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
}

const agentColumns = `id, name, description, prompt, model, temperature, voice_id, greeting,
	       transcription_language, max_duration_seconds, silence_timeout_seconds,
	       interruption_sensitivity, wait_for_greeting, folder_id, ghl_field_mapping,
	       created_at, updated_at`

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	var mapping []byte
	err := row.Scan(
		&a.ID, &a.Name, &a.Description, &a.Prompt, &a.Model, &a.Temperature, &a.VoiceID, &a.Greeting,
		&a.TranscriptionLanguage, &a.MaxDurationSeconds, &a.SilenceTimeoutSeconds,
		&a.InterruptionSensitivity, &a.WaitForGreeting, &a.FolderID, &mapping,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &a.GHLFieldMapping); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

// CreateAgent inserts a new agent and returns it with generated fields populated.
func (s *Store) CreateAgent(ctx context.Context, a Agent) (*Agent, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	mapping, err := marshalMapping(a.GHLFieldMapping)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO agents (id, name, description, prompt, model, temperature, voice_id, greeting,
		                    transcription_language, max_duration_seconds, silence_timeout_seconds,
		                    interruption_sensitivity, wait_for_greeting, folder_id, ghl_field_mapping)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING `+agentColumns+`
	`, a.ID, a.Name, a.Description, a.Prompt, a.Model, a.Temperature, a.VoiceID, a.Greeting,
		a.TranscriptionLanguage, a.MaxDurationSeconds, a.SilenceTimeoutSeconds,
		a.InterruptionSensitivity, a.WaitForGreeting, a.FolderID, mapping)
	return scanAgent(row)
}

// GetAgent retrieves an agent by ID.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

// ListAgents returns all agents, newest first.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := []Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// UpdateAgent overwrites the agent's configuration and returns the stored row.
func (s *Store) UpdateAgent(ctx context.Context, a Agent) (*Agent, error) {
	mapping, err := marshalMapping(a.GHLFieldMapping)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, `
		UPDATE agents
		SET name = $2, description = $3, prompt = $4, model = $5, temperature = $6,
		    voice_id = $7, greeting = $8, transcription_language = $9,
		    max_duration_seconds = $10, silence_timeout_seconds = $11,
		    interruption_sensitivity = $12, wait_for_greeting = $13,
		    folder_id = $14, ghl_field_mapping = $15, updated_at = NOW()
		WHERE id = $1
		RETURNING `+agentColumns+`
	`, a.ID, a.Name, a.Description, a.Prompt, a.Model, a.Temperature,
		a.VoiceID, a.Greeting, a.TranscriptionLanguage,
		a.MaxDurationSeconds, a.SilenceTimeoutSeconds,
		a.InterruptionSensitivity, a.WaitForGreeting,
		a.FolderID, mapping)
	return scanAgent(row)
}

// DeleteAgent removes an agent. Any phone numbers routed to it are unassigned
// first so they return to the available pool.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `UPDATE phone_numbers SET agent_id = NULL WHERE agent_id = $1`, id)
	if err != nil {
		return err
	}

	result, err := tx.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return tx.Commit(ctx)
}

func marshalMapping(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}

// ============================================================================
// Folder operations
// ============================================================================

// CreateFolder creates a named sidebar folder.
func (s *Store) CreateFolder(ctx context.Context, name string) (*Folder, error) {
	var f Folder
	err := s.db.QueryRow(ctx, `
		INSERT INTO agent_folders (id, name)
		VALUES ($1, $2)
		RETURNING id, name, created_at
	`, uuid.NewString(), name).Scan(&f.ID, &f.Name, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFolders returns all folders ordered by name.
func (s *Store) ListFolders(ctx context.Context) ([]Folder, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, created_at FROM agent_folders ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	folders := []Folder{}
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.Name, &f.CreatedAt); err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// RenameFolder updates a folder's name.
func (s *Store) RenameFolder(ctx context.Context, id, name string) error {
	result, err := s.db.Exec(ctx, `UPDATE agent_folders SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteFolder removes a folder. Agents inside it are kept and moved to the
// top level rather than deleted with the folder.
func (s *Store) DeleteFolder(ctx context.Context, id string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `UPDATE agents SET folder_id = NULL WHERE folder_id = $1`, id)
	if err != nil {
		return err
	}

	result, err := tx.Exec(ctx, `DELETE FROM agent_folders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return tx.Commit(ctx)
}

// MoveAgentToFolder reassigns an agent's folder. Pass nil to move it to the top level.
func (s *Store) MoveAgentToFolder(ctx context.Context, agentID string, folderID *string) error {
	result, err := s.db.Exec(ctx, `UPDATE agents SET folder_id = $2 WHERE id = $1`, agentID, folderID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ============================================================================
// Phone number operations
// ============================================================================

// UpsertPhoneNumber records a provisioned number, keyed by the E.164 number.
// Used both when buying a number and when syncing the account's inventory.
func (s *Store) UpsertPhoneNumber(ctx context.Context, number string, providerSID, friendlyName *string) (*PhoneNumber, error) {
	var pn PhoneNumber
	err := s.db.QueryRow(ctx, `
		INSERT INTO phone_numbers (id, number, provider_sid, friendly_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (number) DO UPDATE SET
			provider_sid = COALESCE(EXCLUDED.provider_sid, phone_numbers.provider_sid),
			friendly_name = COALESCE(EXCLUDED.friendly_name, phone_numbers.friendly_name)
		RETURNING id, number, provider_sid, friendly_name, agent_id, created_at
	`, uuid.NewString(), number, providerSID, friendlyName).Scan(
		&pn.ID, &pn.Number, &pn.ProviderSID, &pn.FriendlyName, &pn.AgentID, &pn.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &pn, nil
}

// ListPhoneNumbers returns every provisioned number with its routing.
func (s *Store) ListPhoneNumbers(ctx context.Context) ([]PhoneNumber, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, number, provider_sid, friendly_name, agent_id, created_at
		FROM phone_numbers
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	numbers := []PhoneNumber{}
	for rows.Next() {
		var pn PhoneNumber
		if err := rows.Scan(&pn.ID, &pn.Number, &pn.ProviderSID, &pn.FriendlyName, &pn.AgentID, &pn.CreatedAt); err != nil {
			return nil, err
		}
		numbers = append(numbers, pn)
	}
	return numbers, rows.Err()
}

// GetPhoneNumber returns one number record by ID.
func (s *Store) GetPhoneNumber(ctx context.Context, id string) (*PhoneNumber, error) {
	var pn PhoneNumber
	err := s.db.QueryRow(ctx, `
		SELECT id, number, provider_sid, friendly_name, agent_id, created_at
		FROM phone_numbers
		WHERE id = $1
	`, id).Scan(&pn.ID, &pn.Number, &pn.ProviderSID, &pn.FriendlyName, &pn.AgentID, &pn.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &pn, nil
}

// AssignNumberToAgent routes a number to an agent. An agent holds at most one
// number, so any number previously routed to that agent is released first.
func (s *Store) AssignNumberToAgent(ctx context.Context, numberID, agentID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `UPDATE phone_numbers SET agent_id = NULL WHERE agent_id = $1`, agentID)
	if err != nil {
		return err
	}

	result, err := tx.Exec(ctx, `UPDATE phone_numbers SET agent_id = $2 WHERE id = $1`, numberID, agentID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return tx.Commit(ctx)
}

// UnassignNumber releases a number back to the pool.
func (s *Store) UnassignNumber(ctx context.Context, numberID string) error {
	_, err := s.db.Exec(ctx, `UPDATE phone_numbers SET agent_id = NULL WHERE id = $1`, numberID)
	return err
}

// GetNumberForAgent returns the number routed to an agent, or nil when none is.
func (s *Store) GetNumberForAgent(ctx context.Context, agentID string) (*PhoneNumber, error) {
	var pn PhoneNumber
	err := s.db.QueryRow(ctx, `
		SELECT id, number, provider_sid, friendly_name, agent_id, created_at
		FROM phone_numbers
		WHERE agent_id = $1
	`, agentID).Scan(&pn.ID, &pn.Number, &pn.ProviderSID, &pn.FriendlyName, &pn.AgentID, &pn.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pn, nil
}

// DeletePhoneNumber removes a number record after it was released at the provider.
func (s *Store) DeletePhoneNumber(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM phone_numbers WHERE id = $1`, id)
	return err
}

// ============================================================================
// Connected account operations
// ============================================================================

// UpsertConnectedAccount links a CRM location, replacing any previous link for
// the same provider and location.
func (s *Store) UpsertConnectedAccount(ctx context.Context, a ConnectedAccount) (*ConnectedAccount, error) {
	var out ConnectedAccount
	err := s.db.QueryRow(ctx, `
		INSERT INTO connected_accounts (id, provider, location_id, location_name, access_token)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, location_id) DO UPDATE SET
			location_name = EXCLUDED.location_name,
			access_token = EXCLUDED.access_token
		RETURNING id, provider, location_id, location_name, access_token, created_at
	`, uuid.NewString(), a.Provider, a.LocationID, a.LocationName, a.AccessToken).Scan(
		&out.ID, &out.Provider, &out.LocationID, &out.LocationName, &out.AccessToken, &out.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListConnectedAccounts returns all linked CRM accounts.
func (s *Store) ListConnectedAccounts(ctx context.Context) ([]ConnectedAccount, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, provider, location_id, location_name, access_token, created_at
		FROM connected_accounts
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []ConnectedAccount{}
	for rows.Next() {
		var a ConnectedAccount
		if err := rows.Scan(&a.ID, &a.Provider, &a.LocationID, &a.LocationName, &a.AccessToken, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetConnectedAccount retrieves one linked account by ID.
func (s *Store) GetConnectedAccount(ctx context.Context, id string) (*ConnectedAccount, error) {
	var a ConnectedAccount
	err := s.db.QueryRow(ctx, `
		SELECT id, provider, location_id, location_name, access_token, created_at
		FROM connected_accounts
		WHERE id = $1
	`, id).Scan(&a.ID, &a.Provider, &a.LocationID, &a.LocationName, &a.AccessToken, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteConnectedAccount unlinks a CRM account.
func (s *Store) DeleteConnectedAccount(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM connected_accounts WHERE id = $1`, id)
	return err
}

// ============================================================================
// Settings operations
// ============================================================================

// SetSetting upserts one dashboard setting, such as a provider API key or the
// automation webhook URL.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	return err
}

// GetSetting returns a setting's value, or "" when it was never set.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	return value, err
}

// GetSettings returns the values for the given keys. Missing keys are omitted.
func (s *Store) GetSettings(ctx context.Context, keys []string) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value FROM settings WHERE key = ANY($1)`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string, len(keys))
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// DeleteSetting removes a setting.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM settings WHERE key = $1`, key)
	return err
}

// ============================================================================
// Call log operations
// ============================================================================

// InsertCallLog records a call and returns its ID.
func (s *Store) InsertCallLog(ctx context.Context, c CallLog) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if len(c.Transcript) == 0 {
		c.Transcript = json.RawMessage(`[]`)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO call_logs (id, agent_id, direction, from_number, to_number, status,
		                       transcript, duration_seconds, started_at, ended_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, c.ID, c.AgentID, c.Direction, c.FromNumber, c.ToNumber, c.Status,
		c.Transcript, c.DurationSeconds, c.StartedAt, c.EndedAt)
	return c.ID, err
}

// FinishCallLog closes out a call with its final transcript and duration.
func (s *Store) FinishCallLog(ctx context.Context, id, status string, transcript json.RawMessage, durationSeconds int, endedAt time.Time) error {
	if len(transcript) == 0 {
		transcript = json.RawMessage(`[]`)
	}
	_, err := s.db.Exec(ctx, `
		UPDATE call_logs
		SET status = $2, transcript = $3, duration_seconds = $4, ended_at = $5
		WHERE id = $1
	`, id, status, transcript, durationSeconds, endedAt)
	return err
}

// ListCallLogs returns recent calls, optionally filtered by agent.
func (s *Store) ListCallLogs(ctx context.Context, agentID *string, limit int) ([]CallLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, agent_id, direction, from_number, to_number, status,
		       transcript, duration_seconds, started_at, ended_at
		FROM call_logs
		WHERE $1::uuid IS NULL OR agent_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []CallLog{}
	for rows.Next() {
		var c CallLog
		var transcript []byte
		if err := rows.Scan(&c.ID, &c.AgentID, &c.Direction, &c.FromNumber, &c.ToNumber, &c.Status,
			&transcript, &c.DurationSeconds, &c.StartedAt, &c.EndedAt); err != nil {
			return nil, err
		}
		if len(transcript) > 0 {
			c.Transcript = json.RawMessage(transcript)
		} else {
			c.Transcript = json.RawMessage(`[]`)
		}
		logs = append(logs, c)
	}
	return logs, rows.Err()
}

// GetCallLog retrieves one call with its full transcript.
func (s *Store) GetCallLog(ctx context.Context, id string) (*CallLog, error) {
	var c CallLog
	var transcript []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, agent_id, direction, from_number, to_number, status,
		       transcript, duration_seconds, started_at, ended_at
		FROM call_logs
		WHERE id = $1
	`, id).Scan(&c.ID, &c.AgentID, &c.Direction, &c.FromNumber, &c.ToNumber, &c.Status,
		&transcript, &c.DurationSeconds, &c.StartedAt, &c.EndedAt)
	if err != nil {
		return nil, err
	}
	if len(transcript) > 0 {
		c.Transcript = json.RawMessage(transcript)
	} else {
		c.Transcript = json.RawMessage(`[]`)
	}
	return &c, nil
}
