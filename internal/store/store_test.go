package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// getTestDB returns a database pool for testing.
// Skips the test if DATABASE_URL is not set.
func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	return db
}

func testAgent() Agent {
	return Agent{
		Name:                    "Test Receptionist",
		Prompt:                  "You are a friendly receptionist.",
		Model:                   "gemini-3-flash-preview",
		Temperature:             0.7,
		TranscriptionLanguage:   "en-US",
		MaxDurationSeconds:      300,
		SilenceTimeoutSeconds:   10,
		InterruptionSensitivity: "medium",
	}
}

func TestAgentOperations(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	agent, err := s.CreateAgent(ctx, testAgent())
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	defer s.DeleteAgent(ctx, agent.ID)

	if agent.ID == "" {
		t.Error("agent ID should not be empty")
	}
	if agent.Name != "Test Receptionist" {
		t.Errorf("agent name = %q, want %q", agent.Name, "Test Receptionist")
	}

	retrieved, err := s.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if retrieved.Prompt != agent.Prompt {
		t.Errorf("retrieved prompt = %q, want %q", retrieved.Prompt, agent.Prompt)
	}

	retrieved.Name = "Renamed"
	retrieved.GHLFieldMapping = map[string]string{"appointment_date": "custom_field_1"}
	updated, err := s.UpdateAgent(ctx, *retrieved)
	if err != nil {
		t.Fatalf("UpdateAgent failed: %v", err)
	}
	if updated.Name != "Renamed" {
		t.Errorf("updated name = %q, want %q", updated.Name, "Renamed")
	}
	if updated.GHLFieldMapping["appointment_date"] != "custom_field_1" {
		t.Errorf("field mapping not persisted: %v", updated.GHLFieldMapping)
	}

	agents, err := s.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	found := false
	for _, a := range agents {
		if a.ID == agent.ID {
			found = true
		}
	}
	if !found {
		t.Error("created agent missing from ListAgents")
	}
}

func TestFolderOperations(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	folder, err := s.CreateFolder(ctx, "Test Folder")
	if err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}

	agent, err := s.CreateAgent(ctx, testAgent())
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	defer s.DeleteAgent(ctx, agent.ID)

	if err := s.MoveAgentToFolder(ctx, agent.ID, &folder.ID); err != nil {
		t.Fatalf("MoveAgentToFolder failed: %v", err)
	}

	moved, err := s.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if moved.FolderID == nil || *moved.FolderID != folder.ID {
		t.Errorf("agent folder = %v, want %q", moved.FolderID, folder.ID)
	}

	// Deleting the folder must keep the agent and orphan it to the top level.
	if err := s.DeleteFolder(ctx, folder.ID); err != nil {
		t.Fatalf("DeleteFolder failed: %v", err)
	}

	orphaned, err := s.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent after folder delete failed: %v", err)
	}
	if orphaned.FolderID != nil {
		t.Errorf("agent folder = %v after folder delete, want nil", orphaned.FolderID)
	}
}

func TestPhoneNumberAssignment(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	agent, err := s.CreateAgent(ctx, testAgent())
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	defer s.DeleteAgent(ctx, agent.ID)

	sid := "PN-test-sid"
	first, err := s.UpsertPhoneNumber(ctx, "+15550001111", &sid, nil)
	if err != nil {
		t.Fatalf("UpsertPhoneNumber failed: %v", err)
	}
	defer s.DeletePhoneNumber(ctx, first.ID)

	second, err := s.UpsertPhoneNumber(ctx, "+15550002222", nil, nil)
	if err != nil {
		t.Fatalf("UpsertPhoneNumber failed: %v", err)
	}
	defer s.DeletePhoneNumber(ctx, second.ID)

	if err := s.AssignNumberToAgent(ctx, first.ID, agent.ID); err != nil {
		t.Fatalf("AssignNumberToAgent failed: %v", err)
	}

	// Routing a second number to the same agent must release the first one.
	if err := s.AssignNumberToAgent(ctx, second.ID, agent.ID); err != nil {
		t.Fatalf("AssignNumberToAgent (reassign) failed: %v", err)
	}

	routed, err := s.GetNumberForAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetNumberForAgent failed: %v", err)
	}
	if routed == nil || routed.ID != second.ID {
		t.Errorf("routed number = %+v, want the second number", routed)
	}

	numbers, err := s.ListPhoneNumbers(ctx)
	if err != nil {
		t.Fatalf("ListPhoneNumbers failed: %v", err)
	}
	for _, pn := range numbers {
		if pn.ID == first.ID && pn.AgentID != nil {
			t.Error("first number still routed after reassignment")
		}
	}

	// Deleting the agent releases its number back to the pool.
	if err := s.DeleteAgent(ctx, agent.ID); err != nil {
		t.Fatalf("DeleteAgent failed: %v", err)
	}
	released, err := s.GetNumberForAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetNumberForAgent after agent delete failed: %v", err)
	}
	if released != nil {
		t.Errorf("number still routed to deleted agent: %+v", released)
	}
}

func TestSettings(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	if err := s.SetSetting(ctx, "test_webhook_url", "https://example.com/hook"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	defer s.DeleteSetting(ctx, "test_webhook_url")

	got, err := s.GetSetting(ctx, "test_webhook_url")
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}
	if got != "https://example.com/hook" {
		t.Errorf("setting = %q, want %q", got, "https://example.com/hook")
	}

	// Overwrite
	if err := s.SetSetting(ctx, "test_webhook_url", "https://example.com/hook2"); err != nil {
		t.Fatalf("SetSetting (overwrite) failed: %v", err)
	}
	got, err = s.GetSetting(ctx, "test_webhook_url")
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}
	if got != "https://example.com/hook2" {
		t.Errorf("setting = %q, want overwritten value", got)
	}

	missing, err := s.GetSetting(ctx, "test_setting_never_set")
	if err != nil {
		t.Fatalf("GetSetting for missing key failed: %v", err)
	}
	if missing != "" {
		t.Errorf("missing setting = %q, want empty", missing)
	}
}

func TestCallLogs(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	agent, err := s.CreateAgent(ctx, testAgent())
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	defer s.DeleteAgent(ctx, agent.ID)

	id, err := s.InsertCallLog(ctx, CallLog{
		AgentID:   &agent.ID,
		Direction: "simulated",
		Status:    "in-progress",
		StartedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("InsertCallLog failed: %v", err)
	}

	transcript := json.RawMessage(`[{"role":"user","text":"hello"},{"role":"agent","text":"hi"}]`)
	endedAt := time.Now()
	if err := s.FinishCallLog(ctx, id, "completed", transcript, 42, endedAt); err != nil {
		t.Fatalf("FinishCallLog failed: %v", err)
	}

	got, err := s.GetCallLog(ctx, id)
	if err != nil {
		t.Fatalf("GetCallLog failed: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.DurationSeconds != 42 {
		t.Errorf("duration = %d, want 42", got.DurationSeconds)
	}

	var entries []map[string]string
	if err := json.Unmarshal(got.Transcript, &entries); err != nil {
		t.Fatalf("transcript did not round-trip: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("transcript entries = %d, want 2", len(entries))
	}

	logs, err := s.ListCallLogs(ctx, &agent.ID, 10)
	if err != nil {
		t.Fatalf("ListCallLogs failed: %v", err)
	}
	found := false
	for _, c := range logs {
		if c.ID == id {
			found = true
		}
	}
	if !found {
		t.Error("call log missing from agent-filtered list")
	}
}
