package jobs

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/nexusvoice/nexusvoice/internal/store"
	"github.com/nexusvoice/nexusvoice/internal/telephony"
)

type fakeNumberStore struct {
	mu       sync.Mutex
	settings map[string]string
	upserts  []string
}

func (f *fakeNumberStore) GetSettings(_ context.Context, keys []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := f.settings[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeNumberStore) UpsertPhoneNumber(_ context.Context, number string, providerSID, friendlyName *string) (*store.PhoneNumber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, number)
	return &store.PhoneNumber{Number: number}, nil
}

func (f *fakeNumberStore) upserted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.upserts))
	copy(out, f.upserts)
	return out
}

type fakeLister struct {
	mu      sync.Mutex
	numbers []telephony.IncomingNumber
	err     error
	creds   telephony.Credentials
	calls   int
}

func (f *fakeLister) ListIncomingNumbers(_ context.Context, creds telephony.Credentials) ([]telephony.IncomingNumber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = creds
	f.calls++
	return f.numbers, f.err
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var jobLogger = log.New(io.Discard, "", 0)

func TestSyncOnceUpsertsNumbers(t *testing.T) {
	st := &fakeNumberStore{settings: map[string]string{
		"twilio_account_sid": "AC123",
		"twilio_auth_token":  "token",
	}}
	tw := &fakeLister{numbers: []telephony.IncomingNumber{
		{SID: "PN1", PhoneNumber: "+14155550101", FriendlyName: "(415) 555-0101"},
		{SID: "PN2", PhoneNumber: "+15125550199", FriendlyName: "(512) 555-0199"},
	}}

	j := NewNumberSyncJob(st, tw, jobLogger, time.Hour)
	j.syncOnce(context.Background())

	got := st.upserted()
	if len(got) != 2 || got[0] != "+14155550101" || got[1] != "+15125550199" {
		t.Errorf("upserted = %v", got)
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.creds.AccountSID != "AC123" || tw.creds.AuthToken != "token" {
		t.Errorf("creds = %+v, want credentials from settings", tw.creds)
	}
}

func TestSyncOnceSkipsWhenUnlinked(t *testing.T) {
	st := &fakeNumberStore{settings: map[string]string{}}
	tw := &fakeLister{}

	j := NewNumberSyncJob(st, tw, jobLogger, time.Hour)
	j.syncOnce(context.Background())

	if tw.callCount() != 0 {
		t.Error("Twilio called without credentials configured")
	}
	if len(st.upserted()) != 0 {
		t.Error("numbers upserted without credentials configured")
	}
}

func TestSyncOnceToleratesAPIError(t *testing.T) {
	st := &fakeNumberStore{settings: map[string]string{
		"twilio_account_sid": "AC123",
		"twilio_auth_token":  "token",
	}}
	tw := &fakeLister{err: errors.New("rate limited")}

	j := NewNumberSyncJob(st, tw, jobLogger, time.Hour)
	j.syncOnce(context.Background())

	if len(st.upserted()) != 0 {
		t.Error("numbers upserted despite API error")
	}
}

func TestStartStopRunsImmediately(t *testing.T) {
	st := &fakeNumberStore{settings: map[string]string{
		"twilio_account_sid": "AC123",
		"twilio_auth_token":  "token",
	}}
	tw := &fakeLister{}

	j := NewNumberSyncJob(st, tw, jobLogger, time.Hour)
	j.Start()

	deadline := time.After(2 * time.Second)
	for tw.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("job did not run on start")
		case <-time.After(time.Millisecond):
		}
	}

	j.Stop()
}
