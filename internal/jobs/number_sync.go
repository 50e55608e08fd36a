package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nexusvoice/nexusvoice/internal/store"
	"github.com/nexusvoice/nexusvoice/internal/telephony"
)

// numberLister is the slice of the Twilio client the sync job needs.
type numberLister interface {
	ListIncomingNumbers(ctx context.Context, creds telephony.Credentials) ([]telephony.IncomingNumber, error)
}

// numberStore is the slice of the store the sync job needs.
type numberStore interface {
	GetSettings(ctx context.Context, keys []string) (map[string]string, error)
	UpsertPhoneNumber(ctx context.Context, number string, providerSID, friendlyName *string) (*store.PhoneNumber, error)
}

// NumberSyncJob periodically mirrors the Twilio account's number inventory
// into the local store, so numbers bought outside the dashboard still show up
// for agent routing. It runs on a configurable interval (default: 15 minutes).
type NumberSyncJob struct {
	store    numberStore
	twilio   numberLister
	logger   *log.Logger
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewNumberSyncJob creates a new number sync job.
func NewNumberSyncJob(s numberStore, tw numberLister, logger *log.Logger, interval time.Duration) *NumberSyncJob {
	if interval == 0 {
		interval = 15 * time.Minute
	}
	return &NumberSyncJob{
		store:    s,
		twilio:   tw,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background job.
func (j *NumberSyncJob) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("NumberSyncJob: started (interval=%v)", j.interval)
}

// Stop gracefully stops the background job.
func (j *NumberSyncJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	j.logger.Println("NumberSyncJob: stopped")
}

func (j *NumberSyncJob) run() {
	defer j.wg.Done()

	// Run immediately on start
	j.syncOnce(context.Background())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.syncOnce(context.Background())
		case <-j.stopCh:
			return
		}
	}
}

// syncOnce pulls the account's numbers and upserts them into the store.
// Twilio credentials live in settings so users can change them at runtime.
func (j *NumberSyncJob) syncOnce(ctx context.Context) {
	settings, err := j.store.GetSettings(ctx, []string{"twilio_account_sid", "twilio_auth_token"})
	if err != nil {
		j.logger.Printf("NumberSyncJob: failed to load Twilio credentials: %v", err)
		return
	}

	creds := telephony.Credentials{
		AccountSID: settings["twilio_account_sid"],
		AuthToken:  settings["twilio_auth_token"],
	}
	if creds.AccountSID == "" || creds.AuthToken == "" {
		// Not an error: the account simply is not linked yet.
		return
	}

	numbers, err := j.twilio.ListIncomingNumbers(ctx, creds)
	if err != nil {
		j.logger.Printf("NumberSyncJob: failed to list numbers: %v", err)
		return
	}

	synced := 0
	for _, n := range numbers {
		sid := n.SID
		friendly := n.FriendlyName
		if _, err := j.store.UpsertPhoneNumber(ctx, n.PhoneNumber, &sid, &friendly); err != nil {
			j.logger.Printf("NumberSyncJob: failed to upsert %s: %v", n.PhoneNumber, err)
			continue
		}
		synced++
	}

	if synced > 0 {
		j.logger.Printf("NumberSyncJob: synced %d numbers", synced)
	}
}
