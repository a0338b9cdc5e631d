// Package sync drives profile batching, the bulk-import state machine and
// event posting against the remote API, one cycle per store scope.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"time"

	"github.com/marketbridge/apsis-sync/internal/apiclient"
	"github.com/marketbridge/apsis-sync/internal/auth/token"
	"github.com/marketbridge/apsis-sync/internal/db/models"
	"github.com/marketbridge/apsis-sync/internal/logging"
	"github.com/marketbridge/apsis-sync/internal/store"
)

// ImportGateway is the slice of the API the coordinator needs.
type ImportGateway interface {
	InitializeImport(ctx context.Context, token, section string, mappings []string) (*apiclient.ImportInit, apiclient.Result)
	UploadImportFile(ctx context.Context, uploadURL string, body map[string]string, filePath string) apiclient.Result
	GetImportStatus(ctx context.Context, token, section, importID string) (*apiclient.ImportStatus, apiclient.Result)
}

// TokenSource issues a valid access token for a store scope.
type TokenSource interface {
	GetToken(ctx context.Context, storeID uint) (string, error)
}

// SectionSource looks up the target section discriminator for a store.
type SectionSource interface {
	Lookup(storeID uint, path string) (string, bool)
}

// FileRemover deletes a staged batch file.
type FileRemover interface {
	Remove(path string) error
}

// DefaultMaxPollAttempts caps how many cycles a batch may remain
// non-terminal before it is failed outright. The source system polls
// forever; the cap makes stuck batches visible instead of eternal.
const DefaultMaxPollAttempts = 48

// uploadExpiryLayout is the timestamp format of file_upload_url_expires_at.
const uploadExpiryLayout = time.RFC3339

// Coordinator is the batch-import state machine driver:
// PENDING -> PROCESSING -> {COMPLETED, FAILED}.
type Coordinator struct {
	gateway         ImportGateway
	tokens          TokenSource
	sectionPath     string
	sections        SectionSource
	profiles        *store.ProfileStore
	batches         *store.BatchStore
	files           FileRemover
	maxPollAttempts int
	now             func() time.Time
}

// NewCoordinator wires the state machine. maxPollAttempts <= 0 selects
// DefaultMaxPollAttempts.
func NewCoordinator(
	gateway ImportGateway,
	tokens TokenSource,
	sections SectionSource,
	sectionPath string,
	profiles *store.ProfileStore,
	batches *store.BatchStore,
	files FileRemover,
	maxPollAttempts int,
) *Coordinator {
	if maxPollAttempts <= 0 {
		maxPollAttempts = DefaultMaxPollAttempts
	}
	return &Coordinator{
		gateway:         gateway,
		tokens:          tokens,
		sections:        sections,
		sectionPath:     sectionPath,
		profiles:        profiles,
		batches:         batches,
		files:           files,
		maxPollAttempts: maxPollAttempts,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle executes one poll cycle for a store scope. Missing credentials or
// section mapping mean "nothing to do", not an error. PENDING batches are
// handled before PROCESSING ones so new imports are kicked off before old
// ones are polled. No error escapes the cycle; per-item failures are logged
// and the loop continues.
func (c *Coordinator) RunCycle(ctx context.Context, st models.Store) {
	tok, err := c.tokens.GetToken(ctx, st.ID)
	if errors.Is(err, token.ErrDisabled) || errors.Is(err, token.ErrMissingCredentials) {
		return
	}
	if err != nil {
		log.Printf("⚠️ %sStore %s: token unavailable, skipping cycle: %v", logging.Tag(ctx), st.Code, err)
		return
	}

	section, ok := c.sections.Lookup(st.ID, c.sectionPath)
	if !ok || section == "" {
		return
	}

	c.handlePending(ctx, tok, st, section)
	c.handleProcessing(ctx, tok, st, section)
}

// handlePending initializes the import and uploads the staged file for every
// PENDING batch.
func (c *Coordinator) handlePending(ctx context.Context, tok string, st models.Store, section string) {
	batches, err := c.batches.PendingForStore(st.ID)
	if err != nil {
		log.Printf("⚠️ %sStore %s: load pending batches: %v", logging.Tag(ctx), st.Code, err)
		return
	}

	for i := range batches {
		item := &batches[i]

		var mappings []string
		if err := json.Unmarshal([]byte(item.JSONMappings), &mappings); err != nil {
			// Unreadable mapping can never succeed; terminal.
			c.failBatch(ctx, st, item, "unreadable column mappings: "+err.Error())
			continue
		}

		init, res := c.gateway.InitializeImport(ctx, tok, section, mappings)
		switch res.Outcome {
		case apiclient.TransportFailure:
			log.Printf("⚠️ %sStore %s: unable to initialize import for batch %d: %s",
				logging.Tag(ctx), st.Code, item.ID, res.Message)
			c.countAttempt(ctx, st, item)
			continue
		case apiclient.RemoteError:
			// Init rejection fails the batch only; profiles keep their
			// BATCHED status until an upload was actually attempted.
			if err := c.batches.UpdateStatus(item, models.SyncStatusFailed, res.Message); err != nil {
				log.Printf("⚠️ %sStore %s: persist batch %d failure: %v", logging.Tag(ctx), st.Code, item.ID, err)
			}
			continue
		}

		uploadRes := c.gateway.UploadImportFile(ctx, init.FileUploadURL, init.FileUploadBody, item.FilePath)
		switch uploadRes.Outcome {
		case apiclient.TransportFailure:
			// Import id is deliberately not persisted: the next cycle
			// re-initializes from scratch, which the remote side treats as a
			// fresh idempotent import.
			log.Printf("⚠️ %sStore %s: unable to upload file for batch %d: %s",
				logging.Tag(ctx), st.Code, item.ID, uploadRes.Message)
			c.countAttempt(ctx, st, item)
			continue
		case apiclient.RemoteError:
			c.failBatch(ctx, st, item, uploadRes.Message)
			continue
		}

		expiry := c.parseUploadExpiry(ctx, init.FileUploadURLExpiresAt)
		if err := c.batches.MarkProcessing(item, init.ImportID, expiry); err != nil {
			log.Printf("⚠️ %sStore %s: persist batch %d processing: %v", logging.Tag(ctx), st.Code, item.ID, err)
		}
	}
}

// handleProcessing polls the import status of every PROCESSING batch and
// settles terminal outcomes.
func (c *Coordinator) handleProcessing(ctx context.Context, tok string, st models.Store, section string) {
	batches, err := c.batches.ProcessingForStore(st.ID)
	if err != nil {
		log.Printf("⚠️ %sStore %s: load processing batches: %v", logging.Tag(ctx), st.Code, err)
		return
	}

	for i := range batches {
		item := &batches[i]
		if item.ImportID == nil {
			c.failBatch(ctx, st, item, "processing batch has no import id")
			continue
		}

		status, res := c.gateway.GetImportStatus(ctx, tok, section, *item.ImportID)
		if res.Outcome != apiclient.Success {
			log.Printf("⚠️ %sStore %s: unable to get import status for batch %d: %s",
				logging.Tag(ctx), st.Code, item.ID, res.Message)
			c.countAttempt(ctx, st, item)
			continue
		}

		switch status.Result.Status {
		case apiclient.ImportStatusCompleted:
			c.updateProfiles(ctx, st, item, models.SyncStatusSynced, "")
			if err := c.batches.UpdateStatus(item, models.SyncStatusSynced, ""); err != nil {
				log.Printf("⚠️ %sStore %s: persist batch %d completion: %v", logging.Tag(ctx), st.Code, item.ID, err)
			}
			c.removeStagedFile(ctx, st, item)
		case apiclient.ImportStatusError:
			c.failBatch(ctx, st, item, `import status returned with "error" status`)
		case apiclient.ImportStatusWaitingForFile:
			if c.uploadExpired(item) {
				c.failBatch(ctx, st, item, "file upload time expired")
			} else {
				c.countAttempt(ctx, st, item)
			}
		default:
			// Still in progress remotely; poll again next cycle.
			c.countAttempt(ctx, st, item)
		}
	}
}

// failBatch settles a batch and its profiles as FAILED with the same
// message.
func (c *Coordinator) failBatch(ctx context.Context, st models.Store, item *models.ProfileBatch, msg string) {
	c.updateProfiles(ctx, st, item, models.SyncStatusFailed, msg)
	if err := c.batches.UpdateStatus(item, models.SyncStatusFailed, msg); err != nil {
		log.Printf("⚠️ %sStore %s: persist batch %d failure: %v", logging.Tag(ctx), st.Code, item.ID, err)
	}
}

// updateProfiles bulk-transitions every profile covered by the batch's
// entity id list.
func (c *Coordinator) updateProfiles(ctx context.Context, st models.Store, item *models.ProfileBatch, status int, msg string) {
	ids := item.EntityIDList()
	var err error
	switch item.BatchType {
	case models.BatchTypeCustomer:
		_, err = c.profiles.UpdateCustomerStatus(st.ID, ids, status, msg)
	case models.BatchTypeSubscriber:
		_, err = c.profiles.UpdateSubscriberStatus(st.ID, ids, status, msg)
	}
	if err != nil {
		log.Printf("⚠️ %sStore %s: update profiles for batch %d: %v", logging.Tag(ctx), st.Code, item.ID, err)
	}
}

// countAttempt records one more inconclusive cycle for a batch and fails it
// once the retry cap is exceeded.
func (c *Coordinator) countAttempt(ctx context.Context, st models.Store, item *models.ProfileBatch) {
	attempts, err := c.batches.IncrementPollAttempts(item)
	if err != nil {
		log.Printf("⚠️ %sStore %s: count poll attempt for batch %d: %v", logging.Tag(ctx), st.Code, item.ID, err)
		return
	}
	if attempts > c.maxPollAttempts {
		c.failBatch(ctx, st, item, "retry limit exceeded: batch stayed non-terminal across max poll cycles")
	}
}

// removeStagedFile drops the staged CSV of a completed batch. FAILED batches
// keep their file so an ops reset can replay the import from it.
func (c *Coordinator) removeStagedFile(ctx context.Context, st models.Store, item *models.ProfileBatch) {
	if c.files == nil || item.FilePath == "" {
		return
	}
	if err := c.files.Remove(item.FilePath); err != nil && !os.IsNotExist(err) {
		log.Printf("⚠️ %sStore %s: remove staged file for batch %d: %v", logging.Tag(ctx), st.Code, item.ID, err)
	}
}

// uploadExpired compares the recorded upload-URL expiry against now (UTC).
func (c *Coordinator) uploadExpired(item *models.ProfileBatch) bool {
	if item.FileUploadExpiresAt == nil {
		return false
	}
	return c.now().After(*item.FileUploadExpiresAt)
}

func (c *Coordinator) parseUploadExpiry(ctx context.Context, raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(uploadExpiryLayout, raw)
	if err != nil {
		log.Printf("⚠️ %sUnparseable upload expiry %q: %v", logging.Tag(ctx), raw, err)
		return nil
	}
	t = t.UTC()
	return &t
}
