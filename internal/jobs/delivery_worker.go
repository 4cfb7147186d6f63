package jobs

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/wecodeblooded/safety-engine/internal/database"
)

// staleClaimAge is how long a message may sit at in_flight before a run
// assumes the claiming process died and returns it to pending.
const staleClaimAge = 5 * time.Minute

// MessageSender delivers one message through the external gateway.
// notify.Gateway satisfies it.
type MessageSender interface {
	Send(ctx context.Context, channel database.MessageChannel, to, body string) error
}

// DeliveryResults summarizes one worker run.
type DeliveryResults struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// DeliveryWorker drains the durable notification queue. Runs are
// reentrant-safe: items are claimed (pending to in_flight) before sending, so
// an overlapping run cannot double-send them.
type DeliveryWorker struct {
	db          *gorm.DB
	sender      MessageSender
	batchSize   int
	maxAttempts int
}

// NewDeliveryWorker creates the retry worker.
func NewDeliveryWorker(db *gorm.DB, sender MessageSender, batchSize, maxAttempts int) *DeliveryWorker {
	return &DeliveryWorker{
		db:          db,
		sender:      sender,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
	}
}

// Run processes one batch of pending messages, oldest first. Messages
// stranded at in_flight by a crashed run are requeued first.
func (w *DeliveryWorker) Run(ctx context.Context) (DeliveryResults, error) {
	var results DeliveryResults

	if n, err := database.RequeueStaleInFlight(w.db, staleClaimAge); err != nil {
		log.Printf("Failed to requeue stale in-flight messages: %v", err)
	} else if n > 0 {
		log.Printf("Requeued %d stale in-flight messages", n)
	}

	batch, err := database.ClaimPendingBatch(w.db, w.batchSize)
	if err != nil {
		return results, err
	}

	for _, msg := range batch {
		results.Processed++

		if msg.PhoneNumber == "" || msg.Message == "" {
			if err := database.MarkMessageFailed(w.db, &msg, "invalid_payload", w.maxAttempts); err != nil {
				log.Printf("Failed to mark message %s failed: %v", msg.ReferenceID, err)
			}
			results.Failed++
			continue
		}

		if err := w.sender.Send(ctx, msg.Channel, msg.PhoneNumber, msg.Message); err != nil {
			log.Printf("Delivery failed for %s (attempt %d): %v", msg.ReferenceID, msg.Attempts+1, err)
			if err := database.MarkMessageFailed(w.db, &msg, err.Error(), w.maxAttempts); err != nil {
				log.Printf("Failed to mark message %s failed: %v", msg.ReferenceID, err)
			}
			results.Failed++
			continue
		}

		if err := database.MarkMessageSent(w.db, msg.ID); err != nil {
			log.Printf("Failed to mark message %s sent: %v", msg.ReferenceID, err)
		}
		results.Sent++
	}

	if results.Processed > 0 {
		log.Printf("Delivery worker: processed=%d sent=%d failed=%d", results.Processed, results.Sent, results.Failed)
	}
	return results, nil
}
