package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EnqueueMessage adds one pending notification to the durable queue.
func EnqueueMessage(db *gorm.DB, msg *QueuedMessage) error {
	if msg.ReferenceID == "" {
		msg.ReferenceID = uuid.New().String()
	}
	if msg.Channel == "" {
		msg.Channel = ChannelSMS
	}
	msg.Status = MessagePending
	return db.Create(msg).Error
}

// ClaimPendingBatch atomically moves up to limit of the oldest pending
// messages to in_flight and returns them. Claiming guards against a second
// worker run double-sending the same items: only rows still pending at claim
// time are taken.
func ClaimPendingBatch(db *gorm.DB, limit int) ([]QueuedMessage, error) {
	var batch []QueuedMessage
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status = ?", MessagePending).
			Order("created_at asc").Limit(limit).
			Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(batch))
		for _, m := range batch {
			ids = append(ids, m.ID)
		}
		res := tx.Model(&QueuedMessage{}).
			Where("id IN ? AND status = ?", ids, MessagePending).
			Update("status", MessageInFlight)
		if res.Error != nil {
			return res.Error
		}

		// Drop any row a concurrent run claimed between the read and the
		// update.
		if res.RowsAffected != int64(len(batch)) {
			var claimed []QueuedMessage
			if err := tx.Where("id IN ? AND status = ?", ids, MessageInFlight).
				Find(&claimed).Error; err != nil {
				return err
			}
			batch = claimed
		}
		return nil
	})
	return batch, err
}

// RequeueStaleInFlight returns in_flight messages older than the cutoff to
// pending. A crash between claiming and marking strands rows at in_flight;
// this is the only path that recovers them. The age guard keeps a live
// overlapping run's freshly claimed batch untouched.
func RequeueStaleInFlight(db *gorm.DB, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := db.Model(&QueuedMessage{}).
		Where("status = ? AND updated_at < ?", MessageInFlight, cutoff).
		Update("status", MessagePending)
	return res.RowsAffected, res.Error
}

// MarkMessageSent finalizes a successful delivery.
func MarkMessageSent(db *gorm.DB, id uint) error {
	now := time.Now()
	return db.Model(&QueuedMessage{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":   MessageSent,
			"attempts": gorm.Expr("attempts + 1"),
			"sent_at":  now,
		}).Error
}

// MarkMessageFailed counts a failed attempt. The message returns to pending
// until it reaches maxAttempts, after which failed is terminal and the worker
// never picks it up again.
func MarkMessageFailed(db *gorm.DB, msg *QueuedMessage, lastError string, maxAttempts int) error {
	attempts := msg.Attempts + 1
	status := MessagePending
	if attempts >= maxAttempts {
		status = MessageFailed
	}
	return db.Model(&QueuedMessage{}).Where("id = ?", msg.ID).
		Updates(map[string]interface{}{
			"status":     status,
			"attempts":   attempts,
			"last_error": lastError,
		}).Error
}

// ListMessages returns a page of queue items, newest first, optionally
// filtered by status.
func ListMessages(db *gorm.DB, status MessageStatus, page, perPage int) ([]QueuedMessage, int64, error) {
	q := db.Model(&QueuedMessage{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []QueuedMessage
	err := q.Order("created_at desc").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&items).Error
	return items, total, err
}
