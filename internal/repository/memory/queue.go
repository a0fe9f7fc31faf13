package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"aiva/internal/model"
	"aiva/internal/repository"
)

type InMemoryDraftRepository struct {
	drafts map[string]model.Draft
	mutex  sync.RWMutex
}

func NewInMemoryDraftRepository() *InMemoryDraftRepository {
	return &InMemoryDraftRepository{
		drafts: make(map[string]model.Draft),
	}
}

func (r *InMemoryDraftRepository) Create(ctx context.Context, draft *model.Draft) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.drafts[draft.ID] = *draft
	return nil
}

func (r *InMemoryDraftRepository) FindByID(ctx context.Context, id string) (*model.Draft, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	draft, exists := r.drafts[id]
	if !exists {
		return nil, fmt.Errorf("draft %s: %w", id, repository.ErrNotFound)
	}
	return &draft, nil
}

func (r *InMemoryDraftRepository) FindByMessageID(ctx context.Context, messageID string) ([]*model.Draft, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.Draft
	for _, draft := range r.drafts {
		if draft.MessageID == messageID {
			d := draft
			result = append(result, &d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *InMemoryDraftRepository) DeactivateForMessage(ctx context.Context, messageID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for id, draft := range r.drafts {
		if draft.MessageID == messageID && draft.IsActive && !draft.IsSent {
			draft.IsActive = false
			draft.UpdatedAt = time.Now()
			r.drafts[id] = draft
		}
	}
	return nil
}

func (r *InMemoryDraftRepository) SetHold(ctx context.Context, id string, hold bool, reason string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	draft, exists := r.drafts[id]
	if !exists {
		return fmt.Errorf("draft %s: %w", id, repository.ErrNotFound)
	}
	draft.HoldForReview = hold
	draft.HoldReason = reason
	draft.UpdatedAt = time.Now()
	r.drafts[id] = draft
	return nil
}

func (r *InMemoryDraftRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	draft, exists := r.drafts[id]
	if !exists {
		return false, fmt.Errorf("draft %s: %w", id, repository.ErrNotFound)
	}
	if draft.IsSent {
		return false, nil
	}
	draft.IsSent = true
	draft.SentAt = &sentAt
	draft.UpdatedAt = time.Now()
	r.drafts[id] = draft
	return true, nil
}

type InMemoryQueueRepository struct {
	items map[string]model.AutoSendQueueItem
	mutex sync.RWMutex
}

func NewInMemoryQueueRepository() *InMemoryQueueRepository {
	return &InMemoryQueueRepository{
		items: make(map[string]model.AutoSendQueueItem),
	}
}

func (r *InMemoryQueueRepository) Create(ctx context.Context, item *model.AutoSendQueueItem) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.items[item.ID] = *item
	return nil
}

func (r *InMemoryQueueRepository) FindByID(ctx context.Context, id string) (*model.AutoSendQueueItem, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	item, exists := r.items[id]
	if !exists {
		return nil, fmt.Errorf("queue item %s: %w", id, repository.ErrNotFound)
	}
	return &item, nil
}

func (r *InMemoryQueueRepository) FindByMessageID(ctx context.Context, messageID string) ([]*model.AutoSendQueueItem, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.AutoSendQueueItem
	for _, item := range r.items {
		if item.MessageID == messageID {
			i := item
			result = append(result, &i)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *InMemoryQueueRepository) FindDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*model.AutoSendQueueItem, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.AutoSendQueueItem
	for _, item := range r.items {
		if item.Status == model.QueueStatusPending && !item.ScheduledSendAt.After(now) && item.Attempts < maxAttempts {
			i := item
			result = append(result, &i)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ScheduledSendAt.Before(result[j].ScheduledSendAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *InMemoryQueueRepository) FindStaleProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]*model.AutoSendQueueItem, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.AutoSendQueueItem
	for _, item := range r.items {
		if item.Status != model.QueueStatusProcessing {
			continue
		}
		started := item.UpdatedAt
		if item.ProcessingStartedAt != nil {
			started = *item.ProcessingStartedAt
		}
		if started.Before(startedBefore) {
			i := item
			result = append(result, &i)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.Before(result[j].UpdatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *InMemoryQueueRepository) Reschedule(ctx context.Context, id string, attempts int, at time.Time) (bool, error) {
	return r.transition(id, model.QueueStatusPending, attempts, func(item *model.AutoSendQueueItem) {
		item.ScheduledSendAt = at
	})
}

func (r *InMemoryQueueRepository) Claim(ctx context.Context, id string, attempts int, startedAt time.Time) (bool, error) {
	return r.transition(id, model.QueueStatusPending, attempts, func(item *model.AutoSendQueueItem) {
		item.Status = model.QueueStatusProcessing
		item.ProcessingStartedAt = &startedAt
	})
}

func (r *InMemoryQueueRepository) Cancel(ctx context.Context, id string, from model.QueueStatus, attempts int, reason string) (bool, error) {
	return r.transition(id, from, attempts, func(item *model.AutoSendQueueItem) {
		item.Status = model.QueueStatusCancelled
		item.CancelReason = reason
		item.ProcessingStartedAt = nil
	})
}

func (r *InMemoryQueueRepository) Fail(ctx context.Context, id string, attempts int, reason string) (bool, error) {
	return r.transition(id, model.QueueStatusProcessing, attempts, func(item *model.AutoSendQueueItem) {
		item.Status = model.QueueStatusFailed
		item.LastError = reason
		item.ProcessingStartedAt = nil
	})
}

func (r *InMemoryQueueRepository) RecordAttemptFailure(ctx context.Context, id string, attempts, maxAttempts int, reason string) (model.QueueStatus, bool, error) {
	var next model.QueueStatus
	ok, err := r.transition(id, model.QueueStatusProcessing, attempts, func(item *model.AutoSendQueueItem) {
		item.Attempts = attempts + 1
		item.LastError = reason
		item.ProcessingStartedAt = nil
		if item.Attempts >= maxAttempts {
			item.Status = model.QueueStatusFailed
		} else {
			item.Status = model.QueueStatusPending
		}
		next = item.Status
	})
	return next, ok, err
}

func (r *InMemoryQueueRepository) MarkSent(ctx context.Context, id string, attempts int, providerMessageID string, sentAt time.Time) (bool, error) {
	return r.transition(id, model.QueueStatusProcessing, attempts, func(item *model.AutoSendQueueItem) {
		item.Status = model.QueueStatusSent
		item.ProviderMessageID = providerMessageID
		item.SentAt = &sentAt
		item.ProcessingStartedAt = nil
	})
}

// transition applies fn only while the stored row still has the expected
// status and attempt count.
func (r *InMemoryQueueRepository) transition(id string, from model.QueueStatus, attempts int, fn func(item *model.AutoSendQueueItem)) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	item, exists := r.items[id]
	if !exists {
		return false, fmt.Errorf("queue item %s: %w", id, repository.ErrNotFound)
	}
	if item.Status != from || item.Attempts != attempts {
		return false, nil
	}
	fn(&item)
	item.UpdatedAt = time.Now()
	r.items[id] = item
	return true, nil
}

// All returns every queue row.
func (r *InMemoryQueueRepository) All() []*model.AutoSendQueueItem {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.AutoSendQueueItem
	for _, item := range r.items {
		i := item
		result = append(result, &i)
	}
	return result
}

type InMemoryAuditRepository struct {
	entries []model.AuditLogEntry
	mutex   sync.RWMutex
}

func NewInMemoryAuditRepository() *InMemoryAuditRepository {
	return &InMemoryAuditRepository{}
}

func (r *InMemoryAuditRepository) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.entries = append(r.entries, *entry)
	return nil
}

// FindByWorkspace returns newest entries first, optionally filtered by
// message.
func (r *InMemoryAuditRepository) FindByWorkspace(ctx context.Context, workspaceID, messageID string, limit int) ([]*model.AuditLogEntry, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.AuditLogEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		entry := r.entries[i]
		if entry.WorkspaceID != workspaceID {
			continue
		}
		if messageID != "" && entry.MessageID != messageID {
			continue
		}
		result = append(result, &entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Actions lists recorded actions in insertion order.
func (r *InMemoryAuditRepository) Actions() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	actions := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}
