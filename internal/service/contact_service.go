package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aiva/internal/model"
	"aiva/internal/repository"
)

type contactResolver struct {
	contactRepo repository.ContactRepository
}

// resolve finds or creates the sender contact and bumps its counters.
func (r *contactResolver) resolve(ctx context.Context, workspaceID, channel, address, displayName string, seenAt time.Time) (*model.Contact, error) {
	if address == "" {
		return nil, fmt.Errorf("empty sender address")
	}

	contact, err := r.contactRepo.FindByAddress(ctx, workspaceID, channel, address)
	if errors.Is(err, repository.ErrNotFound) {
		contact = model.NewContact(workspaceID, channel, address, displayName, seenAt)
		err = r.contactRepo.Create(ctx, contact)
		if err == nil {
			return contact, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("failed to create contact: %w", err)
		}
		// Lost a race with another sync; update the winner instead.
		contact, err = r.contactRepo.FindByAddress(ctx, workspaceID, channel, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find contact: %w", err)
	}

	contact.MessageCount++
	if seenAt.After(contact.LastSeenAt) {
		contact.LastSeenAt = seenAt
	}
	if contact.DisplayName == "" && displayName != "" {
		contact.DisplayName = displayName
	}
	contact.UpdatedAt = time.Now()
	if err := r.contactRepo.Update(ctx, contact); err != nil {
		return nil, fmt.Errorf("failed to update contact: %w", err)
	}
	return contact, nil
}
