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

// Repositories in this package hand out copies so that callers mutating a
// returned value never bypass the conditional writes.

type InMemoryWorkspaceRepository struct {
	workspaces map[string]model.Workspace
	mutex      sync.RWMutex
}

func NewInMemoryWorkspaceRepository() *InMemoryWorkspaceRepository {
	return &InMemoryWorkspaceRepository{
		workspaces: make(map[string]model.Workspace),
	}
}

func (r *InMemoryWorkspaceRepository) Create(ctx context.Context, workspace *model.Workspace) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.workspaces[workspace.ID] = *workspace
	return nil
}

func (r *InMemoryWorkspaceRepository) FindByID(ctx context.Context, id string) (*model.Workspace, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ws, exists := r.workspaces[id]
	if !exists {
		return nil, fmt.Errorf("workspace %s: %w", id, repository.ErrNotFound)
	}
	return &ws, nil
}

func (r *InMemoryWorkspaceRepository) GetPolicy(ctx context.Context, workspaceID string) (*model.WorkspacePolicy, error) {
	ws, err := r.FindByID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	policy := ws.Policy
	return &policy, nil
}

// SetPolicy replaces a workspace policy. Settings are owned elsewhere; this
// exists so tests can change policy between worker invocations.
func (r *InMemoryWorkspaceRepository) SetPolicy(workspaceID string, policy model.WorkspacePolicy) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if ws, exists := r.workspaces[workspaceID]; exists {
		ws.Policy = policy
		ws.UpdatedAt = time.Now()
		r.workspaces[workspaceID] = ws
	}
}

type InMemoryConnectionRepository struct {
	connections map[string]model.ChannelConnection
	mutex       sync.RWMutex
}

func NewInMemoryConnectionRepository() *InMemoryConnectionRepository {
	return &InMemoryConnectionRepository{
		connections: make(map[string]model.ChannelConnection),
	}
}

func (r *InMemoryConnectionRepository) Create(ctx context.Context, conn *model.ChannelConnection) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.connections[conn.ID] = *conn
	return nil
}

func (r *InMemoryConnectionRepository) FindByID(ctx context.Context, id string) (*model.ChannelConnection, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	conn, exists := r.connections[id]
	if !exists {
		return nil, fmt.Errorf("connection %s: %w", id, repository.ErrNotFound)
	}
	return &conn, nil
}

func (r *InMemoryConnectionRepository) FindByAccount(ctx context.Context, workspaceID, provider, accountEmail string) (*model.ChannelConnection, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, conn := range r.connections {
		if conn.WorkspaceID == workspaceID && conn.Provider == provider && conn.AccountEmail == accountEmail {
			c := conn
			return &c, nil
		}
	}
	return nil, fmt.Errorf("connection for %s: %w", accountEmail, repository.ErrNotFound)
}

func (r *InMemoryConnectionRepository) FindActive(ctx context.Context) ([]*model.ChannelConnection, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.ChannelConnection
	for _, conn := range r.connections {
		if conn.IsActive() {
			c := conn
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *InMemoryConnectionRepository) Update(ctx context.Context, conn *model.ChannelConnection) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.connections[conn.ID]; !exists {
		return fmt.Errorf("connection %s: %w", conn.ID, repository.ErrNotFound)
	}
	c := *conn
	c.UpdatedAt = time.Now()
	r.connections[conn.ID] = c
	return nil
}

func (r *InMemoryConnectionRepository) UpdateTokens(ctx context.Context, id, accessToken string, expiry time.Time) error {
	return r.mutate(id, func(c *model.ChannelConnection) {
		c.AccessToken = accessToken
		c.TokenExpiry = expiry
	})
}

func (r *InMemoryConnectionRepository) UpdateSyncState(ctx context.Context, id, cursor string, syncedAt time.Time) error {
	return r.mutate(id, func(c *model.ChannelConnection) {
		c.SyncCursor = cursor
		c.LastSyncAt = &syncedAt
	})
}

func (r *InMemoryConnectionRepository) UpdateStatus(ctx context.Context, id, status string) error {
	return r.mutate(id, func(c *model.ChannelConnection) {
		c.Status = status
	})
}

func (r *InMemoryConnectionRepository) mutate(id string, fn func(c *model.ChannelConnection)) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	conn, exists := r.connections[id]
	if !exists {
		return fmt.Errorf("connection %s: %w", id, repository.ErrNotFound)
	}
	fn(&conn)
	conn.UpdatedAt = time.Now()
	r.connections[id] = conn
	return nil
}

type InMemoryMessageRepository struct {
	messages map[string]model.Message
	// providerIndex enforces (connection, provider message id) uniqueness.
	providerIndex map[string]string
	mutex         sync.RWMutex
}

func NewInMemoryMessageRepository() *InMemoryMessageRepository {
	return &InMemoryMessageRepository{
		messages:      make(map[string]model.Message),
		providerIndex: make(map[string]string),
	}
}

func providerKey(connectionID, providerMessageID string) string {
	return connectionID + "/" + providerMessageID
}

func (r *InMemoryMessageRepository) Create(ctx context.Context, msg *model.Message) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := providerKey(msg.ChannelConnectionID, msg.ProviderMessageID)
	if _, exists := r.providerIndex[key]; exists {
		return fmt.Errorf("message %s: %w", msg.ProviderMessageID, repository.ErrConflict)
	}
	r.messages[msg.ID] = cloneMessage(msg)
	r.providerIndex[key] = msg.ID
	return nil
}

func (r *InMemoryMessageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	msg, exists := r.messages[id]
	if !exists {
		return nil, fmt.Errorf("message %s: %w", id, repository.ErrNotFound)
	}
	m := cloneMessage(&msg)
	return &m, nil
}

func (r *InMemoryMessageRepository) FindByProviderID(ctx context.Context, connectionID, providerMessageID string) (*model.Message, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	id, exists := r.providerIndex[providerKey(connectionID, providerMessageID)]
	if !exists {
		return nil, fmt.Errorf("message %s: %w", providerMessageID, repository.ErrNotFound)
	}
	msg := r.messages[id]
	m := cloneMessage(&msg)
	return &m, nil
}

func (r *InMemoryMessageRepository) FindByThread(ctx context.Context, connectionID, providerThreadID string) ([]*model.Message, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.Message
	for _, msg := range r.messages {
		if msg.ChannelConnectionID == connectionID && msg.ProviderThreadID == providerThreadID {
			m := cloneMessage(&msg)
			result = append(result, &m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return result, nil
}

func (r *InMemoryMessageRepository) Update(ctx context.Context, msg *model.Message) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.messages[msg.ID]; !exists {
		return fmt.Errorf("message %s: %w", msg.ID, repository.ErrNotFound)
	}
	m := cloneMessage(msg)
	m.UpdatedAt = time.Now()
	r.messages[msg.ID] = m
	return nil
}

// Count returns the number of stored messages.
func (r *InMemoryMessageRepository) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.messages)
}

func cloneMessage(msg *model.Message) model.Message {
	m := *msg
	m.Recipients = append([]string(nil), msg.Recipients...)
	m.Labels = append([]string(nil), msg.Labels...)
	m.KeyPoints = append([]string(nil), msg.KeyPoints...)
	m.RawPayload = append([]byte(nil), msg.RawPayload...)
	return m
}

type InMemoryContactRepository struct {
	contacts map[string]model.Contact
	mutex    sync.RWMutex
}

func NewInMemoryContactRepository() *InMemoryContactRepository {
	return &InMemoryContactRepository{
		contacts: make(map[string]model.Contact),
	}
}

func (r *InMemoryContactRepository) FindByAddress(ctx context.Context, workspaceID, channel, address string) (*model.Contact, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	address = model.NormalizeAddress(address)
	for _, contact := range r.contacts {
		if contact.WorkspaceID == workspaceID && contact.Channel == channel && contact.Address == address {
			c := contact
			return &c, nil
		}
	}
	return nil, fmt.Errorf("contact %s: %w", address, repository.ErrNotFound)
}

func (r *InMemoryContactRepository) Create(ctx context.Context, contact *model.Contact) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, existing := range r.contacts {
		if existing.WorkspaceID == contact.WorkspaceID && existing.Channel == contact.Channel && existing.Address == contact.Address {
			return fmt.Errorf("contact %s: %w", contact.Address, repository.ErrConflict)
		}
	}
	r.contacts[contact.ID] = *contact
	return nil
}

func (r *InMemoryContactRepository) Update(ctx context.Context, contact *model.Contact) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.contacts[contact.ID]; !exists {
		return fmt.Errorf("contact %s: %w", contact.ID, repository.ErrNotFound)
	}
	r.contacts[contact.ID] = *contact
	return nil
}

// All returns every stored contact.
func (r *InMemoryContactRepository) All() []*model.Contact {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.Contact
	for _, contact := range r.contacts {
		c := contact
		result = append(result, &c)
	}
	return result
}
