package service

import "aiva/internal/repository"

// Repositories bundles the persistence capability handed to services.
type Repositories struct {
	Workspaces  repository.WorkspaceRepository
	Connections repository.ConnectionRepository
	Messages    repository.MessageRepository
	Contacts    repository.ContactRepository
	Drafts      repository.DraftRepository
	Queue       repository.QueueRepository
	Audit       repository.AuditRepository
}
