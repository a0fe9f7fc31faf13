package service

import (
	"context"
	"errors"
	"sync"

	"aiva/internal/logger"
	"aiva/internal/repository"
)

type PipelineResult struct {
	ConnectionID string      `json:"connection_id"`
	Sync         *SyncResult `json:"sync,omitempty"`
	Classified   int         `json:"classified"`
	Drafted      int         `json:"drafted"`
	Queued       int         `json:"queued"`
	Errors       []ItemError `json:"errors"`
	Error        string      `json:"error,omitempty"`
}

type pipelineService struct {
	ingest        IngestService
	classify      ClassifyService
	draft         DraftService
	connections   ConnectionService
	workspaceRepo repository.WorkspaceRepository
	messageRepo   repository.MessageRepository
	logger        *logger.Logger
}

func NewPipelineService(ingest IngestService, classify ClassifyService, draft DraftService, connections ConnectionService, workspaceRepo repository.WorkspaceRepository, messageRepo repository.MessageRepository, logger *logger.Logger) PipelineService {
	return &pipelineService{
		ingest:        ingest,
		classify:      classify,
		draft:         draft,
		connections:   connections,
		workspaceRepo: workspaceRepo,
		messageRepo:   messageRepo,
		logger:        logger,
	}
}

// RunIngestSync syncs one connection and, with opts.Process, classifies the
// new messages and drafts replies for the ones policy allows.
func (s *pipelineService) RunIngestSync(ctx context.Context, connectionID, workspaceID string, opts SyncOptions) (*PipelineResult, error) {
	syncResult, err := s.ingest.Sync(ctx, connectionID, workspaceID, opts)
	if err != nil {
		return nil, err
	}

	result := &PipelineResult{
		ConnectionID: connectionID,
		Sync:         syncResult,
		Errors:       []ItemError{},
	}
	if !opts.Process || len(syncResult.NewMessageIDs) == 0 {
		return result, nil
	}

	policy, err := s.workspaceRepo.GetPolicy(ctx, workspaceID)
	if err != nil {
		s.logger.Error("Failed to load policy for pipeline:", workspaceID, err)
		result.Error = err.Error()
		return result, nil
	}

	for _, id := range syncResult.NewMessageIDs {
		if ctx.Err() != nil {
			break
		}

		classification, err := s.classify.Classify(ctx, id, workspaceID)
		if err != nil {
			result.Errors = append(result.Errors, ItemError{ID: id, Error: err.Error()})
			continue
		}
		result.Classified++

		if !policy.AutoSendEnabled || policy.AutoSendPaused {
			continue
		}
		if !policy.AllowsCategory(classification.Category) || classification.ConfidenceScore < policy.Threshold() {
			continue
		}
		msg, err := s.messageRepo.FindByID(ctx, id)
		if err != nil || msg.RequiresHumanReview {
			continue
		}

		draft, err := s.draft.GenerateDraft(ctx, id, workspaceID, DraftOptions{Tone: policy.DefaultTone})
		if errors.Is(err, ErrFeatureDenied) {
			// Plan has no drafting; the remaining messages would fail the same way.
			break
		}
		if err != nil {
			result.Errors = append(result.Errors, ItemError{ID: id, Error: err.Error()})
			continue
		}
		result.Drafted++
		if draft.Queued {
			result.Queued++
		}
	}

	s.logger.Info("Pipeline processed connection:", connectionID, "classified:", result.Classified,
		"drafted:", result.Drafted, "queued:", result.Queued, "errors:", len(result.Errors))
	return result, nil
}

// SyncAll runs the pipeline for every active connection concurrently, one
// goroutine per connection.
func (s *pipelineService) SyncAll(ctx context.Context, opts SyncOptions) []*PipelineResult {
	conns, err := s.connections.ActiveConnections(ctx)
	if err != nil {
		s.logger.Error("Failed to list active connections:", err)
		return nil
	}

	results := make([]*PipelineResult, len(conns))
	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, connectionID, workspaceID string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Recovered panic syncing connection:", connectionID, r)
					results[i] = &PipelineResult{ConnectionID: connectionID, Errors: []ItemError{}, Error: "panic during sync"}
				}
			}()

			res, err := s.RunIngestSync(ctx, connectionID, workspaceID, opts)
			if err != nil {
				s.logger.Error("Sync failed for connection:", connectionID, err)
				res = &PipelineResult{ConnectionID: connectionID, Errors: []ItemError{}, Error: err.Error()}
			}
			results[i] = res
		}(i, conn.ID, conn.WorkspaceID)
	}
	wg.Wait()
	return results
}
