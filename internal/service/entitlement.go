package service

import (
	"context"

	"aiva/internal/model"
	"aiva/internal/repository"
)

const (
	FeatureAIDrafts = "ai_drafts"
	FeatureAutoSend = "auto_send"
)

var planFeatures = map[string][]string{
	model.PlanFree:     {},
	model.PlanPro:      {FeatureAIDrafts},
	model.PlanBusiness: {FeatureAIDrafts, FeatureAutoSend},
}

type planEntitlements struct {
	workspaceRepo repository.WorkspaceRepository
}

// NewPlanEntitlements grants features by workspace plan.
func NewPlanEntitlements(workspaceRepo repository.WorkspaceRepository) EntitlementChecker {
	return &planEntitlements{workspaceRepo: workspaceRepo}
}

func (e *planEntitlements) HasFeature(ctx context.Context, workspaceID, feature string) (bool, error) {
	ws, err := e.workspaceRepo.FindByID(ctx, workspaceID)
	if err != nil {
		return false, err
	}
	for _, f := range planFeatures[ws.Plan] {
		if f == feature {
			return true, nil
		}
	}
	return false, nil
}
