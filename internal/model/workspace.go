package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	PlanFree     = "free"
	PlanPro      = "pro"
	PlanBusiness = "business"
)

type Workspace struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Plan      string          `json:"plan"`
	Policy    WorkspacePolicy `json:"policy"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WorkspacePolicy is the subset of workspace settings that governs
// autonomous handling. It is only read by the pipeline.
type WorkspacePolicy struct {
	AutoSendEnabled     bool     `json:"auto_send_enabled"`
	AutoSendPaused      bool     `json:"auto_send_paused"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	WindowStart         string   `json:"window_start"`
	WindowEnd           string   `json:"window_end"`
	Timezone            string   `json:"timezone"`
	DefaultTone         string   `json:"default_tone"`
	SendDelayMinutes    int      `json:"send_delay_minutes"`
	AutoReplyCategories []string `json:"auto_reply_categories"`
	DailyDigestEnabled  bool     `json:"daily_digest_enabled"`
	DailyDigestTime     string   `json:"daily_digest_time"`
}

const DefaultConfidenceThreshold = 0.85

var DefaultAutoReplyCategories = []string{
	CategoryCustomerInquiry,
	CategoryClientSupport,
	CategorySalesLead,
	CategoryMeetingRequest,
}

func NewWorkspace(name, plan string) *Workspace {
	now := time.Now()
	return &Workspace{
		ID:   uuid.New().String(),
		Name: name,
		Plan: plan,
		Policy: WorkspacePolicy{
			ConfidenceThreshold: DefaultConfidenceThreshold,
			Timezone:            "UTC",
			DefaultTone:         ToneProfessional,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Location resolves the policy timezone, falling back to UTC.
func (p WorkspacePolicy) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AllowsCategory reports whether messages of the category may be drafted
// and queued automatically.
func (p WorkspacePolicy) AllowsCategory(category string) bool {
	categories := p.AutoReplyCategories
	if len(categories) == 0 {
		categories = DefaultAutoReplyCategories
	}
	for _, c := range categories {
		if c == category {
			return true
		}
	}
	return false
}

// Threshold returns the configured confidence threshold or the default one.
func (p WorkspacePolicy) Threshold() float64 {
	if p.ConfidenceThreshold <= 0 {
		return DefaultConfidenceThreshold
	}
	return p.ConfidenceThreshold
}
