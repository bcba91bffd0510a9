package template

import (
	"time"

	"github.com/megicode/stepflow/pkg/models"
)

// DefaultDefinitionKey is the process new clients run through when no other
// definition is chosen.
const DefaultDefinitionKey = "client_delivery"

// SeedDefinitions returns fresh copies of the built-in catalog. Callers own
// the returned values; nothing here is shared state.
func SeedDefinitions() []*models.Definition {
	return []*models.Definition{
		DefaultDefinition(),
		QuickFixDefinition(),
		ConsultingDefinition(),
	}
}

// DefaultDefinition is the full client onboarding and delivery lifecycle,
// from request intake to closed ticket.
func DefaultDefinition() *models.Definition {
	now := time.Now().UTC()

	return &models.Definition{
		ID:          "seed-" + DefaultDefinitionKey,
		Key:         DefaultDefinitionKey,
		Name:        "Client Delivery Lifecycle",
		Description: "Complete delivery process from client request to closed ticket.",
		Version:     1,
		Category:    "software_development",
		Tags:        []string{"standard", "full-lifecycle", "recommended"},
		IsActive:    true,
		IsDefault:   true,
		Lanes: []models.Lane{
			{Key: "client", DisplayName: "Client", Participant: "client"},
			{Key: "pm", DisplayName: "Project Management", Participant: "pm"},
			{Key: "dev", DisplayName: "Development", Participant: "dev"},
			{Key: "system", DisplayName: "Automation", Participant: models.ParticipantAutomation},
		},
		Steps: []*models.Step{
			{
				Key: "client_submit_request", Title: "Client Submits Request",
				Type: models.StepTypeStart, LaneKey: "client",
				Next: "record_request",
			},
			{
				Key: "record_request", Title: "Record Request",
				Type: models.StepTypeTask, LaneKey: "system",
				Participant:      models.ParticipantAutomation,
				AutomationAction: "create_lead_record",
				Next:             "review_request",
			},
			{
				Key: "review_request", Title: "Review Request",
				Type: models.StepTypeTask, LaneKey: "pm",
				IsManual:                true,
				ExpectedDurationMinutes: 60,
				Next:                    "approval",
			},
			{
				Key: "approval", Title: "Approval Decision",
				Type: models.StepTypeGateway, LaneKey: "pm",
				GatewayConditions: []models.GatewayCondition{
					{Label: "approved", TargetStepKey: "prepare_workspace"},
					{Label: "rejected", TargetStepKey: "close_ticket", IsDefault: true},
				},
			},
			{
				Key: "prepare_workspace", Title: "Prepare Project Workspace",
				Type: models.StepTypeTask, LaneKey: "system",
				Participant:      models.ParticipantAutomation,
				AutomationAction: "create_project_workspace",
				Next:             "assign_developer",
			},
			{
				Key: "assign_developer", Title: "Assign Developer",
				Type: models.StepTypeTask, LaneKey: "pm",
				IsManual:                true,
				ExpectedDurationMinutes: 30,
				Next:                    "development",
			},
			{
				Key: "development", Title: "Development & QA",
				Type: models.StepTypeTask, LaneKey: "dev",
				IsManual:                true,
				RequiredSkills:          []string{"development"},
				ExpectedDurationMinutes: 2400,
				Next:                    "final_review",
			},
			{
				Key: "final_review", Title: "Final Review & Deployment",
				Type: models.StepTypeTask, LaneKey: "pm",
				IsManual:                true,
				ExpectedDurationMinutes: 120,
				Next:                    "client_feedback",
			},
			{
				Key: "client_feedback", Title: "Client Feedback",
				Type: models.StepTypeTask, LaneKey: "client",
				IsManual:                true,
				ExpectedDurationMinutes: 1440,
				Next:                    "close_ticket",
			},
			{
				Key: "close_ticket", Title: "Close Ticket",
				Type: models.StepTypeEnd, LaneKey: "system",
				Participant: models.ParticipantAutomation,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// QuickFixDefinition is a streamlined process for bug fixes.
func QuickFixDefinition() *models.Definition {
	now := time.Now().UTC()

	return &models.Definition{
		ID:          "seed-quick_fix",
		Key:         "quick_fix",
		Name:        "Quick Fix",
		Description: "Streamlined process for quick fixes and bug resolutions.",
		Version:     1,
		Category:    "maintenance",
		Tags:        []string{"quick", "bugfix", "minimal"},
		IsActive:    true,
		Lanes: []models.Lane{
			{Key: "client", DisplayName: "Client", Participant: "client"},
			{Key: "pm", DisplayName: "Project Management", Participant: "pm"},
			{Key: "dev", DisplayName: "Development", Participant: "dev"},
		},
		Steps: []*models.Step{
			{
				Key: "report_issue", Title: "Client Reports Issue",
				Type: models.StepTypeStart, LaneKey: "client",
				Next: "triage",
			},
			{
				Key: "triage", Title: "Triage & Review",
				Type: models.StepTypeTask, LaneKey: "pm",
				IsManual:                true,
				ExpectedDurationMinutes: 30,
				Next:                    "apply_fix",
			},
			{
				Key: "apply_fix", Title: "Apply Fix",
				Type: models.StepTypeTask, LaneKey: "dev",
				IsManual:                true,
				RequiredSkills:          []string{"development"},
				ExpectedDurationMinutes: 240,
				Next:                    "verify_fix",
			},
			{
				Key: "verify_fix", Title: "Verify Fix",
				Type: models.StepTypeTask, LaneKey: "pm",
				IsManual:                true,
				ExpectedDurationMinutes: 60,
				Next:                    "deploy_close",
			},
			{
				Key: "deploy_close", Title: "Deploy & Close",
				Type: models.StepTypeEnd, LaneKey: "pm",
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ConsultingDefinition covers a consulting engagement from discovery call to
// presented findings.
func ConsultingDefinition() *models.Definition {
	now := time.Now().UTC()

	return &models.Definition{
		ID:          "seed-consulting_engagement",
		Key:         "consulting_engagement",
		Name:        "Consulting Engagement",
		Description: "Consulting project with discovery, analysis and recommendations.",
		Version:     1,
		Category:    "consulting",
		Tags:        []string{"consulting", "analysis", "advisory"},
		IsActive:    true,
		Lanes: []models.Lane{
			{Key: "client", DisplayName: "Client", Participant: "client"},
			{Key: "bizdev", DisplayName: "Business Development", Participant: "bizdev"},
			{Key: "pm", DisplayName: "Project Management", Participant: "pm"},
		},
		Steps: []*models.Step{
			{
				Key: "request_consulting", Title: "Consulting Request",
				Type: models.StepTypeStart, LaneKey: "client",
				Next: "discovery_call",
			},
			{
				Key: "discovery_call", Title: "Discovery Call",
				Type: models.StepTypeTask, LaneKey: "bizdev",
				IsManual:                true,
				ExpectedDurationMinutes: 60,
				Next:                    "analysis",
			},
			{
				Key: "analysis", Title: "Analysis & Research",
				Type: models.StepTypeTask, LaneKey: "pm",
				IsManual:                true,
				ExpectedDurationMinutes: 480,
				Next:                    "recommendations",
			},
			{
				Key: "recommendations", Title: "Prepare Recommendations",
				Type: models.StepTypeTask, LaneKey: "pm",
				IsManual:                true,
				ExpectedDurationMinutes: 240,
				Next:                    "presentation",
			},
			{
				Key: "presentation", Title: "Present Findings",
				Type: models.StepTypeTask, LaneKey: "client",
				IsManual:                true,
				ExpectedDurationMinutes: 90,
				Next:                    "close_engagement",
			},
			{
				Key: "close_engagement", Title: "Close Engagement",
				Type: models.StepTypeEnd, LaneKey: "pm",
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
