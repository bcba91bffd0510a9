package models

// TeamMember is one assignable person as the roster provider reports them.
type TeamMember struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	// Role is the participant role the member can act as (lane participant
	// match is a hard filter during assignment).
	Role   string   `json:"role"`
	Skills []string `json:"skills,omitempty"`
	// CapacityLimit caps concurrent active steps. Zero means the role
	// default applies.
	CapacityLimit int  `json:"capacity_limit,omitempty"`
	Available     bool `json:"available"`
}

// HasSkill reports whether the member lists the given skill.
func (m *TeamMember) HasSkill(skill string) bool {
	for _, s := range m.Skills {
		if s == skill {
			return true
		}
	}

	return false
}

// Candidate is one scored assignment candidate. Kept for API responses and
// for explaining assignment decisions.
type Candidate struct {
	Member          *TeamMember `json:"member"`
	ActiveSteps     int         `json:"active_steps"`
	WorkloadPenalty float64     `json:"workload_penalty"`
	SkillBonus      float64     `json:"skill_bonus"`
	ContinuityBonus float64     `json:"continuity_bonus"`
	Score           float64     `json:"score"`
}
