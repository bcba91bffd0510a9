package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDefinition() *Definition {
	return &Definition{
		ID:      "def-1",
		Key:     "deal_flow",
		Name:    "Deal Flow",
		Version: 1,
		Lanes: []Lane{
			{Key: "analyst", DisplayName: "Analyst", Participant: "analyst"},
			{Key: "partner", DisplayName: "Partner", Participant: "partner"},
		},
		Steps: []*Step{
			{Key: "start", Title: "Start", Type: StepTypeStart, LaneKey: "analyst", Next: "screening"},
			{Key: "screening", Title: "Screening", Type: StepTypeTask, LaneKey: "analyst", IsManual: true, Next: "decision"},
			{Key: "decision", Title: "Qualified?", Type: StepTypeGateway, LaneKey: "partner", GatewayConditions: []GatewayCondition{
				{Label: "qualified", TargetStepKey: "proposal"},
				{Label: "rejected", TargetStepKey: "end", IsDefault: true},
			}},
			{Key: "proposal", Title: "Proposal", Type: StepTypeTask, LaneKey: "partner", IsManual: true, Next: "end"},
			{Key: "end", Title: "Done", Type: StepTypeEnd, LaneKey: "partner"},
		},
	}
}

func TestDefinitionValidate(t *testing.T) {
	t.Run("valid definition passes", func(t *testing.T) {
		require.NoError(t, validDefinition().Validate())
	})

	t.Run("duplicate step key", func(t *testing.T) {
		def := validDefinition()
		def.Steps = append(def.Steps, &Step{Key: "screening", Title: "Dup", Type: StepTypeTask, LaneKey: "analyst", Next: "end"})
		assert.ErrorIs(t, def.Validate(), ErrDuplicateStepKey)
	})

	t.Run("missing start step", func(t *testing.T) {
		def := validDefinition()
		def.Steps[0].Type = StepTypeTask
		assert.ErrorIs(t, def.Validate(), ErrNoStartStep)
	})

	t.Run("missing end step", func(t *testing.T) {
		def := validDefinition()
		def.Steps[4].Type = StepTypeTask
		assert.ErrorIs(t, def.Validate(), ErrNoEndStep)
	})

	t.Run("successor points nowhere", func(t *testing.T) {
		def := validDefinition()
		def.Steps[1].Next = "missing"
		assert.ErrorIs(t, def.Validate(), ErrUnknownNextStep)
	})

	t.Run("non-terminal step without successor", func(t *testing.T) {
		def := validDefinition()
		def.Steps[3].Next = ""
		assert.ErrorIs(t, def.Validate(), ErrMissingSuccessor)
	})

	t.Run("step in unknown lane", func(t *testing.T) {
		def := validDefinition()
		def.Steps[1].LaneKey = "ghost"
		assert.ErrorIs(t, def.Validate(), ErrUnknownLane)
	})

	t.Run("gateway without conditions", func(t *testing.T) {
		def := validDefinition()
		def.Steps[2].GatewayConditions = nil
		assert.ErrorIs(t, def.Validate(), ErrGatewayNoConditions)
	})

	t.Run("gateway without default", func(t *testing.T) {
		def := validDefinition()
		def.Steps[2].GatewayConditions[1].IsDefault = false
		assert.ErrorIs(t, def.Validate(), ErrGatewayNoDefault)
	})

	t.Run("gateway with two defaults", func(t *testing.T) {
		def := validDefinition()
		def.Steps[2].GatewayConditions[0].IsDefault = true
		assert.ErrorIs(t, def.Validate(), ErrGatewayManyDefaults)
	})

	t.Run("gateway condition targets unknown step", func(t *testing.T) {
		def := validDefinition()
		def.Steps[2].GatewayConditions[0].TargetStepKey = "missing"
		assert.ErrorIs(t, def.Validate(), ErrUnknownNextStep)
	})
}

func TestDefinitionLookups(t *testing.T) {
	def := validDefinition()

	step := def.StepByKey("decision")
	require.NotNil(t, step)
	assert.True(t, step.IsGateway())
	assert.Equal(t, []string{"qualified", "rejected"}, step.DecisionLabels())

	dc := step.DefaultCondition()
	require.NotNil(t, dc)
	assert.Equal(t, "end", dc.TargetStepKey)

	assert.Nil(t, def.StepByKey("missing"))

	start := def.StartStep()
	require.NotNil(t, start)
	assert.Equal(t, "start", start.Key)

	byLane := def.StepsByLane("analyst")
	require.Len(t, byLane, 2)
	assert.Equal(t, "start", byLane[0].Key)
}

func TestStepInstanceDuration(t *testing.T) {
	si := &StepInstance{StartedAt: mustTime(t, "2026-01-02T10:00:00Z")}

	_, ok := si.DurationMinutes()
	assert.False(t, ok)

	done := mustTime(t, "2026-01-02T11:30:00Z")
	si.CompletedAt = &done

	minutes, ok := si.DurationMinutes()
	require.True(t, ok)
	assert.Equal(t, 90, minutes)
}
