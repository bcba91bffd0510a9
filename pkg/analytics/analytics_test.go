package analytics

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/persistence/memory"
)

func dealFlowDefinition() *models.Definition {
	return &models.Definition{
		ID:       "def-1",
		Key:      "deal_flow",
		Name:     "Deal Flow",
		Version:  1,
		IsActive: true,
		Lanes: []models.Lane{
			{Key: "analyst", DisplayName: "Analyst", Participant: "analyst"},
			{Key: "partner", DisplayName: "Partner", Participant: "partner"},
		},
		Steps: []*models.Step{
			{Key: "start", Title: "Start", Type: models.StepTypeStart, LaneKey: "analyst", Next: "discovery"},
			{Key: "discovery", Title: "Discovery", Type: models.StepTypeTask, LaneKey: "analyst", IsManual: true, Next: "proposal"},
			{Key: "proposal", Title: "Proposal", Type: models.StepTypeTask, LaneKey: "partner", IsManual: true, Next: "end"},
			{Key: "end", Title: "Done", Type: models.StepTypeEnd, LaneKey: "partner"},
		},
	}
}

type fixture struct {
	store *memory.Persistence
	svc   *Service
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewPersistence()
	require.NoError(t, store.Definitions().Save(context.Background(), dealFlowDefinition()))

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, slog.Default())
	svc.now = func() time.Time { return now }

	return &fixture{store: store, svc: svc, now: now}
}

// seedInstance creates an instance whose discovery step completed after the
// given minutes and whose proposal step is still active.
func (f *fixture) seedInstance(t *testing.T, id string, startedAgo time.Duration, discoveryMinutes int) {
	t.Helper()

	ctx := context.Background()
	startedAt := f.now.Add(-startedAgo)

	require.NoError(t, f.store.Instances().Create(ctx, &models.Instance{
		ID: id, DefinitionKey: "deal_flow", DefinitionVersion: 1,
		Status: models.InstanceStatusRunning, CurrentStepKey: "proposal",
		StartedAt: startedAt,
	}))

	discoveryEnd := startedAt.Add(time.Duration(discoveryMinutes) * time.Minute)
	require.NoError(t, f.store.Instances().CreateStepInstance(ctx, &models.StepInstance{
		ID: id + "-discovery", InstanceID: id, StepKey: "discovery",
		Status: models.StepStatusCompleted, StartedAt: startedAt, CompletedAt: &discoveryEnd,
	}))
	require.NoError(t, f.store.Instances().CreateStepInstance(ctx, &models.StepInstance{
		ID: id + "-proposal", InstanceID: id, StepKey: "proposal",
		Status: models.StepStatusActive, StartedAt: discoveryEnd,
	}))
}

func findStep(t *testing.T, metrics []*StepMetrics, key string) *StepMetrics {
	t.Helper()

	for _, m := range metrics {
		if m.StepKey == key {
			return m
		}
	}

	t.Fatalf("step %q missing from metrics", key)

	return nil
}

func TestStepMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedInstance(t, "inst-1", 48*time.Hour, 30)
	f.seedInstance(t, "inst-2", 24*time.Hour, 90)

	metrics, err := f.svc.StepMetrics(ctx, "deal_flow", 30)
	require.NoError(t, err)
	require.Len(t, metrics, 2) // start and end excluded

	discovery := findStep(t, metrics, "discovery")
	assert.Equal(t, 2, discovery.CompletedCount)
	assert.True(t, discovery.HasDurations)
	assert.Equal(t, 60, discovery.AverageDurationMinutes)
	assert.Equal(t, 30, discovery.MinDurationMinutes)
	assert.Equal(t, 90, discovery.MaxDurationMinutes)

	proposal := findStep(t, metrics, "proposal")
	assert.Equal(t, 2, proposal.ActiveCount)
	assert.Zero(t, proposal.CompletedCount)
	// No completions: duration reported as absent, not zero.
	assert.False(t, proposal.HasDurations)
}

func TestStepMetricsCountsSLABreaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SLARules().Save(ctx, &models.SLARule{
		ID: "sla-1", DefinitionKey: "deal_flow", StepKey: "discovery",
		WarningAfterMinutes: 30, CriticalAfterMinutes: 60, Enabled: true,
	}))

	f.seedInstance(t, "inst-1", 48*time.Hour, 30)  // compliant
	f.seedInstance(t, "inst-2", 24*time.Hour, 90)  // breach
	f.seedInstance(t, "inst-3", 12*time.Hour, 120) // breach

	metrics, err := f.svc.StepMetrics(ctx, "deal_flow", 30)
	require.NoError(t, err)

	discovery := findStep(t, metrics, "discovery")
	assert.Equal(t, 2, discovery.SLABreachCount)
	assert.Equal(t, 66, discovery.SLABreachRatePercent)
}

func TestBottleneckRanking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Six instances stuck on proposal makes it the top bottleneck.
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		f.seedInstance(t, "inst-"+id, 24*time.Hour, 20)
	}

	analysis, err := f.svc.RunBottleneckAnalysis(ctx, "deal_flow", 30, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, analysis.TotalProcesses)
	assert.Zero(t, analysis.CompletedProcesses)

	require.NotEmpty(t, analysis.StepMetrics)
	assert.Equal(t, "proposal", analysis.StepMetrics[0].StepKey)
	assert.Contains(t, analysis.StepMetrics[0].BottleneckReasons, "high active instance count")
}

func TestProcessFlowMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedInstance(t, "inst-1", 24*time.Hour, 30)
	f.seedInstance(t, "inst-2", 12*time.Hour, 40)

	flow, err := f.svc.ProcessFlowMetrics(ctx, "deal_flow", 30)
	require.NoError(t, err)
	require.Len(t, flow, 2)

	assert.Equal(t, "discovery", flow[0].StepKey)
	assert.Equal(t, 2, flow[0].EntryCount)
	assert.Equal(t, 2, flow[0].ExitCount)
	assert.Equal(t, 100, flow[0].SuccessRatePercent)

	assert.Equal(t, "proposal", flow[1].StepKey)
	assert.Equal(t, 2, flow[1].EntryCount)
	assert.Zero(t, flow[1].ExitCount)
	assert.Equal(t, 100, flow[1].DropoffRatePercent)
}

func TestDailyTrends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedInstance(t, "inst-1", 48*time.Hour, 30)
	f.seedInstance(t, "inst-2", 24*time.Hour, 30)

	// Complete inst-1 today.
	instance, err := f.store.Instances().GetByID(ctx, "inst-1")
	require.NoError(t, err)
	ended := f.now.Add(-time.Hour)
	instance.Status = models.InstanceStatusCompleted
	instance.EndedAt = &ended
	require.NoError(t, f.store.Instances().Save(ctx, instance))

	points, err := f.svc.DailyTrends(ctx, "deal_flow", 7)
	require.NoError(t, err)
	require.Len(t, points, 8)

	byDay := make(map[string]*TrendPoint, len(points))
	for _, point := range points {
		byDay[point.Day] = point
	}

	assert.Equal(t, 1, byDay["2026-03-08"].Started)
	assert.Equal(t, 1, byDay["2026-03-09"].Started)
	assert.Equal(t, 1, byDay["2026-03-10"].Completed)
	assert.Zero(t, byDay["2026-03-10"].Started)
}

func TestSLAAnalyticsCompliance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SLARules().Save(ctx, &models.SLARule{
		ID: "sla-1", DefinitionKey: "deal_flow", StepKey: "discovery",
		WarningAfterMinutes: 30, CriticalAfterMinutes: 60, Enabled: true,
	}))

	f.seedInstance(t, "inst-1", 48*time.Hour, 30)
	f.seedInstance(t, "inst-2", 24*time.Hour, 90)

	metrics, err := f.svc.SLAAnalytics(ctx, "deal_flow", 30)
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.CompletedSteps)
	assert.Equal(t, 1, metrics.CompliantSteps)
	assert.Equal(t, 50, metrics.ComplianceRatePercent)
	require.Len(t, metrics.MostBreachedSteps, 1)
	assert.Equal(t, "discovery", metrics.MostBreachedSteps[0].StepKey)
}

func TestAnalyticsEmptyWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	metrics, err := f.svc.StepMetrics(ctx, "deal_flow", 30)
	require.NoError(t, err)
	require.Len(t, metrics, 2)

	for _, metric := range metrics {
		assert.Zero(t, metric.TotalExecutions)
		assert.False(t, metric.HasDurations)
		assert.Zero(t, metric.BottleneckScore)
	}

	analysis, err := f.svc.RunBottleneckAnalysis(ctx, "deal_flow", 30, 5)
	require.NoError(t, err)
	assert.Zero(t, analysis.TotalProcesses)
	assert.Equal(t, 100, analysis.SLA.ComplianceRatePercent)
	assert.Empty(t, analysis.Recommendations)
}
