// Package analytics aggregates step-instance and automation history into
// per-step, per-lane and per-process metrics. Everything here is a pure read:
// the same stored history always produces the same numbers.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/persistence"
	"github.com/megicode/stepflow/pkg/sla"
)

const (
	// bottleneckThreshold marks a step or lane as a bottleneck.
	bottleneckThreshold = 50
	// queueSaturation is the active-step count treated as a fully loaded
	// queue when scoring.
	queueSaturation = 10
	// fallbackCriticalMinutes stands in for steps without an SLA rule.
	fallbackCriticalMinutes = 1440
)

// StepMetrics aggregates one step's executions inside the analysis window.
type StepMetrics struct {
	StepKey  string `json:"step_key"`
	Title    string `json:"title"`
	LaneKey  string `json:"lane_key"`
	IsManual bool   `json:"is_manual"`

	TotalExecutions int `json:"total_executions"`
	ActiveCount     int `json:"active_count"`
	CompletedCount  int `json:"completed_count"`
	FailedCount     int `json:"failed_count"`
	SkippedCount    int `json:"skipped_count"`

	// Duration fields are only meaningful when HasDurations is true; a step
	// with zero completions reports no duration rather than zero.
	HasDurations           bool `json:"has_durations"`
	AverageDurationMinutes int  `json:"average_duration_minutes"`
	MedianDurationMinutes  int  `json:"median_duration_minutes"`
	MinDurationMinutes     int  `json:"min_duration_minutes"`
	MaxDurationMinutes     int  `json:"max_duration_minutes"`
	P90DurationMinutes     int  `json:"p90_duration_minutes"`

	SLABreachCount       int `json:"sla_breach_count"`
	SLABreachRatePercent int `json:"sla_breach_rate_percent"`

	BottleneckScore   int      `json:"bottleneck_score"`
	IsBottleneck      bool     `json:"is_bottleneck"`
	BottleneckReasons []string `json:"bottleneck_reasons,omitempty"`
}

// LaneMetrics rolls step metrics up by owning lane.
type LaneMetrics struct {
	LaneKey                string  `json:"lane_key"`
	DisplayName            string  `json:"display_name"`
	StepCount              int     `json:"step_count"`
	ActiveCount            int     `json:"active_count"`
	CompletedCount         int     `json:"completed_count"`
	AverageDurationMinutes int     `json:"average_duration_minutes"`
	SLABreachRatePercent   int     `json:"sla_breach_rate_percent"`
	ThroughputPerDay       float64 `json:"throughput_per_day"`
	BottleneckScore        int     `json:"bottleneck_score"`
	IsBottleneck           bool    `json:"is_bottleneck"`
}

// FlowMetrics is one funnel row: how many instances entered a step and how
// many made it through.
type FlowMetrics struct {
	StepKey            string `json:"step_key"`
	Title              string `json:"title"`
	EntryCount         int    `json:"entry_count"`
	ExitCount          int    `json:"exit_count"`
	SuccessRatePercent int    `json:"success_rate_percent"`
	DropoffRatePercent int    `json:"dropoff_rate_percent"`
}

// TrendPoint buckets instance starts and completions by calendar day.
type TrendPoint struct {
	Day       string `json:"day"`
	Started   int    `json:"started"`
	Completed int    `json:"completed"`
	Canceled  int    `json:"canceled"`
}

// AutomationMetrics summarizes rule executions inside the window.
type AutomationMetrics struct {
	ExecutedCount      int `json:"executed_count"`
	FailedCount        int `json:"failed_count"`
	FailureRatePercent int `json:"failure_rate_percent"`
}

// SLAMetrics summarizes SLA compliance over completed steps in the window.
type SLAMetrics struct {
	CompletedSteps        int               `json:"completed_steps"`
	CompliantSteps        int               `json:"compliant_steps"`
	ComplianceRatePercent int               `json:"compliance_rate_percent"`
	BreachesByStep        map[string]int    `json:"breaches_by_step,omitempty"`
	MostBreachedSteps     []StepBreachCount `json:"most_breached_steps,omitempty"`
}

// StepBreachCount is one row of the most-breached ranking.
type StepBreachCount struct {
	StepKey     string `json:"step_key"`
	BreachCount int    `json:"breach_count"`
}

// Recommendation is one generated optimization hint.
type Recommendation struct {
	Type          string   `json:"type"`
	Priority      string   `json:"priority"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	AffectedSteps []string `json:"affected_steps,omitempty"`
}

// BottleneckAnalysis is the full analysis result.
type BottleneckAnalysis struct {
	AnalyzedAt             time.Time         `json:"analyzed_at"`
	PeriodDays             int               `json:"period_days"`
	DefinitionKey          string            `json:"definition_key"`
	TotalProcesses         int               `json:"total_processes"`
	CompletedProcesses     int               `json:"completed_processes"`
	AverageProcessDuration int               `json:"average_process_duration_minutes"`
	BottleneckSteps        []*StepMetrics    `json:"bottleneck_steps"`
	BottleneckLanes        []*LaneMetrics    `json:"bottleneck_lanes"`
	StepMetrics            []*StepMetrics    `json:"step_metrics"`
	LaneMetrics            []*LaneMetrics    `json:"lane_metrics"`
	Automation             AutomationMetrics `json:"automation"`
	SLA                    SLAMetrics        `json:"sla"`
	Recommendations        []*Recommendation `json:"recommendations"`
}

// Service computes analytics over the persistence layer.
type Service struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(store persistence.Persistence, logger *slog.Logger) *Service {
	return &Service{
		persistence: store,
		logger:      logger.With("module", "analytics"),
		now:         time.Now,
	}
}

// window holds everything a computation needs, loaded once per call.
type window struct {
	definition *models.Definition
	instances  []*models.Instance
	steps      map[string][]*models.StepInstance // instance ID -> steps
	rules      []*models.SLARule
	since      time.Time
	periodDays int
}

// StepMetrics computes per-step metrics for the latest version of a
// definition over the trailing period.
func (s *Service) StepMetrics(ctx context.Context, definitionKey string, periodDays int) ([]*StepMetrics, error) {
	w, err := s.loadWindow(ctx, definitionKey, periodDays)
	if err != nil {
		return nil, err
	}

	return s.stepMetrics(w), nil
}

// LaneMetrics rolls the step metrics up by lane.
func (s *Service) LaneMetrics(ctx context.Context, definitionKey string, periodDays int) ([]*LaneMetrics, error) {
	w, err := s.loadWindow(ctx, definitionKey, periodDays)
	if err != nil {
		return nil, err
	}

	return s.laneMetrics(w, s.stepMetrics(w)), nil
}

// ProcessFlowMetrics returns the step funnel for the definition.
func (s *Service) ProcessFlowMetrics(ctx context.Context, definitionKey string, periodDays int) ([]*FlowMetrics, error) {
	w, err := s.loadWindow(ctx, definitionKey, periodDays)
	if err != nil {
		return nil, err
	}

	byStep := groupByStepKey(w)
	flow := make([]*FlowMetrics, 0, len(w.definition.Steps))

	for _, step := range w.definition.Steps {
		if step.Type == models.StepTypeStart || step.Type == models.StepTypeEnd {
			continue
		}

		data := byStep[step.Key]
		entries := len(data)
		exits := 0

		for _, si := range data {
			if si.Status == models.StepStatusCompleted {
				exits++
			}
		}

		row := &FlowMetrics{
			StepKey:            step.Key,
			Title:              step.Title,
			EntryCount:         entries,
			ExitCount:          exits,
			SuccessRatePercent: 100,
		}

		if entries > 0 {
			row.SuccessRatePercent = exits * 100 / entries
			row.DropoffRatePercent = (entries - exits) * 100 / entries
		}

		flow = append(flow, row)
	}

	return flow, nil
}

// DailyTrends buckets instance starts and completions by calendar day, oldest
// first. Days without activity are included so charts stay continuous.
func (s *Service) DailyTrends(ctx context.Context, definitionKey string, periodDays int) ([]*TrendPoint, error) {
	w, err := s.loadWindow(ctx, definitionKey, periodDays)
	if err != nil {
		return nil, err
	}

	points := make([]*TrendPoint, 0, w.periodDays)
	index := make(map[string]*TrendPoint, w.periodDays)
	day := w.since.Truncate(24 * time.Hour)

	for !day.After(s.now().UTC()) {
		point := &TrendPoint{Day: day.Format("2006-01-02")}
		points = append(points, point)
		index[point.Day] = point
		day = day.Add(24 * time.Hour)
	}

	for _, instance := range w.instances {
		if point, ok := index[instance.StartedAt.UTC().Format("2006-01-02")]; ok {
			point.Started++
		}

		if instance.EndedAt == nil {
			continue
		}

		point, ok := index[instance.EndedAt.UTC().Format("2006-01-02")]
		if !ok {
			continue
		}

		switch instance.Status {
		case models.InstanceStatusCompleted:
			point.Completed++
		case models.InstanceStatusCanceled:
			point.Canceled++
		case models.InstanceStatusRunning:
		}
	}

	return points, nil
}

// SLAAnalytics reports compliance over completed steps in the window.
func (s *Service) SLAAnalytics(ctx context.Context, definitionKey string, periodDays int) (*SLAMetrics, error) {
	w, err := s.loadWindow(ctx, definitionKey, periodDays)
	if err != nil {
		return nil, err
	}

	return s.slaMetrics(w), nil
}

// RunBottleneckAnalysis assembles the full picture: step and lane metrics,
// automation and SLA summaries, and generated recommendations. topN limits
// the bottleneck rankings, zero means all.
func (s *Service) RunBottleneckAnalysis(ctx context.Context, definitionKey string, periodDays, topN int) (*BottleneckAnalysis, error) {
	w, err := s.loadWindow(ctx, definitionKey, periodDays)
	if err != nil {
		return nil, err
	}

	stepMetrics := s.stepMetrics(w)
	laneMetrics := s.laneMetrics(w, stepMetrics)

	automation, err := s.automationMetrics(ctx, w)
	if err != nil {
		return nil, err
	}

	analysis := &BottleneckAnalysis{
		AnalyzedAt:    s.now().UTC(),
		PeriodDays:    w.periodDays,
		DefinitionKey: definitionKey,
		StepMetrics:   stepMetrics,
		LaneMetrics:   laneMetrics,
		Automation:    automation,
		SLA:           *s.slaMetrics(w),
	}

	durations := make([]int, 0, len(w.instances))

	for _, instance := range w.instances {
		analysis.TotalProcesses++

		if instance.Status != models.InstanceStatusCompleted || instance.EndedAt == nil {
			continue
		}

		analysis.CompletedProcesses++
		durations = append(durations, int(instance.EndedAt.Sub(instance.StartedAt).Minutes()))
	}

	if len(durations) > 0 {
		analysis.AverageProcessDuration = sum(durations) / len(durations)
	}

	for _, metric := range stepMetrics {
		if metric.IsBottleneck {
			analysis.BottleneckSteps = append(analysis.BottleneckSteps, metric)
		}
	}

	for _, metric := range laneMetrics {
		if metric.IsBottleneck {
			analysis.BottleneckLanes = append(analysis.BottleneckLanes, metric)
		}
	}

	if topN > 0 && len(analysis.BottleneckSteps) > topN {
		analysis.BottleneckSteps = analysis.BottleneckSteps[:topN]
	}

	if topN > 0 && len(analysis.BottleneckLanes) > topN {
		analysis.BottleneckLanes = analysis.BottleneckLanes[:topN]
	}

	analysis.Recommendations = recommend(stepMetrics, laneMetrics)

	return analysis, nil
}

func (s *Service) loadWindow(ctx context.Context, definitionKey string, periodDays int) (*window, error) {
	if periodDays <= 0 {
		periodDays = 30
	}

	definition, err := s.persistence.Definitions().GetLatest(ctx, definitionKey)
	if err != nil {
		return nil, err
	}

	since := s.now().UTC().AddDate(0, 0, -periodDays)

	w := &window{
		definition: definition,
		steps:      make(map[string][]*models.StepInstance),
		since:      since,
		periodDays: periodDays,
	}

	for _, status := range []models.InstanceStatus{
		models.InstanceStatusRunning,
		models.InstanceStatusCompleted,
		models.InstanceStatusCanceled,
	} {
		instances, err := s.persistence.Instances().ListByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s instances: %w", status, err)
		}

		for _, instance := range instances {
			if instance.DefinitionKey != definitionKey || instance.StartedAt.Before(since) {
				continue
			}

			steps, err := s.persistence.Instances().StepInstances(ctx, instance.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to load steps of %s: %w", instance.ID, err)
			}

			w.instances = append(w.instances, instance)
			w.steps[instance.ID] = steps
		}
	}

	w.rules, err = s.persistence.SLARules().ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sla rules: %w", err)
	}

	return w, nil
}

func groupByStepKey(w *window) map[string][]*models.StepInstance {
	byStep := make(map[string][]*models.StepInstance)

	for _, steps := range w.steps {
		for _, si := range steps {
			byStep[si.StepKey] = append(byStep[si.StepKey], si)
		}
	}

	return byStep
}

func (s *Service) stepMetrics(w *window) []*StepMetrics {
	byStep := groupByStepKey(w)
	metrics := make([]*StepMetrics, 0, len(w.definition.Steps))

	for _, step := range w.definition.Steps {
		if step.Type == models.StepTypeStart || step.Type == models.StepTypeEnd {
			continue
		}

		metric := &StepMetrics{
			StepKey:  step.Key,
			Title:    step.Title,
			LaneKey:  step.LaneKey,
			IsManual: step.IsManual,
		}

		critical := fallbackCriticalMinutes
		if rule := sla.RuleForStep(w.rules, w.definition.Key, step.Key); rule != nil {
			critical = rule.CriticalAfterMinutes
		}

		durations := make([]int, 0)

		for _, si := range byStep[step.Key] {
			metric.TotalExecutions++

			switch si.Status {
			case models.StepStatusActive:
				metric.ActiveCount++
			case models.StepStatusCompleted:
				metric.CompletedCount++

				if minutes, ok := si.DurationMinutes(); ok {
					durations = append(durations, minutes)

					if minutes > critical {
						metric.SLABreachCount++
					}
				}
			case models.StepStatusFailed:
				metric.FailedCount++
			case models.StepStatusSkipped:
				metric.SkippedCount++
			case models.StepStatusPending:
			}
		}

		if len(durations) > 0 {
			sort.Ints(durations)
			metric.HasDurations = true
			metric.AverageDurationMinutes = sum(durations) / len(durations)
			metric.MedianDurationMinutes = percentile(durations, 50)
			metric.MinDurationMinutes = durations[0]
			metric.MaxDurationMinutes = durations[len(durations)-1]
			metric.P90DurationMinutes = percentile(durations, 90)
		}

		if metric.CompletedCount > 0 {
			metric.SLABreachRatePercent = metric.SLABreachCount * 100 / metric.CompletedCount
		}

		metric.BottleneckScore = bottleneckScore(
			metric.ActiveCount, metric.SLABreachRatePercent,
			metric.AverageDurationMinutes, critical,
		)
		metric.IsBottleneck = metric.BottleneckScore > bottleneckThreshold
		metric.BottleneckReasons = bottleneckReasons(metric)

		metrics = append(metrics, metric)
	}

	sort.SliceStable(metrics, func(i, j int) bool {
		return metrics[i].BottleneckScore > metrics[j].BottleneckScore
	})

	return metrics
}

func (s *Service) laneMetrics(w *window, stepMetrics []*StepMetrics) []*LaneMetrics {
	byLane := make(map[string]*LaneMetrics, len(w.definition.Lanes))
	order := make([]*LaneMetrics, 0, len(w.definition.Lanes))
	weighted := make(map[string]int)
	scores := make(map[string]int)

	for _, lane := range w.definition.Lanes {
		metric := &LaneMetrics{LaneKey: lane.Key, DisplayName: lane.DisplayName}
		byLane[lane.Key] = metric
		order = append(order, metric)
	}

	breaches := make(map[string]int)

	for _, step := range stepMetrics {
		lane, ok := byLane[step.LaneKey]
		if !ok {
			continue
		}

		lane.StepCount++
		lane.ActiveCount += step.ActiveCount
		lane.CompletedCount += step.CompletedCount
		weighted[step.LaneKey] += step.AverageDurationMinutes * step.CompletedCount
		breaches[step.LaneKey] += step.SLABreachCount
		scores[step.LaneKey] += step.BottleneckScore
	}

	for _, lane := range order {
		if lane.CompletedCount > 0 {
			lane.AverageDurationMinutes = weighted[lane.LaneKey] / lane.CompletedCount
			lane.SLABreachRatePercent = breaches[lane.LaneKey] * 100 / lane.CompletedCount
		}

		lane.ThroughputPerDay = float64(lane.CompletedCount) / float64(w.periodDays)

		if lane.StepCount > 0 {
			lane.BottleneckScore = scores[lane.LaneKey] / lane.StepCount
		}

		lane.IsBottleneck = lane.BottleneckScore > bottleneckThreshold
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].BottleneckScore > order[j].BottleneckScore
	})

	return order
}

func (s *Service) slaMetrics(w *window) *SLAMetrics {
	metrics := &SLAMetrics{
		BreachesByStep:        make(map[string]int),
		ComplianceRatePercent: 100,
	}

	for _, steps := range w.steps {
		for _, si := range steps {
			if si.Status != models.StepStatusCompleted {
				continue
			}

			minutes, ok := si.DurationMinutes()
			if !ok {
				continue
			}

			critical := fallbackCriticalMinutes
			if rule := sla.RuleForStep(w.rules, w.definition.Key, si.StepKey); rule != nil {
				critical = rule.CriticalAfterMinutes
			}

			metrics.CompletedSteps++

			if minutes <= critical {
				metrics.CompliantSteps++
			} else {
				metrics.BreachesByStep[si.StepKey]++
			}
		}
	}

	if metrics.CompletedSteps > 0 {
		metrics.ComplianceRatePercent = metrics.CompliantSteps * 100 / metrics.CompletedSteps
	}

	for stepKey, count := range metrics.BreachesByStep {
		metrics.MostBreachedSteps = append(metrics.MostBreachedSteps, StepBreachCount{
			StepKey:     stepKey,
			BreachCount: count,
		})
	}

	sort.Slice(metrics.MostBreachedSteps, func(i, j int) bool {
		a, b := metrics.MostBreachedSteps[i], metrics.MostBreachedSteps[j]
		if a.BreachCount != b.BreachCount {
			return a.BreachCount > b.BreachCount
		}

		return a.StepKey < b.StepKey
	})

	if len(metrics.MostBreachedSteps) > 5 {
		metrics.MostBreachedSteps = metrics.MostBreachedSteps[:5]
	}

	return metrics
}

func (s *Service) automationMetrics(ctx context.Context, w *window) (AutomationMetrics, error) {
	metrics := AutomationMetrics{}

	events, err := s.persistence.Events().ListByTypeSince(ctx,
		[]models.EventType{models.EventAutomationExecuted, models.EventAutomationFailed}, w.since)
	if err != nil {
		return metrics, fmt.Errorf("failed to load automation history: %w", err)
	}

	for _, event := range events {
		switch event.Type {
		case models.EventAutomationExecuted:
			metrics.ExecutedCount++
		case models.EventAutomationFailed:
			metrics.FailedCount++
		}
	}

	total := metrics.ExecutedCount + metrics.FailedCount
	if total > 0 {
		metrics.FailureRatePercent = metrics.FailedCount * 100 / total
	}

	return metrics, nil
}

// bottleneckScore blends queue depth (30%), SLA breach rate (40%) and
// average duration against the SLA budget (30%) into a 0-100 score.
func bottleneckScore(active, breachRatePercent, averageDuration, criticalMinutes int) int {
	queueFactor := float64(active) / queueSaturation
	if queueFactor > 1 {
		queueFactor = 1
	}

	durationFactor := 0.0
	if criticalMinutes > 0 {
		durationFactor = float64(averageDuration) / float64(criticalMinutes)
		if durationFactor > 1 {
			durationFactor = 1
		}
	}

	score := queueFactor*30 + float64(breachRatePercent)/100*40 + durationFactor*30
	if score > 100 {
		score = 100
	}

	return int(score + 0.5)
}

func bottleneckReasons(metric *StepMetrics) []string {
	reasons := make([]string, 0, 3)

	if metric.ActiveCount > 5 {
		reasons = append(reasons, "high active instance count")
	}

	if metric.CompletedCount > 0 && metric.SLABreachRatePercent > 10 {
		reasons = append(reasons, "high sla breach rate")
	}

	if metric.HasDurations && metric.P90DurationMinutes > metric.AverageDurationMinutes*2 {
		reasons = append(reasons, "long tail durations")
	}

	return reasons
}

func recommend(stepMetrics []*StepMetrics, laneMetrics []*LaneMetrics) []*Recommendation {
	recommendations := make([]*Recommendation, 0)

	for _, step := range stepMetrics {
		if step.BottleneckScore > 70 {
			priority := "high"
			if step.BottleneckScore > 85 {
				priority = "critical"
			}

			recommendations = append(recommendations, &Recommendation{
				Type:          "step_optimization",
				Priority:      priority,
				Title:         fmt.Sprintf("Optimize step %q", step.Title),
				Description:   fmt.Sprintf("bottleneck score %d", step.BottleneckScore),
				AffectedSteps: []string{step.StepKey},
			})
		}

		if step.SLABreachRatePercent > 20 {
			priority := "medium"
			if step.SLABreachRatePercent > 40 {
				priority = "high"
			}

			recommendations = append(recommendations, &Recommendation{
				Type:          "sla_adjustment",
				Priority:      priority,
				Title:         fmt.Sprintf("Review SLA for %q", step.Title),
				Description:   fmt.Sprintf("%d%% of completions breach the SLA", step.SLABreachRatePercent),
				AffectedSteps: []string{step.StepKey},
			})
		}

		if step.IsManual && step.HasDurations && step.AverageDurationMinutes > 60 && step.CompletedCount > 5 {
			recommendations = append(recommendations, &Recommendation{
				Type:          "automation",
				Priority:      "medium",
				Title:         fmt.Sprintf("Automate %q", step.Title),
				Description:   fmt.Sprintf("manual step averages %d minutes", step.AverageDurationMinutes),
				AffectedSteps: []string{step.StepKey},
			})
		}
	}

	for _, lane := range laneMetrics {
		if lane.IsBottleneck {
			recommendations = append(recommendations, &Recommendation{
				Type:        "resource_allocation",
				Priority:    "medium",
				Title:       fmt.Sprintf("Review lane %q", lane.DisplayName),
				Description: fmt.Sprintf("%d active steps, bottleneck score %d", lane.ActiveCount, lane.BottleneckScore),
			})
		}
	}

	sort.SliceStable(recommendations, func(i, j int) bool {
		return priorityRank(recommendations[i].Priority) < priorityRank(recommendations[j].Priority)
	})

	return recommendations
}

func priorityRank(priority string) int {
	switch priority {
	case "critical":
		return 0
	case "high":
		return 1
	case "medium":
		return 2
	default:
		return 3
	}
}

// percentile expects values sorted ascending.
func percentile(values []int, p int) int {
	if len(values) == 0 {
		return 0
	}

	index := (p*len(values) + 99) / 100
	if index < 1 {
		index = 1
	}

	return values[index-1]
}

func sum(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}

	return total
}
