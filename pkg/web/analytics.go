package web

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v3"
)

const (
	defaultPeriodDays     = 30
	defaultBottleneckTopN = 5
)

func intQuery(c fiber.Ctx, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}

	return value, nil
}

func (h *APIHandlers) AnalyticsSteps(c fiber.Ctx) error {
	periodDays, err := intQuery(c, "period_days", defaultPeriodDays)
	if err != nil {
		return badRequest(c, err.Error())
	}

	metrics, err := h.analytics.StepMetrics(c.Context(), c.Params("key"), periodDays)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"steps": metrics})
}

func (h *APIHandlers) AnalyticsLanes(c fiber.Ctx) error {
	periodDays, err := intQuery(c, "period_days", defaultPeriodDays)
	if err != nil {
		return badRequest(c, err.Error())
	}

	metrics, err := h.analytics.LaneMetrics(c.Context(), c.Params("key"), periodDays)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"lanes": metrics})
}

func (h *APIHandlers) AnalyticsFlow(c fiber.Ctx) error {
	periodDays, err := intQuery(c, "period_days", defaultPeriodDays)
	if err != nil {
		return badRequest(c, err.Error())
	}

	metrics, err := h.analytics.ProcessFlowMetrics(c.Context(), c.Params("key"), periodDays)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"flow": metrics})
}

func (h *APIHandlers) AnalyticsTrends(c fiber.Ctx) error {
	periodDays, err := intQuery(c, "period_days", defaultPeriodDays)
	if err != nil {
		return badRequest(c, err.Error())
	}

	points, err := h.analytics.DailyTrends(c.Context(), c.Params("key"), periodDays)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"trends": points})
}

func (h *APIHandlers) AnalyticsSLA(c fiber.Ctx) error {
	periodDays, err := intQuery(c, "period_days", defaultPeriodDays)
	if err != nil {
		return badRequest(c, err.Error())
	}

	metrics, err := h.analytics.SLAAnalytics(c.Context(), c.Params("key"), periodDays)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(metrics)
}

func (h *APIHandlers) AnalyticsBottlenecks(c fiber.Ctx) error {
	periodDays, err := intQuery(c, "period_days", defaultPeriodDays)
	if err != nil {
		return badRequest(c, err.Error())
	}

	topN, err := intQuery(c, "top", defaultBottleneckTopN)
	if err != nil {
		return badRequest(c, err.Error())
	}

	analysis, err := h.analytics.RunBottleneckAnalysis(c.Context(), c.Params("key"), periodDays, topN)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(analysis)
}
