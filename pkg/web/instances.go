package web

import (
	"github.com/gofiber/fiber/v3"

	"github.com/megicode/stepflow/pkg/assignment"
	"github.com/megicode/stepflow/pkg/engine"
	"github.com/megicode/stepflow/pkg/models"
)

func (h *APIHandlers) StartInstance(c fiber.Ctx) error {
	var req StartInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	start := engine.StartRequest{
		DefinitionKey: req.DefinitionKey,
		Version:       req.Version,
		Context:       req.Context,
		StartedBy:     req.StartedBy,
	}

	if req.BusinessRefKind != "" || req.BusinessRefID != "" {
		start.BusinessRef = &models.BusinessRef{
			Kind: req.BusinessRefKind,
			ID:   req.BusinessRefID,
		}
	}

	instance, err := h.engine.StartProcess(c.Context(), start)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) ListInstances(c fiber.Ctx) error {
	kind, id := c.Query("business_ref_kind"), c.Query("business_ref_id")
	if kind != "" || id != "" {
		if kind == "" || id == "" {
			return badRequest(c, "business_ref_kind and business_ref_id are required together")
		}

		instances, err := h.persistence.Instances().ListByBusinessRef(c.Context(), kind, id)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.JSON(fiber.Map{"instances": instances})
	}

	status := models.InstanceStatus(c.Query("status", string(models.InstanceStatusRunning)))

	switch status {
	case models.InstanceStatusRunning, models.InstanceStatusCompleted, models.InstanceStatusCanceled:
	default:
		return badRequest(c, "unknown instance status")
	}

	instances, err := h.persistence.Instances().ListByStatus(c.Context(), status)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"instances": instances})
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	instance, err := h.persistence.Instances().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetInstanceProgress(c fiber.Ctx) error {
	progress, err := h.engine.Progress(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(progress)
}

func (h *APIHandlers) GetInstanceEvents(c fiber.Ctx) error {
	id := c.Params("id")

	// 404 on unknown instances instead of an empty log.
	if _, err := h.persistence.Instances().GetByID(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	events, err := h.persistence.Events().ListByInstance(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"events": events})
}

func (h *APIHandlers) GetInstanceSLA(c fiber.Ctx) error {
	summary, err := h.monitor.ProcessSLASummary(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(summary)
}

func (h *APIHandlers) ExecuteStep(c fiber.Ctx) error {
	var req ExecuteStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	instance, err := h.engine.ExecuteStep(c.Context(), engine.ExecuteRequest{
		InstanceID: c.Params("id"),
		StepKey:    req.StepKey,
		UserID:     req.UserID,
		Decision:   req.Decision,
		Output:     req.Output,
		Notes:      req.Notes,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) SkipStep(c fiber.Ctx) error {
	var req SkipStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.SkipStep(c.Context(), c.Params("id"), req.UserID, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	var req CancelInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.CancelProcess(c.Context(), c.Params("id"), req.UserID, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) AssignStep(c fiber.Ctx) error {
	var req AssignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.assignments.ManualAssign(c.Context(), assignment.ManualAssignRequest{
		InstanceID:    c.Params("id"),
		UserID:        req.UserID,
		AssignedBy:    req.AssignedBy,
		AdminOverride: req.AdminOverride,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) AutoAssignStep(c fiber.Ctx) error {
	candidate, err := h.assignments.AutoAssign(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(candidate)
}

func (h *APIHandlers) ReassignStep(c fiber.Ctx) error {
	var req ReassignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.assignments.Reassign(c.Context(), assignment.ReassignRequest{
		InstanceID:    c.Params("id"),
		ToUserID:      req.ToUserID,
		Reason:        req.Reason,
		ReassignedBy:  req.ReassignedBy,
		AdminOverride: req.AdminOverride,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) TeamWorkload(c fiber.Ctx) error {
	role := c.Query("role")
	if role == "" {
		return badRequest(c, "role query parameter is required")
	}

	workload, err := h.assignments.TeamWorkload(c.Context(), role)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workload": workload})
}
