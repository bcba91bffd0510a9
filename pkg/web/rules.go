package web

import (
	"github.com/gofiber/fiber/v3"

	"github.com/megicode/stepflow/pkg/automation"
	"github.com/megicode/stepflow/pkg/models"
)

func (h *APIHandlers) ListRules(c fiber.Ctx) error {
	rules, err := h.rules.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"rules": rules})
}

func (h *APIHandlers) SaveRule(c fiber.Ctx) error {
	var rule models.AutomationRule
	if err := c.Bind().JSON(&rule); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	created := rule.ID == ""

	if err := h.rules.Save(c.Context(), &rule); err != nil {
		return handleServiceError(c, err)
	}

	if created {
		return c.Status(fiber.StatusCreated).JSON(rule)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) GetRule(c fiber.Ctx) error {
	rule, err := h.rules.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) DeleteRule(c fiber.Ctx) error {
	if err := h.rules.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ToggleRule(c fiber.Ctx) error {
	var req ToggleRuleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.rules.SetEnabled(c.Context(), c.Params("id"), *req.Enabled); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// TestRule dry-runs a rule's actions against a live instance. Nothing is
// dispatched; each result carries the rendered payload the action would use.
func (h *APIHandlers) TestRule(c fiber.Ctx) error {
	var req TestRuleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	rule, err := h.rules.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	instance, err := h.persistence.Instances().GetByID(c.Context(), req.InstanceID)
	if err != nil {
		return handleServiceError(c, err)
	}

	definition, err := h.persistence.Definitions().GetByKeyVersion(c.Context(), instance.DefinitionKey, instance.DefinitionVersion)
	if err != nil {
		return handleServiceError(c, err)
	}

	stepKey := req.StepKey
	if stepKey == "" {
		stepKey = instance.CurrentStepKey
	}

	results := h.ruleEngine.TestRule(c.Context(), rule, automation.Invocation{
		Trigger:    rule.Trigger,
		Instance:   instance,
		Definition: definition,
		Step:       definition.StepByKey(stepKey),
		Decision:   req.Decision,
	})

	return c.JSON(fiber.Map{"results": results})
}

func (h *APIHandlers) ListSLARules(c fiber.Ctx) error {
	rules, err := h.slaRules.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"rules": rules})
}

func (h *APIHandlers) SaveSLARule(c fiber.Ctx) error {
	var rule models.SLARule
	if err := c.Bind().JSON(&rule); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	created := rule.ID == ""

	if err := h.slaRules.Save(c.Context(), &rule); err != nil {
		return handleServiceError(c, err)
	}

	if created {
		return c.Status(fiber.StatusCreated).JSON(rule)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) GetSLARule(c fiber.Ctx) error {
	rule, err := h.slaRules.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) DeleteSLARule(c fiber.Ctx) error {
	if err := h.slaRules.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ListSLABreaches(c fiber.Ctx) error {
	breaches, err := h.monitor.CheckAllBreaches(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"breaches": breaches})
}
