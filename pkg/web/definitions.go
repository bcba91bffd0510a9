package web

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/megicode/stepflow/pkg/template"
)

func (h *APIHandlers) ListDefinitions(c fiber.Ctx) error {
	includeInactive, err := boolQuery(c, "include_inactive")
	if err != nil {
		return badRequest(c, "include_inactive must be a boolean")
	}

	definitions, err := h.templates.List(c.Context(), template.Query{
		Category:        c.Query("category"),
		Tag:             c.Query("tag"),
		Text:            c.Query("q"),
		IncludeInactive: includeInactive,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"definitions": definitions})
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return badRequest(c, "definition key is required")
	}

	definition, err := h.templates.Get(c.Context(), key)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) GetDefinitionVersion(c fiber.Ctx) error {
	key := c.Params("key")

	version, err := strconv.Atoi(c.Params("version"))
	if err != nil || version < 1 {
		return badRequest(c, "version must be a positive integer")
	}

	definition, err := h.templates.GetVersion(c.Context(), key, version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	var req CreateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.templates.Create(c.Context(), template.CreateRequest{
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Tags:        req.Tags,
		Lanes:       req.Lanes,
		Steps:       req.Steps,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) CloneDefinition(c fiber.Ctx) error {
	key := c.Params("key")

	var req CloneDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	clone, err := h.templates.Clone(c.Context(), key, template.CloneRequest{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Tags:        req.Tags,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(clone)
}

func (h *APIHandlers) CreateDefinitionVersion(c fiber.Ctx) error {
	key := c.Params("key")

	var req DefinitionVersionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	next, err := h.templates.CreateVersion(c.Context(), key, template.VersionRequest{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Tags:        req.Tags,
		Lanes:       req.Lanes,
		Steps:       req.Steps,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(next)
}

func (h *APIHandlers) DeactivateDefinition(c fiber.Ctx) error {
	key := c.Params("key")

	if err := h.templates.Deactivate(c.Context(), key); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SetDefaultDefinition(c fiber.Ctx) error {
	key := c.Params("key")

	if err := h.templates.SetDefault(c.Context(), key); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) DefinitionCategories(c fiber.Ctx) error {
	counts, err := h.templates.CategoryCounts(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"categories": counts})
}

func (h *APIHandlers) DefinitionUsage(c fiber.Ctx) error {
	counts, err := template.UsageCounts(c.Context(), h.persistence.Instances())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"usage": counts})
}

func boolQuery(c fiber.Ctx, name string) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return false, nil
	}

	return strconv.ParseBool(raw)
}
