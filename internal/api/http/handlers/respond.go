package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/service"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// respond writes the success envelope.
func respond(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{"status": status, "data": data})
}

func actorFrom(c *fiber.Ctx) (domain.Actor, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return principal.Actor, nil
}

// parseBody decodes a JSON body into out. An empty body leaves out untouched.
func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return nil
}

// parseListQuery reads PageNumber, PageSize, Search, Status and Scope. Status
// may repeat or hold a comma-separated list.
func parseListQuery(c *fiber.Ctx) (service.ListQuery, error) {
	q := service.ListQuery{
		Search: c.Query("Search"),
		Scope:  strings.ToLower(c.Query("Scope")),
	}
	var err error
	if q.PageNumber, err = queryInt(c, "PageNumber"); err != nil {
		return q, err
	}
	if q.PageSize, err = queryInt(c, "PageSize"); err != nil {
		return q, err
	}
	for _, raw := range c.Context().QueryArgs().PeekMulti("Status") {
		for _, s := range strings.Split(string(raw), ",") {
			if s = strings.TrimSpace(s); s != "" {
				q.Statuses = append(q.Statuses, s)
			}
		}
	}
	return q, nil
}

func queryInt(c *fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.NewValidationError(key+" must be a non-negative integer", map[string]any{"value": raw})
	}
	return n, nil
}
