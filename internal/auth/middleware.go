package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/access"
	"github.com/spec-kit/user-service/internal/domain"
)

const (
	principalKey    = "auth_principal"
	pathOverrideKey = "auth_path_override."
)

// Route returns the guard middleware for the route registered under key.
func (g *Guard) Route(key string) fiber.Handler {
	policy := g.routes.Policy(key)
	return func(c *fiber.Ctx) error {
		decision := g.Evaluate(c.UserContext(), newFiberRequest(c), policy)
		if !decision.Allowed() {
			g.logger.Debug("request rejected by guard",
				zap.String("route", key),
				zap.Stringer("state", decision.Reached),
				zap.Stringer("reason", decision.Reason),
				zap.Error(decision.Err))
			return decision.Err
		}
		if decision.Principal != nil {
			c.Locals(principalKey, decision.Principal)
		}
		return c.Next()
	}
}

// PrincipalFromContext retrieves the authenticated user.
func PrincipalFromContext(c *fiber.Ctx) (*domain.User, bool) {
	principal, ok := c.Locals(principalKey).(*domain.User)
	return principal, ok && principal != nil
}

// Param returns a route parameter, honouring rewrites made by the guard.
func Param(c *fiber.Ctx, name string) string {
	if override, ok := c.Locals(pathOverrideKey + name).(string); ok {
		return override
	}
	return c.Params(name)
}

// fiberRequest exposes a Fiber request to the guard and the access policy.
type fiberRequest struct {
	c      *fiber.Ctx
	body   map[string]any
	parsed bool
	err    error
}

func newFiberRequest(c *fiber.Ctx) *fiberRequest {
	return &fiberRequest{c: c}
}

func (r *fiberRequest) Authorization() string {
	return r.c.Get(fiber.HeaderAuthorization)
}

func (r *fiberRequest) Lookup(loc access.Location, field string) ([]string, bool) {
	switch loc {
	case access.LocationQuery:
		raw := r.c.Request().URI().QueryArgs().PeekMulti(field)
		if len(raw) == 0 {
			return nil, false
		}
		var values []string
		for _, v := range raw {
			values = append(values, strings.Split(string(v), ",")...)
		}
		return values, true

	case access.LocationBody:
		body, err := r.jsonBody()
		if err != nil || body == nil {
			return nil, false
		}
		// encoding/json binds keys case-insensitively, so every variant of
		// field may reach the handler and all of them are checked.
		var values []string
		for key, v := range body {
			if strings.EqualFold(key, field) && v != nil {
				values = append(values, bodyValues(v)...)
			}
		}
		return values, len(values) > 0

	case access.LocationPath:
		v := Param(r.c, field)
		if v == "" {
			return nil, false
		}
		return []string{v}, true
	}
	return nil, false
}

func (r *fiberRequest) Replace(loc access.Location, field string, id int64) error {
	value := strconv.FormatInt(id, 10)
	switch loc {
	case access.LocationQuery:
		args := r.c.Request().URI().QueryArgs()
		args.Del(field)
		args.Set(field, value)
		return nil

	case access.LocationBody:
		body, err := r.jsonBody()
		if err != nil {
			return err
		}
		if body == nil {
			body = map[string]any{}
		}
		for key := range body {
			if strings.EqualFold(key, field) {
				delete(body, key)
			}
		}
		body[field] = id
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		r.c.Request().SetBody(raw)
		r.c.Request().Header.SetContentType(fiber.MIMEApplicationJSON)
		r.body = body
		return nil

	case access.LocationPath:
		// Fiber route params are read-only; handlers read them through Param.
		r.c.Locals(pathOverrideKey+field, value)
		return nil
	}
	return fmt.Errorf("unsupported location %s", loc)
}

// jsonBody decodes the body as a JSON object once. An empty body yields a
// nil map and no error.
func (r *fiberRequest) jsonBody() (map[string]any, error) {
	if r.parsed {
		return r.body, r.err
	}
	r.parsed = true

	raw := bytes.TrimSpace(r.c.Body())
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		r.err = errors.New("request body is not a JSON object")
		return nil, r.err
	}
	r.body = body
	return body, nil
}

func bodyValues(v any) []string {
	switch val := v.(type) {
	case json.Number:
		return []string{val.String()}
	case string:
		return []string{val}
	case []any:
		values := make([]string, 0, len(val))
		for _, item := range val {
			values = append(values, bodyValues(item)...)
		}
		return values
	default:
		return []string{fmt.Sprint(val)}
	}
}
