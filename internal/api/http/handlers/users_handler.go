package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/user-service/internal/access"
	"github.com/spec-kit/user-service/internal/api/dto"
	"github.com/spec-kit/user-service/internal/auth"
	"github.com/spec-kit/user-service/internal/service"
	apperrors "github.com/spec-kit/user-service/pkg/util/errorutil"
)

// UsersHandler exposes the /user endpoints.
type UsersHandler struct {
	users *service.UserService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(users *service.UserService) *UsersHandler {
	return &UsersHandler{users: users}
}

// Find handles GET /user.
func (h *UsersHandler) Find(c *fiber.Ctx) error {
	query, err := parseFindQuery(c)
	if err != nil {
		return err
	}
	if err := dto.Validate(query); err != nil {
		return err
	}

	users, err := h.users.Find(c.UserContext(), query.Filter())
	if err != nil {
		return err
	}
	return c.JSON(dto.UserEnvelope{Users: dto.NewUserResponses(users)})
}

// FindOne handles GET /user/:id.
func (h *UsersHandler) FindOne(c *fiber.Ctx) error {
	id, ok := access.ParseID(auth.Param(c, "id"))
	if !ok || id <= 0 {
		return apperrors.NewValidationError("invalid user id", map[string]any{"id": "must be a positive integer"})
	}
	credentials, err := boolQuery(c, "credentials")
	if err != nil {
		return err
	}

	user, err := h.users.FindOne(c.UserContext(), id, credentials)
	if err != nil {
		return err
	}
	return c.JSON(dto.UserEnvelope{Users: dto.NewUserResponse(user)})
}

// Create handles POST /user.
func (h *UsersHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := dto.Validate(req); err != nil {
		return err
	}

	user, err := h.users.Create(c.UserContext(), service.CreateUserInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	return c.JSON(dto.UserEnvelope{Users: dto.NewUserResponse(user)})
}

// Update handles PATCH /user.
func (h *UsersHandler) Update(c *fiber.Ctx) error {
	var req dto.UpdateUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := dto.Validate(req); err != nil {
		return err
	}

	principal, _ := auth.PrincipalFromContext(c)
	user, err := h.users.Update(c.UserContext(), principal, int64(req.ID), service.UpdateUserInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	return c.JSON(dto.UserEnvelope{Users: dto.NewUserResponse(user)})
}

// Delete handles DELETE /user.
func (h *UsersHandler) Delete(c *fiber.Ctx) error {
	var req dto.DeleteUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := dto.Validate(req); err != nil {
		return err
	}

	principal, _ := auth.PrincipalFromContext(c)
	user, err := h.users.Delete(c.UserContext(), principal, int64(req.ID))
	if err != nil {
		return err
	}
	return c.JSON(dto.UserEnvelope{Users: dto.NewUserResponse(user)})
}

// Validate handles POST /user/validate. The token comes from the body or,
// failing that, the bearer header.
func (h *UsersHandler) Validate(c *fiber.Ctx) error {
	var req dto.ValidateTokenRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		token, _ = auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	}
	return c.JSON(dto.ValidateTokenResponse{Valid: h.users.ValidateToken(c.UserContext(), token)})
}

// Authenticate handles POST /user/authenticate.
func (h *UsersHandler) Authenticate(c *fiber.Ctx) error {
	var req dto.AuthenticateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := dto.Validate(req); err != nil {
		return err
	}

	user, err := h.users.Authenticate(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(dto.CredentialsEnvelope{Credentials: dto.NewUserResponse(user)})
}

// Token handles POST /user/token.
func (h *UsersHandler) Token(c *fiber.Ctx) error {
	var req dto.AuthenticateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := dto.Validate(req); err != nil {
		return err
	}

	token, err := h.users.IssueToken(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(dto.TokenResponse{Token: token.Value, ExpiresAt: token.ExpiresAt})
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid payload", map[string]any{"body": err.Error()})
	}
	return nil
}

func parseFindQuery(c *fiber.Ctx) (dto.FindUsersQuery, error) {
	var q dto.FindUsersQuery
	args := c.Request().URI().QueryArgs()

	for _, raw := range args.PeekMulti("ids") {
		for _, part := range strings.Split(string(raw), ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, ok := access.ParseID(part)
			if !ok {
				return q, apperrors.NewValidationError("invalid ids", map[string]any{"ids": "must be a comma separated list of integers"})
			}
			q.IDs = append(q.IDs, id)
		}
	}

	q.Name = strings.TrimSpace(c.Query("name"))
	q.Email = strings.TrimSpace(c.Query("email"))

	if raw := c.Query("updatedSince"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, apperrors.NewValidationError("invalid updatedSince", map[string]any{"updatedSince": "must be an RFC 3339 timestamp"})
		}
		q.UpdatedSince = &since
	}

	var err error
	if q.Limit, err = intQuery(c, "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = intQuery(c, "offset"); err != nil {
		return q, err
	}
	if q.Credentials, err = boolQuery(c, "credentials"); err != nil {
		return q, err
	}
	return q, nil
}

func intQuery(c *fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewValidationError("invalid "+key, map[string]any{key: "must be an integer"})
	}
	return n, nil
}

func boolQuery(c *fiber.Ctx, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.NewValidationError("invalid "+key, map[string]any{key: "must be a boolean"})
	}
	return b, nil
}
