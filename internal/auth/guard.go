package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spec-kit/user-service/internal/access"
	"github.com/spec-kit/user-service/internal/cache"
	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/repository"
	apperrors "github.com/spec-kit/user-service/pkg/util/errorutil"
)

const principalLookupTimeout = 5 * time.Second

// State is a step of the per-request guard state machine.
type State int

const (
	StateStart State = iota
	StatePublicCheck
	StateTokenExtracted
	StateTokenVerified
	StatePrincipalResolved
	StateActivationChecked
	StateAccessEnforced
	StateAllow
	StateReject
)

var stateNames = [...]string{
	StateStart:             "start",
	StatePublicCheck:       "public_check",
	StateTokenExtracted:    "token_extracted",
	StateTokenVerified:     "token_verified",
	StatePrincipalResolved: "principal_resolved",
	StateActivationChecked: "activation_checked",
	StateAccessEnforced:    "access_enforced",
	StateAllow:             "allow",
	StateReject:            "reject",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// RejectReason explains a StateReject outcome.
type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonUnauthenticated
	ReasonNotActivated
	ReasonForbidden
	// ReasonUnavailable means the principal could not be looked up at all.
	ReasonUnavailable
)

func (r RejectReason) String() string {
	switch r {
	case ReasonUnauthenticated:
		return "unauthenticated"
	case ReasonNotActivated:
		return "not_activated"
	case ReasonForbidden:
		return "forbidden"
	case ReasonUnavailable:
		return "unavailable"
	default:
		return "none"
	}
}

// Decision is the outcome of one guard evaluation. Reached is the last
// state entered before the outcome; Err is set for rejections.
type Decision struct {
	State     State
	Reached   State
	Reason    RejectReason
	Principal *domain.User
	Err       error
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.State == StateAllow
}

// GuardRequest is what the guard needs from an inbound request.
type GuardRequest interface {
	access.Fields
	Authorization() string
}

// UserFinder resolves principals.
type UserFinder interface {
	FindOne(ctx context.Context, filter repository.UserFilter) (*domain.User, error)
}

// Guard authenticates requests and applies route restrictions.
type Guard struct {
	tokens     *TokenManager
	users      UserFinder
	principals cache.PrincipalCache
	routes     RouteTable
	logger     *zap.Logger
	lookups    singleflight.Group
}

// NewGuard builds a guard. principals and logger may be nil.
func NewGuard(tokens *TokenManager, users UserFinder, principals cache.PrincipalCache, routes RouteTable, logger *zap.Logger) *Guard {
	if principals == nil {
		principals = cache.NopPrincipalCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if routes == nil {
		routes = RouteTable{}
	}
	return &Guard{
		tokens:     tokens,
		users:      users,
		principals: principals,
		routes:     routes,
		logger:     logger,
	}
}

// Evaluate runs the state machine for one request under policy.
func (g *Guard) Evaluate(ctx context.Context, req GuardRequest, policy RoutePolicy) Decision {
	var (
		state     = StateStart
		token     string
		claims    *Claims
		principal *domain.User
	)

	for {
		switch state {
		case StateStart:
			state = StatePublicCheck

		case StatePublicCheck:
			if policy.Public {
				return Decision{State: StateAllow, Reached: state}
			}
			raw, ok := BearerToken(req.Authorization())
			if !ok {
				return reject(state, ReasonUnauthenticated,
					apperrors.NewUnauthenticated("missing or malformed authorization header"))
			}
			token = raw
			state = StateTokenExtracted

		case StateTokenExtracted:
			verified, err := g.tokens.Verify(token)
			if err != nil {
				return reject(state, ReasonUnauthenticated, apperrors.NewUnauthenticated("invalid token"))
			}
			claims = verified
			state = StateTokenVerified

		case StateTokenVerified:
			user, err := g.resolvePrincipal(ctx, claims.UserID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return reject(state, ReasonUnauthenticated, apperrors.NewUnauthenticated("unknown principal"))
				}
				return reject(state, ReasonUnavailable, apperrors.NewInternalError(err))
			}
			principal = user
			state = StatePrincipalResolved

		case StatePrincipalResolved:
			if !principal.EmailConfirmed {
				return reject(state, ReasonNotActivated, apperrors.NewNotActivated())
			}
			state = StateActivationChecked

		case StateActivationChecked:
			if policy.Restriction != nil && !principal.IsAdmin {
				if err := access.Enforce(req, principal, *policy.Restriction); err != nil {
					if errors.Is(err, apperrors.ErrForbidden) {
						return reject(state, ReasonForbidden, err)
					}
					return reject(state, ReasonUnavailable, err)
				}
			}
			state = StateAccessEnforced

		case StateAccessEnforced:
			return Decision{State: StateAllow, Reached: state, Principal: principal}

		default:
			return reject(state, ReasonUnavailable, apperrors.NewInternalError(errors.New("guard reached unexpected state "+state.String())))
		}
	}
}

func reject(reached State, reason RejectReason, err error) Decision {
	return Decision{State: StateReject, Reached: reached, Reason: reason, Err: err}
}

// resolvePrincipal loads a non-deleted user through the principal cache.
// Concurrent lookups of the same id share one store query.
func (g *Guard) resolvePrincipal(ctx context.Context, id int64) (*domain.User, error) {
	if cached, ok, err := g.principals.Get(ctx, id); err != nil {
		g.logger.Warn("principal cache read failed", zap.Int64("user_id", id), zap.Error(err))
	} else if ok {
		if cached.IsDeleted {
			return nil, repository.ErrNotFound
		}
		return cached, nil
	}

	v, err, _ := g.lookups.Do(strconv.FormatInt(id, 10), func() (any, error) {
		// Shared by all waiters: detached from the first caller's cancellation.
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), principalLookupTimeout)
		defer cancel()
		user, err := g.users.FindOne(shared, repository.UserFilter{IDs: []int64{id}})
		if err != nil {
			return nil, err
		}
		if err := g.principals.Set(shared, user); err != nil {
			g.logger.Warn("principal cache write failed", zap.Int64("user_id", id), zap.Error(err))
		}
		return user, nil
	})
	if err != nil {
		return nil, err
	}
	principal := *v.(*domain.User)
	return &principal, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
