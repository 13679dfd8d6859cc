package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// Policy is the access rule attached to one route. The zero value only
// applies the address block check.
type Policy struct {
	// Class is charged once per request. Leave it empty for routes that
	// charge their own class, such as login.
	Class         models.RateClass
	Authenticated bool
	// Roles, when set, implies Authenticated. The caller's current role is
	// read from the identity store, not from the token.
	Roles []string
}

// AddressLimiter checks client addresses against the block list and the
// per-class budgets.
type AddressLimiter interface {
	CheckBlocked(ctx context.Context, address string) error
	Check(ctx context.Context, address string, class models.RateClass) (*models.RateDecision, error)
}

// RequestAuthenticator resolves the caller of a request.
type RequestAuthenticator interface {
	Authenticate(r *http.Request) (*models.TokenClaims, error)
}

// RoleLookup loads the identity behind a token.
type RoleLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Guard evaluates route policies in a fixed order: address block, rate
// class, authentication, role.
type Guard struct {
	limiter  AddressLimiter
	authn    RequestAuthenticator
	users    RoleLookup
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewGuard(limiter AddressLimiter, authn RequestAuthenticator, users RoleLookup, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *Guard {
	return &Guard{
		limiter:  limiter,
		authn:    authn,
		users:    users,
		ipConfig: ipConfig,
		logger:   logger,
		now:      time.Now,
	}
}

// Enforce returns middleware applying p.
func (g *Guard) Enforce(p Policy) func(http.Handler) http.Handler {
	needsAuth := p.Authenticated || len(p.Roles) > 0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			address := pkghttp.ExtractClientIP(r, g.ipConfig)

			if err := g.limiter.CheckBlocked(ctx, address); err != nil {
				g.writeLimitError(w, err)
				return
			}

			if p.Class != "" {
				decision, err := g.limiter.Check(ctx, address, p.Class)
				if decision != nil && decision.Limit > 0 {
					setRateHeaders(w, decision)
				}
				if err != nil {
					g.writeLimitError(w, err)
					return
				}
			}

			if !needsAuth {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := g.authn.Authenticate(r)
			if err != nil {
				if errors.Is(err, models.ErrUnauthorized) {
					pkghttp.WriteUnauthorized(w, "Authentication required")
					return
				}
				g.logger.Error("session check failed", slog.Any("error", err))
				pkghttp.WriteServiceUnavailable(w, "Unable to verify session")
				return
			}

			if len(p.Roles) > 0 && !g.hasRole(w, r, claims, p.Roles) {
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithClaims(ctx, claims)))
		})
	}
}

// hasRole writes the rejection itself and reports whether to continue.
func (g *Guard) hasRole(w http.ResponseWriter, r *http.Request, claims *models.TokenClaims, roles []string) bool {
	user, err := g.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return false
		}
		g.logger.Error("role lookup failed", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Unable to verify permissions")
		return false
	}
	if !user.IsActive() {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return false
	}

	for _, role := range roles {
		if user.Role == role {
			return true
		}
	}
	pkghttp.WriteForbidden(w, "Insufficient permissions")
	return false
}

func (g *Guard) writeLimitError(w http.ResponseWriter, err error) {
	now := g.now()

	var blocked *models.AddressBlockedError
	if errors.As(err, &blocked) {
		pkghttp.WriteAddressBlocked(w, "Too many suspicious requests from this address", blocked.RetryAfter(now))
		return
	}
	var limited *models.RateLimitError
	if errors.As(err, &limited) {
		pkghttp.WriteTooManyRequests(w, "Too many requests, please try again later", limited.RetryAfter(now))
		return
	}

	g.logger.Error("rate limit check failed", slog.Any("error", err))
	pkghttp.WriteInternalError(w, "An unexpected error occurred")
}

func setRateHeaders(w http.ResponseWriter, d *models.RateDecision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}
