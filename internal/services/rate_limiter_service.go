package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/observability"
	"github.com/BradenHooton/bastion/internal/ratelimit"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// Risk score weights. Failures alone reach riskFailureCap only at the
// brute-force threshold.
const (
	riskFailureCap       = 50
	riskDensityCap       = 30
	riskEmptyUserAgent   = 20
	riskToolingUserAgent = 25
	maxRiskScore         = 100
)

var toolingUserAgents = []string{"curl", "wget", "python-requests", "go-http-client", "sqlmap", "nikto", "hydra", "nmap"}

// FailureCounter counts failed verifications per client address
type FailureCounter interface {
	CountFailuresByIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
}

// RateLimiterService enforces per-class request budgets and the
// blocked-address list, and scores addresses for suspicious activity.
//
// Store errors fail open: the counters are advisory and the durable checks
// (lockout, credentials, sessions) still apply.
type RateLimiterService struct {
	store    ratelimit.Store
	rules    map[models.RateClass]config.RateLimitRule
	cfg      config.RateLimitConfig
	failures FailureCounter
	events   EventRecorder
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewRateLimiterService creates a new RateLimiterService
func NewRateLimiterService(store ratelimit.Store, cfg config.RateLimitConfig, failures FailureCounter, events EventRecorder, metrics *observability.Metrics, logger *slog.Logger) *RateLimiterService {
	return &RateLimiterService{
		store: store,
		rules: map[models.RateClass]config.RateLimitRule{
			models.RateClassLogin:         cfg.Login,
			models.RateClassRegister:      cfg.Register,
			models.RateClassPasswordReset: cfg.PasswordReset,
			models.RateClassSensitive:     cfg.Sensitive,
			models.RateClassGlobal:        cfg.Global,
			models.RateClassLockoutCheck:  cfg.LockoutCheck,
		},
		cfg:      cfg,
		failures: failures,
		events:   events,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Rule returns the budget configured for class.
func (s *RateLimiterService) Rule(class models.RateClass) (config.RateLimitRule, bool) {
	rule, ok := s.rules[class]
	return rule, ok
}

// Check charges one request for (address, class). When the budget is spent
// it returns the decision together with a *models.RateLimitError.
func (s *RateLimiterService) Check(ctx context.Context, address string, class models.RateClass) (*models.RateDecision, error) {
	rule, ok := s.rules[class]
	if !ok || rule.Max <= 0 {
		return &models.RateDecision{Allowed: true}, nil
	}

	now := s.now()
	count, resetAt, err := s.store.Increment(ctx, ratelimit.CounterKey(class, address), rule.Window, now)
	if err != nil {
		s.logger.Error("rate limit store unavailable, allowing request",
			slog.String("class", string(class)),
			slog.Any("error", err))
		return &models.RateDecision{Allowed: true, Limit: rule.Max, Remaining: rule.Max, ResetAt: now.Add(rule.Window)}, nil
	}

	remaining := rule.Max - count
	if remaining < 0 {
		remaining = 0
	}
	decision := &models.RateDecision{
		Allowed:   count <= rule.Max,
		Limit:     rule.Max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if decision.Allowed {
		return decision, nil
	}

	s.metrics.RecordRateLimited(ctx, string(class))
	// one event per exhausted window
	if count == rule.Max+1 {
		s.logger.Warn("rate limit exceeded",
			slog.String("class", string(class)),
			slog.String("ip_address", pkglogger.MaskIP(address)))
		s.events.Record(ctx, newEvent(models.EventRateLimited, models.SeverityInfo, nil, address, "",
			models.EventMetadata{"class": string(class), "limit": rule.Max}))
	}
	return decision, &models.RateLimitError{Class: class, ResetAt: resetAt}
}

// CheckBlocked returns a *models.AddressBlockedError when address is blocked.
func (s *RateLimiterService) CheckBlocked(ctx context.Context, address string) error {
	block, err := s.store.Blocked(ctx, address, s.now())
	if err != nil {
		s.logger.Error("block list unavailable, allowing request", slog.Any("error", err))
		return nil
	}
	if block != nil {
		return &models.AddressBlockedError{Until: block.Until}
	}
	return nil
}

// RiskScore rates address from 0 to 100 using recent failure density,
// login request density and user agent heuristics.
func (s *RateLimiterService) RiskScore(ctx context.Context, address, userAgent string) (int, error) {
	score, _, err := s.addressRisk(ctx, address)
	if err != nil {
		return 0, err
	}
	score += userAgentRisk(userAgent)
	if score > maxRiskScore {
		score = maxRiskScore
	}
	return score, nil
}

// addressRisk is the part of the risk score that depends on the address
// alone. It also returns the failure count it was derived from.
func (s *RateLimiterService) addressRisk(ctx context.Context, address string) (int, int, error) {
	now := s.now()

	failures, err := s.failures.CountFailuresByIP(ctx, address, now.Add(-s.cfg.BruteForceWindow))
	if err != nil {
		return 0, 0, fmt.Errorf("count failures by address: %w", err)
	}
	score := s.failureRisk(failures)

	if rule := s.cfg.Login; rule.Max > 0 {
		requests, err := s.store.Count(ctx, ratelimit.CounterKey(models.RateClassLogin, address), now)
		if err != nil {
			s.logger.Error("failed to read request density", slog.Any("error", err))
		} else {
			density := requests * riskDensityCap / rule.Max
			if density > riskDensityCap {
				density = riskDensityCap
			}
			score += density
		}
	}
	return score, failures, nil
}

// failureRisk scales the failure count so that riskFailureCap is reached at
// BruteForceThreshold.
func (s *RateLimiterService) failureRisk(failures int) int {
	threshold := s.cfg.BruteForceThreshold
	if threshold <= 0 {
		threshold = 1
	}
	return min(failures*riskFailureCap/threshold, riskFailureCap)
}

// riskEligible reports whether failures are numerous enough for the risk
// score to block. Below half the brute-force threshold only lockout applies,
// so one user's typos cannot block a shared address.
func (s *RateLimiterService) riskEligible(failures int) bool {
	return failures*2 >= s.cfg.BruteForceThreshold
}

func userAgentRisk(userAgent string) int {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return riskEmptyUserAgent
	}
	for _, tool := range toolingUserAgents {
		if strings.Contains(ua, tool) {
			return riskToolingUserAgent
		}
	}
	return 0
}

// EvaluateFailure runs after a failed verification from address. It blocks
// the address on a brute-force pattern or a risk score over the threshold,
// and reports whether a block was applied.
func (s *RateLimiterService) EvaluateFailure(ctx context.Context, address, userAgent string) bool {
	score, failures, err := s.addressRisk(ctx, address)
	if err != nil {
		s.logger.Error("failed to evaluate failure pattern", slog.Any("error", err))
		return false
	}
	if failures >= s.cfg.BruteForceThreshold {
		s.block(ctx, address, models.BlockReasonBruteForce, models.EventBruteForceDetected, models.SeverityCritical,
			models.EventMetadata{"failures": failures, "window": s.cfg.BruteForceWindow.String()})
		return true
	}

	if !s.riskEligible(failures) {
		return false
	}
	score += userAgentRisk(userAgent)
	if score > s.cfg.RiskScoreThreshold {
		s.block(ctx, address, models.BlockReasonRiskScore, models.EventSuspiciousActivity, models.SeverityWarning,
			models.EventMetadata{"risk_score": min(score, maxRiskScore)})
		return true
	}
	return false
}

func (s *RateLimiterService) block(ctx context.Context, address, reason, eventType, severity string, metadata models.EventMetadata) {
	until := s.now().Add(s.cfg.AddressBlockDuration)
	if err := s.store.Block(ctx, models.BlockedAddress{Address: address, Reason: reason, Until: until}); err != nil {
		s.logger.Error("failed to block address", slog.String("reason", reason), slog.Any("error", err))
		return
	}

	s.logger.Warn("address blocked",
		slog.String("ip_address", pkglogger.MaskIP(address)),
		slog.String("reason", reason),
		slog.Time("until", until))
	s.metrics.RecordBlock(ctx, reason)
	metadata["reason"] = reason
	metadata["until"] = until.UTC().Format(time.RFC3339)
	s.events.Record(ctx, newEvent(eventType, severity, nil, address, "", metadata))
}

// Block applies a manual block. A zero duration uses the configured default.
func (s *RateLimiterService) Block(ctx context.Context, actorID, address string, duration time.Duration) (*models.BlockedAddress, error) {
	if duration <= 0 {
		duration = s.cfg.AddressBlockDuration
	}
	block := models.BlockedAddress{Address: address, Reason: models.BlockReasonManual, Until: s.now().Add(duration)}
	if err := s.store.Block(ctx, block); err != nil {
		return nil, fmt.Errorf("block address: %w", err)
	}

	s.metrics.RecordBlock(ctx, models.BlockReasonManual)
	s.events.Record(ctx, newEvent(models.EventAddressBlocked, models.SeverityWarning, nil, address, "",
		models.EventMetadata{"reason": models.BlockReasonManual, "actor_id": actorID, "until": block.Until.UTC().Format(time.RFC3339)}))
	return &block, nil
}

// Unblock lifts a block. It returns models.ErrNotFound when none was active.
func (s *RateLimiterService) Unblock(ctx context.Context, actorID, address string) error {
	removed, err := s.store.Unblock(ctx, address)
	if err != nil {
		return fmt.Errorf("unblock address: %w", err)
	}
	if !removed {
		return models.ErrNotFound
	}

	s.events.Record(ctx, newEvent(models.EventAddressUnblocked, models.SeverityInfo, nil, address, "",
		models.EventMetadata{"actor_id": actorID}))
	return nil
}

// Inspect reports the block state, risk score and recent failures of address.
func (s *RateLimiterService) Inspect(ctx context.Context, address string) (*models.AddressReport, error) {
	block, err := s.store.Blocked(ctx, address, s.now())
	if err != nil {
		return nil, fmt.Errorf("read block list: %w", err)
	}
	score, failures, err := s.addressRisk(ctx, address)
	if err != nil {
		return nil, err
	}

	return &models.AddressReport{
		Address:        address,
		Blocked:        block,
		RiskScore:      score,
		RecentFailures: failures,
	}, nil
}

// ListBlocked returns all active blocks.
func (s *RateLimiterService) ListBlocked(ctx context.Context) ([]models.BlockedAddress, error) {
	return s.store.ListBlocked(ctx, s.now())
}

// Sweep evicts expired counters and blocks from the store.
func (s *RateLimiterService) Sweep(ctx context.Context) (int, error) {
	return s.store.Sweep(ctx, s.now())
}
