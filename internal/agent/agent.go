// Package agent runs the poll loop: sample the signals, decide the desired
// status, publish it when it differs from the stored one, then sleep.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/matclab/automattermostatus/internal/clock"
	"github.com/matclab/automattermostatus/internal/mattermost"
	"github.com/matclab/automattermostatus/internal/metrics"
	"github.com/matclab/automattermostatus/internal/policy"
	"github.com/matclab/automattermostatus/internal/scan/mic"
	"github.com/matclab/automattermostatus/internal/scan/wifi"
	"github.com/matclab/automattermostatus/internal/secret"
	"github.com/matclab/automattermostatus/internal/state"
)

// AuthPolicy selects what the loop does after the server rejects the
// credential.
type AuthPolicy int

const (
	// AuthRetry keeps running and retries at most once per retry interval.
	AuthRetry AuthPolicy = iota
	// AuthHalt stops the loop with the authentication error.
	AuthHalt
)

func (p AuthPolicy) String() string {
	if p == AuthHalt {
		return "halt"
	}
	return "retry"
}

// ParseAuthPolicy accepts "retry" or "halt".
func ParseAuthPolicy(s string) (AuthPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "retry", "":
		return AuthRetry, nil
	case "halt":
		return AuthHalt, nil
	}
	return AuthRetry, fmt.Errorf("unknown auth failure policy %q: must be \"retry\" or \"halt\"", s)
}

// Publisher sets the remote status.
type Publisher interface {
	Publish(ctx context.Context, status policy.StatusTemplate, expiresAt time.Time, sec secret.Secret) error
}

// SecretSource provides the credential. It is only called when a publish is
// needed.
type SecretSource interface {
	Resolve(ctx context.Context) (secret.Secret, error)
}

// Config holds the loop settings.
type Config struct {
	Rules   policy.Rules
	MicApps []string
	// Delay between ticks. Zero runs a single tick.
	Delay time.Duration
	// RefreshInterval bounds how long an unchanged status is trusted before
	// it is sent again.
	RefreshInterval   time.Duration
	AuthPolicy        AuthPolicy
	AuthRetryInterval time.Duration
}

// Deps are the collaborators of the loop.
type Deps struct {
	Wifi      wifi.Scanner
	Mic       mic.Detector
	Store     state.Store
	Publisher Publisher
	Secrets   SecretSource
	Clock     clock.Clock
	Metrics   *metrics.Metrics
}

// Skip reasons reported in Result.
const (
	SkipScanFailed    = "scan_failed"
	SkipNoChange      = "no_change"
	SkipUpToDate      = "up_to_date"
	SkipThrottled     = "auth_throttled"
	SkipPublishFailed = "publish_failed"
)

// Result describes what a tick did.
type Result struct {
	Decision  policy.Decision
	Published bool
	// Skip says why nothing was published.
	Skip string
}

// Agent is the poll loop.
type Agent struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	// authLimiter is set after an authentication failure and gates further
	// publish attempts.
	authLimiter *rate.Limiter
}

// New creates an agent. A nil Clock uses the wall clock and nil Metrics a
// private registry.
func New(cfg Config, deps Deps, logger *zap.Logger) *Agent {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Mic == nil {
		deps.Mic = mic.Idle{}
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if cfg.AuthRetryInterval <= 0 {
		cfg.AuthRetryInterval = 15 * time.Minute
	}
	return &Agent{cfg: cfg, deps: deps, logger: logger}
}

// Run ticks until ctx is cancelled, sleeping Delay between ticks. With a
// zero Delay it returns after the first tick. The returned error is either
// a secret resolution failure or, under AuthHalt, an authentication failure.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent running",
		zap.Duration("delay", a.cfg.Delay),
		zap.Int("templates", len(a.cfg.Rules.Templates)),
		zap.Strings("mic_apps", a.cfg.MicApps),
		zap.Stringer("auth_failure_policy", a.cfg.AuthPolicy),
	)
	a.checkRadio(ctx)

	for {
		if _, err := a.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				a.logger.Info("agent shutting down")
				return nil
			}
			return err
		}
		if a.cfg.Delay <= 0 {
			return nil
		}
		if err := a.deps.Clock.Sleep(ctx, a.cfg.Delay); err != nil {
			a.logger.Info("agent shutting down")
			return nil
		}
	}
}

func (a *Agent) checkRadio(ctx context.Context) {
	rc, ok := a.deps.Wifi.(wifi.RadioChecker)
	if !ok {
		return
	}
	on, err := rc.RadioEnabled(ctx)
	switch {
	case err != nil:
		a.logger.Debug("cannot tell whether wifi is enabled", zap.Error(err))
	case !on:
		a.logger.Warn("wifi is disabled, no network will be seen")
	default:
		a.logger.Info("wifi is enabled")
	}
}

// Tick runs one iteration. Only fatal conditions are returned as errors.
func (a *Agent) Tick(ctx context.Context) (Result, error) {
	a.deps.Metrics.Tick()

	networks, err := a.deps.Wifi.VisibleNetworks(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		a.logger.Warn("wifi scan failed, skipping tick", zap.Error(err))
		a.deps.Metrics.Decision(SkipScanFailed)
		return Result{Skip: SkipScanFailed}, nil
	}
	a.logger.Debug("visible networks", zap.Strings("networks", networks))

	now := a.deps.Clock.Now()
	sig := policy.Signals{Networks: networks, MicInUse: a.micInUse(ctx)}
	d := policy.Decide(sig, now, a.cfg.Rules)
	a.deps.Metrics.Decision(d.Reason)
	res := Result{Decision: d}

	if !d.Change {
		a.logger.Debug("no status change", zap.String("reason", d.Reason))
		res.Skip = SkipNoChange
		return res, nil
	}

	identity := d.Status.Identity()
	prev, err := a.deps.Store.Load(ctx)
	if err != nil {
		a.logger.Warn("cannot load previous state, assuming none", zap.Error(err))
		prev = nil
	}
	if !state.ShouldPublish(prev, identity, now) {
		a.logger.Debug("status already applied",
			zap.String("status", identity),
			zap.Time("expires_at", prev.ExpiresAt),
		)
		res.Skip = SkipUpToDate
		return res, nil
	}

	if a.authLimiter != nil && !a.authLimiter.AllowN(now, 1) {
		a.logger.Debug("publish throttled after authentication failure")
		a.deps.Metrics.Publish(metrics.ResultThrottled, now, 0)
		res.Skip = SkipThrottled
		return res, nil
	}

	sec, err := a.deps.Secrets.Resolve(ctx)
	if err != nil {
		return res, err
	}

	start := a.deps.Clock.Now()
	err = a.deps.Publisher.Publish(ctx, d.Status, d.ExpiresAt, sec)
	took := a.deps.Clock.Now().Sub(start)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Skip = SkipPublishFailed
		return res, a.publishFailed(err, now, took, d)
	}

	a.authLimiter = nil
	a.deps.Metrics.Publish(metrics.ResultOK, now, took)
	a.logger.Info("status published",
		zap.String("emoji", d.Status.Emoji),
		zap.String("text", d.Status.Text),
		zap.String("reason", d.Reason),
		zap.Time("expires_at", d.ExpiresAt),
	)
	res.Published = true

	next := state.Next(identity, now, a.cfg.RefreshInterval, d.ExpiresAt)
	if err := a.deps.Store.Save(ctx, next); err != nil {
		a.logger.Error("failed to save state", zap.Error(err))
	}
	return res, nil
}

// publishFailed logs a publish error and returns it only when it must stop
// the loop.
func (a *Agent) publishFailed(err error, now time.Time, took time.Duration, d policy.Decision) error {
	fields := []zap.Field{
		zap.String("status", d.Status.Identity()),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, mattermost.ErrAuth):
		a.deps.Metrics.Publish(metrics.ResultAuth, now, took)
		if a.cfg.AuthPolicy == AuthHalt {
			a.logger.Error("authentication failed, stopping", fields...)
			return fmt.Errorf("publish status: %w", err)
		}
		if a.authLimiter == nil {
			a.authLimiter = rate.NewLimiter(rate.Every(a.cfg.AuthRetryInterval), 1)
			a.authLimiter.AllowN(now, 1)
		}
		a.logger.Error("authentication failed, will retry later",
			append(fields, zap.Duration("retry_interval", a.cfg.AuthRetryInterval))...,
		)
	case errors.Is(err, mattermost.ErrRejected):
		a.deps.Metrics.Publish(metrics.ResultRejected, now, took)
		a.logger.Warn("status update rejected", fields...)
	default:
		a.deps.Metrics.Publish(metrics.ResultTransient, now, took)
		a.logger.Warn("status update failed, will retry next tick", fields...)
	}
	return nil
}

func (a *Agent) micInUse(ctx context.Context) bool {
	if len(a.cfg.MicApps) == 0 {
		return false
	}
	used, err := a.deps.Mic.InUse(ctx, a.cfg.MicApps)
	if err != nil {
		a.logger.Warn("microphone probe failed, assuming idle", zap.Error(err))
		return false
	}
	return used
}
