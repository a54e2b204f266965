package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/matclab/automattermostatus/internal/command"
	"go.uber.org/zap"
)

// ErrSecretResolution is returned when no strategy produced a credential.
var ErrSecretResolution = errors.New("no secret could be resolved")

// Config lists the configured sources of the credential.
type Config struct {
	Kind Kind
	// Secret is the credential given directly.
	Secret string
	// Command is a command line whose standard output is the credential.
	Command string
	// KeyringService and KeyringUser locate the credential in the OS keyring.
	KeyringService string
	KeyringUser    string
}

// Strategy is one way of obtaining the credential.
type Strategy interface {
	Name() string
	Lookup(ctx context.Context) (string, error)
}

// Resolver runs its strategies in order and keeps the first credential
// found. Resolution happens once; later calls return the same outcome.
type Resolver struct {
	kind       Kind
	strategies []Strategy
	logger     *zap.Logger

	mu     sync.Mutex
	done   bool
	secret Secret
	err    error
}

// NewResolver builds the strategy chain for cfg: direct secret, then command,
// then keyring. Strategies that are not configured are left out.
func NewResolver(cfg Config, runner command.Runner, keyring Keyring, logger *zap.Logger) *Resolver {
	var chain []Strategy
	if cfg.Secret != "" {
		chain = append(chain, directStrategy{value: cfg.Secret})
	}
	if cfg.Command != "" {
		chain = append(chain, commandStrategy{line: cfg.Command, runner: runner})
	}
	switch {
	case cfg.KeyringService != "" && cfg.KeyringUser != "":
		chain = append(chain, keyringStrategy{service: cfg.KeyringService, user: cfg.KeyringUser, keyring: keyring})
	case cfg.KeyringUser != "" && cfg.KeyringService == "":
		logger.Debug("user is defined for keyring lookup but service is not, skipping keyring")
	}
	return NewResolverWith(cfg.Kind, logger, chain...)
}

// NewResolverWith builds a resolver from explicit strategies.
func NewResolverWith(kind Kind, logger *zap.Logger, strategies ...Strategy) *Resolver {
	return &Resolver{kind: kind, strategies: strategies, logger: logger}
}

// Strategies returns the names of the configured strategies in order.
func (r *Resolver) Strategies() []string {
	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Resolve returns the credential, running the strategy chain on first use.
func (r *Resolver) Resolve(ctx context.Context) (Secret, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return r.secret, r.err
	}
	r.secret, r.err = r.resolve(ctx)
	r.done = true
	return r.secret, r.err
}

func (r *Resolver) resolve(ctx context.Context) (Secret, error) {
	var failures []string
	for _, s := range r.strategies {
		value, err := s.Lookup(ctx)
		if err == nil && value == "" {
			err = errors.New("empty secret")
		}
		if err != nil {
			r.logger.Debug("secret strategy failed",
				zap.String("strategy", s.Name()),
				zap.Error(err),
			)
			failures = append(failures, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		r.logger.Info("secret resolved",
			zap.String("strategy", s.Name()),
			zap.Stringer("kind", r.kind),
		)
		return New(r.kind, value), nil
	}
	if len(failures) == 0 {
		return Secret{}, fmt.Errorf("%w: no secret source configured (set mm_secret, mm_secret_cmd or keyring_service)", ErrSecretResolution)
	}
	return Secret{}, fmt.Errorf("%w: %s", ErrSecretResolution, strings.Join(failures, "; "))
}

type directStrategy struct{ value string }

func (directStrategy) Name() string { return "direct" }

func (d directStrategy) Lookup(context.Context) (string, error) { return d.value, nil }

type commandStrategy struct {
	line   string
	runner command.Runner
}

func (commandStrategy) Name() string { return "command" }

// Lookup runs the command and returns its trimmed standard output. Neither the
// output nor the command arguments are included in errors.
func (c commandStrategy) Lookup(ctx context.Context) (string, error) {
	out, err := command.RunLine(ctx, c.runner, c.line)
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(string(out))
	if value == "" {
		return "", fmt.Errorf("command %s returned nothing", command.Program(c.line))
	}
	return value, nil
}

type keyringStrategy struct {
	service string
	user    string
	keyring Keyring
}

func (keyringStrategy) Name() string { return "keyring" }

func (k keyringStrategy) Lookup(context.Context) (string, error) {
	v, err := k.keyring.Get(k.service, k.user)
	if err != nil {
		return "", fmt.Errorf("query OS keyring (user: %s, service: %s): %w", k.user, k.service, err)
	}
	return v, nil
}
