package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/matclab/automattermostatus/internal/clock"
	"github.com/matclab/automattermostatus/internal/mattermost"
	"github.com/matclab/automattermostatus/internal/policy"
	"github.com/matclab/automattermostatus/internal/scan/mic"
	"github.com/matclab/automattermostatus/internal/scan/wifi"
	"github.com/matclab/automattermostatus/internal/secret"
	"github.com/matclab/automattermostatus/internal/testutil"
)

// Tuesday 2026-10-20, inside the 08:00-19:30 window.
var tuesday10 = time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)

var (
	corp = policy.StatusTemplate{Trigger: "corp", Emoji: "office", Text: "At office"}
	home = policy.StatusTemplate{Trigger: "home", Emoji: "house", Text: "At home"}
	off  = policy.StatusTemplate{Emoji: "sleeping", Text: "Off"}
	dnd  = policy.StatusTemplate{Emoji: "no_bell", Text: "In a call"}
)

func testRules(t *testing.T) policy.Rules {
	t.Helper()
	w, err := policy.ParseWindow("8:00", "19:30")
	require.NoError(t, err)
	exp, err := policy.ParseExpiry("19:30")
	require.NoError(t, err)
	return policy.Rules{
		Templates:    []policy.StatusTemplate{corp, home, off},
		Window:       w,
		OffDays:      policy.OffDays{time.Saturday: policy.EveryWeek},
		DoNotDisturb: dnd,
		Expiry:       exp,
	}
}

type publishCall struct {
	status    policy.StatusTemplate
	expiresAt time.Time
	secret    secret.Secret
}

type fakePublisher struct {
	calls []publishCall
	errs  []error // returned in order, nil once exhausted
	// during runs inside Publish, before the result is returned.
	during func()
}

func (p *fakePublisher) Publish(_ context.Context, status policy.StatusTemplate, expiresAt time.Time, sec secret.Secret) error {
	p.calls = append(p.calls, publishCall{status, expiresAt, sec})
	if p.during != nil {
		p.during()
	}
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return err
	}
	return nil
}

type fakeSecrets struct {
	calls int
	err   error
}

func (s *fakeSecrets) Resolve(context.Context) (secret.Secret, error) {
	s.calls++
	if s.err != nil {
		return secret.Secret{}, s.err
	}
	return secret.New(secret.Token, "tok"), nil
}

type harness struct {
	agent   *Agent
	clock   *clock.Fake
	store   *testutil.MemStore
	pub     *fakePublisher
	secrets *fakeSecrets
	nets    []string
	wifiErr error
	micUsed bool
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		clock:   clock.NewFake(tuesday10),
		store:   testutil.NewMemStore(nil),
		pub:     &fakePublisher{},
		secrets: &fakeSecrets{},
	}
	cfg := Config{
		Rules:             testRules(t),
		MicApps:           []string{"zoom"},
		Delay:             time.Minute,
		RefreshInterval:   time.Hour,
		AuthRetryInterval: 15 * time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.agent = New(cfg, Deps{
		Wifi: wifi.ScannerFunc(func(context.Context) ([]string, error) {
			return h.nets, h.wifiErr
		}),
		Mic: mic.DetectorFunc(func(context.Context, []string) (bool, error) {
			return h.micUsed, nil
		}),
		Store:     h.store,
		Publisher: h.pub,
		Secrets:   h.secrets,
		Clock:     h.clock,
	}, zaptest.NewLogger(t))
	return h
}

func TestTick_PublishesMatchedStatusAndSavesState(t *testing.T) {
	h := newHarness(t, nil)
	h.nets = []string{"corp-5G", "neighbour"}

	res, err := h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Published)
	assert.Equal(t, policy.ReasonMatched, res.Decision.Reason)

	require.Len(t, h.pub.calls, 1)
	assert.Equal(t, corp, h.pub.calls[0].status)
	assert.True(t, h.pub.calls[0].expiresAt.Equal(time.Date(2026, 10, 20, 19, 30, 0, 0, time.UTC)))

	require.NotNil(t, h.store.State)
	assert.Equal(t, corp.Identity(), h.store.State.Identity)
	assert.True(t, h.store.State.ExpiresAt.Equal(tuesday10.Add(time.Hour)), "refresh interval comes before the remote expiry")
}

func TestTick_SkipsWhenAlreadyApplied(t *testing.T) {
	h := newHarness(t, nil)
	h.nets = []string{"corp-5G"}

	_, err := h.agent.Tick(context.Background())
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	res, err := h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Published)
	assert.Equal(t, SkipUpToDate, res.Skip)
	assert.Len(t, h.pub.calls, 1)
	assert.Equal(t, 1, h.secrets.calls)
}

func TestTick_RepublishesAfterExpiry(t *testing.T) {
	h := newHarness(t, nil)
	h.nets = []string{"corp-5G"}

	_, err := h.agent.Tick(context.Background())
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	res, err := h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Published)
	assert.Len(t, h.pub.calls, 2)
}

func TestTick_RepublishesOnChange(t *testing.T) {
	h := newHarness(t, nil)
	h.nets = []string{"corp-5G"}
	_, err := h.agent.Tick(context.Background())
	require.NoError(t, err)

	h.nets = []string{"home-box"}
	h.clock.Advance(time.Minute)
	res, err := h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Published)
	require.Len(t, h.pub.calls, 2)
	assert.Equal(t, home, h.pub.calls[1].status)
}

func TestTick_NoChangeDoesNotTouchSecretOrState(t *testing.T) {
	h := newHarness(t, nil)
	h.clock.Set(time.Date(2026, 10, 20, 20, 0, 0, 0, time.UTC))
	h.nets = []string{"corp-5G"}

	res, err := h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipNoChange, res.Skip)
	assert.Equal(t, policy.ReasonQuietHours, res.Decision.Reason)
	assert.Empty(t, h.pub.calls)
	assert.Zero(t, h.secrets.calls)
	assert.Zero(t, h.store.Saves)
}

func TestTick_MicOverride(t *testing.T) {
	h := newHarness(t, nil)
	h.nets = []string{"corp-5G"}
	h.micUsed = true

	res, err := h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Published)
	require.Len(t, h.pub.calls, 1)
	assert.Equal(t, dnd, h.pub.calls[0].status)
}

func TestTick_MicProbeErrorAssumesIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.nets = []string{"corp-5G"}
	h.agent.deps.Mic = mic.DetectorFunc(func(context.Context, []string) (bool, error) {
		return true, errors.New("no /proc/asound")
	})

	res, err := h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, policy.ReasonMatched, res.Decision.Reason)
}

func TestTick_WifiErrorSkipsTick(t *testing.T) {
	h := newHarness(t, nil)
	h.wifiErr = errors.New("nmcli not found")

	res, err := h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipScanFailed, res.Skip)
	assert.Empty(t, h.pub.calls)
}

func TestTick_StateLoadErrorForcesPublish(t *testing.T) {
	h := newHarness(t, nil)
	h.nets = []string{"corp-5G"}
	h.store.LoadErr = errors.New("decode state: unexpected EOF")

	res, err := h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Published)
}

func TestTick_StateSaveErrorIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.nets = []string{"corp-5G"}
	h.store.SaveErr = errors.New("disk full")

	res, err := h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Published)
	assert.Equal(t, 1, h.store.Saves)
}

func TestTick_TransientFailureKeepsState(t *testing.T) {
	h := newHarness(t, nil)
	h.nets = []string{"corp-5G"}
	h.pub.errs = []error{&mattermost.Error{Op: "set custom status", StatusCode: 502, Kind: mattermost.ErrTransient}}

	res, err := h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipPublishFailed, res.Skip)
	assert.Nil(t, h.store.State)

	h.clock.Advance(time.Minute)
	res, err = h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Published, "retried on the next tick")
}

func TestTick_SecretFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.nets = []string{"corp-5G"}
	h.secrets.err = secret.ErrSecretResolution

	_, err := h.agent.Tick(context.Background())
	assert.ErrorIs(t, err, secret.ErrSecretResolution)
	assert.Empty(t, h.pub.calls)
}

func TestTick_AuthFailureRetryIsThrottled(t *testing.T) {
	h := newHarness(t, nil)
	h.nets = []string{"corp-5G"}
	authErr := &mattermost.Error{Op: "set custom status", StatusCode: 401, Kind: mattermost.ErrAuth}
	h.pub.errs = []error{authErr, authErr}

	_, err := h.agent.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, h.pub.calls, 1)

	h.clock.Advance(time.Minute)
	res, err := h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipThrottled, res.Skip)
	assert.Len(t, h.pub.calls, 1)

	h.clock.Advance(15 * time.Minute)
	_, err = h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.pub.calls, 2, "one attempt per retry interval")

	h.clock.Advance(time.Minute)
	res, err = h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipThrottled, res.Skip)

	h.clock.Advance(15 * time.Minute)
	res, err = h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Published)

	h.nets = []string{"home"}
	h.clock.Advance(time.Minute)
	res, err = h.agent.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Published, "success clears the throttle")
}

func TestTick_AuthFailureHalt(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AuthPolicy = AuthHalt })
	h.nets = []string{"corp-5G"}
	h.pub.errs = []error{&mattermost.Error{Op: "login", StatusCode: 401, Kind: mattermost.ErrAuth}}

	_, err := h.agent.Tick(context.Background())
	assert.ErrorIs(t, err, mattermost.ErrAuth)
}

func TestRun_SingleShot(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Delay = 0 })
	h.nets = []string{"corp-5G"}

	require.NoError(t, h.agent.Run(context.Background()))
	assert.Len(t, h.pub.calls, 1)
	assert.Empty(t, h.clock.Sleeps())
}

func TestRun_SleepsBetweenTicksUntilCancelled(t *testing.T) {
	h := newHarness(t, nil)
	h.nets = []string{"corp-5G"}

	ctx, cancel := context.WithCancel(context.Background())
	ticks := 0
	h.agent.deps.Wifi = wifi.ScannerFunc(func(context.Context) ([]string, error) {
		ticks++
		if ticks == 3 {
			cancel()
		}
		return h.nets, nil
	})

	require.NoError(t, h.agent.Run(ctx))
	assert.Equal(t, 3, ticks)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, h.clock.Sleeps())
}

func TestRun_ReturnsFatalError(t *testing.T) {
	h := newHarness(t, nil)
	h.nets = []string{"corp-5G"}
	h.secrets.err = secret.ErrSecretResolution

	err := h.agent.Run(context.Background())
	assert.ErrorIs(t, err, secret.ErrSecretResolution)
}

func TestParseAuthPolicy(t *testing.T) {
	p, err := ParseAuthPolicy("HALT")
	require.NoError(t, err)
	assert.Equal(t, AuthHalt, p)

	p, err = ParseAuthPolicy("")
	require.NoError(t, err)
	assert.Equal(t, AuthRetry, p)

	_, err = ParseAuthPolicy("ignore")
	assert.Error(t, err)
}

func TestTick_PersistedStateFromPreviousRun(t *testing.T) {
	tests := []struct {
		name      string
		prev      func() *testutil.MemStore
		published bool
	}{
		{
			name: "same status still valid",
			prev: func() *testutil.MemStore {
				s := testutil.NewState(testutil.WithIdentity(corp.Identity()), testutil.WithExpiresAt(tuesday10.Add(time.Minute)))
				return testutil.NewMemStore(&s)
			},
		},
		{
			name: "same status expired",
			prev: func() *testutil.MemStore {
				s := testutil.NewState(testutil.WithIdentity(corp.Identity()), testutil.WithExpiresAt(tuesday10))
				return testutil.NewMemStore(&s)
			},
			published: true,
		},
		{
			name: "other status",
			prev: func() *testutil.MemStore {
				s := testutil.NewState(testutil.WithExpiresAt(tuesday10.Add(time.Hour)))
				return testutil.NewMemStore(&s)
			},
			published: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.store = tt.prev()
			h.agent.deps.Store = h.store
			h.nets = []string{"corp-5G"}

			res, err := h.agent.Tick(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.published, res.Published)
			if !tt.published {
				assert.Equal(t, SkipUpToDate, res.Skip)
				assert.Zero(t, h.secrets.calls)
			}
		})
	}
}

func TestTick_PublishDurationUsesClock(t *testing.T) {
	h := newHarness(t, nil)
	h.nets = []string{"corp-5G"}
	h.pub.during = func() { h.clock.Advance(1500 * time.Millisecond) }

	res, err := h.agent.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, res.Published)

	families, err := h.agent.deps.Metrics.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() != "automattermostatus_publish_duration_seconds" {
			continue
		}
		found = true
		hist := mf.GetMetric()[0].GetHistogram()
		assert.Equal(t, uint64(1), hist.GetSampleCount())
		assert.InDelta(t, 1.5, hist.GetSampleSum(), 1e-9)
	}
	assert.True(t, found, "publish duration histogram gathered")
	assert.Equal(t, tuesday10.Add(1500*time.Millisecond), h.clock.Now())
}
