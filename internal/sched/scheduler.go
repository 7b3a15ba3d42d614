// Package sched runs the refresh loop: fetch every active provider
// concurrently, assemble a full snapshot, publish it, and evaluate
// notification state. It also owns credential retry policy.
package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/quotabar/quotabar/internal/browser"
	"github.com/quotabar/quotabar/internal/creds"
	"github.com/quotabar/quotabar/internal/provider"
	"github.com/quotabar/quotabar/internal/snapshot"
	"github.com/quotabar/quotabar/internal/usage"
)

// reacquireAfterFailures is how many consecutive unauthorized results a
// provider accumulates before the scheduler discards its cached
// credentials and re-scans browsers, exactly once per episode.
const reacquireAfterFailures = 3

const maxFetchParallelism = 4

// CredentialSource is what the scheduler needs from the creds layer.
type CredentialSource interface {
	Acquire(ctx context.Context, providerID string, spec creds.CookieSpec) (creds.Credentials, error)
	ForceReacquire(ctx context.Context, providerID string, spec creds.CookieSpec) (creds.Credentials, error)
}

// StatsReader supplies local agent stats for the snapshot.
type StatsReader interface {
	Read() *usage.LocalStats
}

// Job pairs a registry descriptor with its constructed fetcher.
type Job struct {
	Desc    provider.Descriptor
	Fetcher provider.Fetcher
}

type Scheduler struct {
	jobs     []Job
	source   CredentialSource
	keys     map[string]string // api keys by provider id
	override string            // manual cookie string for the primary provider
	featured []string

	pub    *snapshot.Publisher
	alerts *Alerter
	stats  StatsReader
	log    *zap.Logger

	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	interval time.Duration

	refreshCh  chan struct{}
	intervalCh chan time.Duration

	authFails  map[string]int
	reacquired map[string]bool
}

type Options struct {
	Jobs           []Job
	Source         CredentialSource
	Keys           map[string]string
	CookieOverride string
	Featured       []string
	Publisher      *snapshot.Publisher
	Alerter        *Alerter
	Stats          StatsReader
	Interval       time.Duration
	Timeout        time.Duration
	Log            *zap.Logger
}

func New(opts Options) *Scheduler {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Scheduler{
		jobs:       opts.Jobs,
		source:     opts.Source,
		keys:       opts.Keys,
		override:   opts.CookieOverride,
		featured:   opts.Featured,
		pub:        opts.Publisher,
		alerts:     opts.Alerter,
		stats:      opts.Stats,
		log:        opts.Log,
		timeout:    opts.Timeout,
		now:        time.Now,
		interval:   opts.Interval,
		refreshCh:  make(chan struct{}, 1),
		intervalCh: make(chan time.Duration, 1),
		authFails:  map[string]int{},
		reacquired: map[string]bool{},
	}
}

// RefreshNow requests an immediate cycle. Requests arriving while a
// cycle is already pending coalesce into one.
func (s *Scheduler) RefreshNow() {
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

// SetInterval changes the refresh cadence from the next tick on.
func (s *Scheduler) SetInterval(d time.Duration) {
	select {
	case s.intervalCh <- d:
	default:
	}
}

// Interval returns the current refresh cadence.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Run fetches immediately, then on every tick or manual refresh until
// the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.RunCycle(ctx)

	timer := time.NewTimer(s.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-s.intervalCh:
			s.mu.Lock()
			s.interval = d
			s.mu.Unlock()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
		case <-timer.C:
			s.RunCycle(ctx)
			timer.Reset(s.Interval())
		case <-s.refreshCh:
			s.RunCycle(ctx)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.Interval())
		}
	}
}

// RunCycle fetches all providers and publishes one full snapshot.
// Results from this cycle fully replace the previous snapshot; a
// provider that failed this cycle shows its error, not last cycle's
// rows.
func (s *Scheduler) RunCycle(ctx context.Context) {
	start := s.now()
	cycleID := ulid.Make().String()

	results := make([]usage.ProviderUsage, len(s.jobs))
	sem := make(chan struct{}, maxFetchParallelism)
	var wg sync.WaitGroup
	for i, job := range s.jobs {
		i := i
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.fetchOne(ctx, job)
		}()
	}
	wg.Wait()

	providers := make(map[string]usage.ProviderUsage, len(s.jobs))
	active := make([]string, 0, len(s.jobs))
	for i, job := range s.jobs {
		providers[job.Desc.ID] = results[i]
		active = append(active, job.Desc.ID)
	}

	snap := &usage.Snapshot{
		SchemaVersion:     usage.SchemaVersion,
		CycleID:           cycleID,
		CapturedAt:        start,
		Providers:         providers,
		ActiveProviders:   active,
		FeaturedProviders: s.featured,
	}
	if s.stats != nil {
		snap.LocalStats = s.stats.Read()
	}

	s.pub.Publish(snap)
	if s.alerts != nil {
		s.alerts.Observe(snap, s.displayNames())
	}
	s.log.Info("refresh cycle complete",
		zap.String("cycle", cycleID),
		zap.Duration("took", s.now().Sub(start)),
		zap.Int("providers", len(s.jobs)))
}

func (s *Scheduler) displayNames() map[string]string {
	names := make(map[string]string, len(s.jobs))
	for _, job := range s.jobs {
		names[job.Desc.ID] = job.Desc.DisplayName
	}
	return names
}

// fetchOne resolves credentials and runs a single provider fetch,
// mapping every outcome onto exactly one ProviderUsage state.
func (s *Scheduler) fetchOne(ctx context.Context, job Job) usage.ProviderUsage {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	id := job.Desc.ID
	c, pu, ok := s.credentials(ctx, job)
	if !ok {
		return pu
	}

	out, err := job.Fetcher.Fetch(ctx, c)
	if err == nil {
		s.clearAuthState(id)
		return out
	}

	if provider.KindOf(err) == provider.KindUnauthorized {
		s.mu.Lock()
		s.authFails[id]++
		fails := s.authFails[id]
		s.mu.Unlock()
		s.log.Warn("provider rejected credentials",
			zap.String("provider", id), zap.Int("consecutive", fails))
	} else {
		s.clearAuthState(id)
		s.log.Warn("provider fetch failed", zap.String("provider", id), zap.Error(err))
	}
	return usage.ErrorUsage(err)
}

// credentials resolves what the fetch should authenticate with. The
// third return is false when the fetch cannot proceed, with the
// ProviderUsage to publish instead.
func (s *Scheduler) credentials(ctx context.Context, job Job) (creds.Credentials, usage.ProviderUsage, bool) {
	id := job.Desc.ID

	if job.Desc.Credential == provider.CredAPIKey {
		key := s.keys[id]
		if key == "" {
			return creds.Credentials{}, usage.Unconfigured(), false
		}
		return creds.Credentials{APIKey: key}, usage.ProviderUsage{}, true
	}

	// A manually pasted cookie string bypasses discovery for the
	// primary provider.
	if id == s.primaryID() && s.override != "" {
		return creds.Credentials{Cookies: browser.ParseCookieString(s.override)}, usage.ProviderUsage{}, true
	}

	acquire := s.source.Acquire
	s.mu.Lock()
	if s.authFails[id] >= reacquireAfterFailures && !s.reacquired[id] {
		s.reacquired[id] = true
		acquire = s.source.ForceReacquire
	}
	s.mu.Unlock()

	c, err := acquire(ctx, id, job.Desc.CookieSpec)
	if err != nil {
		if errors.Is(err, creds.ErrNotConfigured) {
			return creds.Credentials{}, usage.Unconfigured(), false
		}
		return creds.Credentials{}, usage.ErrorUsage(err), false
	}
	return c, usage.ProviderUsage{}, true
}

func (s *Scheduler) clearAuthState(id string) {
	s.mu.Lock()
	s.authFails[id] = 0
	s.reacquired[id] = false
	s.mu.Unlock()
}

func (s *Scheduler) primaryID() string {
	if len(s.jobs) == 0 {
		return ""
	}
	return s.jobs[0].Desc.ID
}
