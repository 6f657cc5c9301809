// Package dispatch runs the reminder delivery loop: a periodic scan for due
// reminders, bounded concurrent delivery through the transport, and
// delivered-state write-back through the repository.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"todobot/internal/storage"
	"todobot/internal/transport"
	"todobot/pkg/logx"
)

type Service struct {
	log  logx.Logger
	repo Repository
	tr   transport.Transport

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	state   State
	running bool // a cycle is in progress

	runCtx    context.Context
	runCancel context.CancelFunc
	cycleWG   sync.WaitGroup

	// failures counts consecutive failed cycles per reminder, keyed by
	// digest#id. Reset on success; entries at FailureCap are given up on.
	failures map[string]int

	hmu     sync.Mutex
	history []CycleStats
}

func New(cfg Config, repo Repository, tr transport.Transport, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log,
		repo:     repo,
		tr:       tr,
		cfg:      cfg.withDefaults(),
		state:    StateIdle,
		failures: map[string]int{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New()
	if err := s.addTickLocked(); err != nil {
		s.runCancel()
		s.c = nil
		return err
	}
	s.c.Start()
	s.log.Info("dispatcher started",
		logx.Duration("interval", s.cfg.Interval),
		logx.Int("max_concurrent", s.cfg.MaxConcurrent))
	return nil
}

func (s *Service) addTickLocked() error {
	_, err := s.c.AddFunc(fmt.Sprintf("@every %s", s.cfg.Interval), s.tick)
	return err
}

// Apply updates the cycle interval on config reload. The cron is rebuilt so
// the new spec takes effect; other fields apply from the next cycle.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg.withDefaults()
	c := s.c
	if c == nil || old.Interval == s.cfg.Interval {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// Wait for the old cron outside s.mu: its in-flight tick job takes s.mu
	// for per-delivery bookkeeping and would deadlock against us.
	<-c.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != c {
		// Stopped concurrently; do not resurrect the cron.
		return
	}
	s.c = cron.New()
	if err := s.addTickLocked(); err != nil {
		s.log.Error("dispatcher reschedule failed", logx.Err(err))
		return
	}
	s.c.Start()
	s.log.Info("dispatcher rescheduled", logx.Duration("interval", s.cfg.Interval))
}

// Stop stops admitting cycles and waits for the in-flight cycle to settle,
// bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return
	}
	c := s.c
	s.c = nil
	cancel := s.runCancel
	s.mu.Unlock()

	<-c.Stop().Done()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.cycleWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("dispatcher stopped")
	case <-ctx.Done():
		s.log.Warn("dispatcher stop timed out with deliveries in flight")
	}
}

// tick begins a cycle unless one is already running; ticks never overlap.
func (s *Service) tick() {
	s.mu.Lock()
	if s.running || s.runCtx == nil || s.runCtx.Err() != nil {
		skipped := s.running
		s.mu.Unlock()
		if skipped {
			s.log.Warn("dispatch cycle still running, tick skipped")
		}
		return
	}
	s.running = true
	ctx := s.runCtx
	s.cycleWG.Add(1)
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("dispatch cycle panicked", logx.Any("panic", r))
		}
		s.mu.Lock()
		s.running = false
		s.state = StateIdle
		s.mu.Unlock()
		s.cycleWG.Done()
	}()

	s.runCycle(ctx)
}

func (s *Service) runCycle(ctx context.Context) {
	s.mu.Lock()
	cfg := s.cfg
	s.state = StateScanning
	s.mu.Unlock()

	start := time.Now()
	due := s.repo.DueReminders(start)

	stats := CycleStats{Started: start, Scanned: len(due)}
	if len(due) > 0 {
		s.mu.Lock()
		s.state = StateDispatching
		s.mu.Unlock()
		s.dispatch(ctx, cfg, due, &stats)
	}

	stats.Duration = time.Since(start)
	s.recordCycle(cfg, stats)

	if stats.Scanned > 0 {
		s.log.Info("dispatch cycle finished",
			logx.Int("scanned", stats.Scanned),
			logx.Int("delivered", stats.Delivered),
			logx.Int("failed", stats.Failed),
			logx.Int("given_up", stats.GivenUp),
			logx.Bool("backoff", stats.Backoff),
			logx.Duration("dur", stats.Duration))
	}
}

// dispatch delivers the due set with at most cfg.MaxConcurrent sends in
// flight. A rate-limit signal from the transport aborts the remainder of the
// batch; undelivered reminders are naturally retried next cycle.
func (s *Service) dispatch(ctx context.Context, cfg Config, due []storage.DueReminder, stats *CycleStats) {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, cfg.MaxConcurrent)
	var wg sync.WaitGroup
	var smu sync.Mutex // guards stats

	for _, d := range due {
		select {
		case <-batchCtx.Done():
			smu.Lock()
			stats.Backoff = stats.Backoff || ctx.Err() == nil
			smu.Unlock()
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(d storage.DueReminder) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := s.deliver(batchCtx, cfg, d)
			smu.Lock()
			switch outcome {
			case outcomeDelivered:
				stats.Delivered++
			case outcomeFailed:
				stats.Failed++
			case outcomeGivenUp:
				stats.GivenUp++
			case outcomeRateLimited:
				stats.Failed++
				stats.Backoff = true
			}
			smu.Unlock()
			if outcome == outcomeRateLimited {
				cancel()
			}
		}(d)
	}
	wg.Wait()
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeFailed
	outcomeGivenUp
	outcomeRateLimited
)

func (s *Service) deliver(ctx context.Context, cfg Config, d storage.DueReminder) outcome {
	key := fmt.Sprintf("%s#%d", d.Digest, d.Reminder.ID)

	if d.UserID == "" {
		// No address on record; delivery can never succeed. Counts toward
		// the failure cap so it eventually stops being rescanned.
		s.log.Warn("reminder has no delivery address",
			logx.Int("reminder_id", d.Reminder.ID))
		return s.noteFailure(cfg, key, d)
	}

	sendCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	err := s.tr.SendDirect(sendCtx, d.UserID, formatMessage(d.Reminder))
	cancel()

	if err == nil {
		s.forgetFailure(key)
		if err := s.repo.MarkDelivered(d.Digest, d.Reminder.ID, false); err != nil {
			s.log.Error("delivered reminder not committed",
				logx.Int("reminder_id", d.Reminder.ID), logx.Err(err))
		}
		return outcomeDelivered
	}

	kind := transport.KindOf(err)
	s.log.Warn("reminder delivery failed",
		logx.Int("reminder_id", d.Reminder.ID),
		logx.String("kind", string(kind)),
		logx.Err(err))
	if kind == transport.KindRateLimited {
		// Back off the whole batch; do not count against the reminder.
		return outcomeRateLimited
	}
	return s.noteFailure(cfg, key, d)
}

// noteFailure bumps the consecutive-failure count and, at the cap, marks the
// reminder delivered with a failure flag so it cannot retry forever.
func (s *Service) noteFailure(cfg Config, key string, d storage.DueReminder) outcome {
	s.mu.Lock()
	s.failures[key]++
	n := s.failures[key]
	if n >= cfg.FailureCap {
		delete(s.failures, key)
	}
	s.mu.Unlock()

	if n < cfg.FailureCap {
		return outcomeFailed
	}
	s.log.Error("reminder given up after repeated failures",
		logx.Int("reminder_id", d.Reminder.ID), logx.Int("cycles", n))
	if err := s.repo.MarkDelivered(d.Digest, d.Reminder.ID, true); err != nil {
		s.log.Error("failure flag not committed",
			logx.Int("reminder_id", d.Reminder.ID), logx.Err(err))
	}
	return outcomeGivenUp
}

func (s *Service) forgetFailure(key string) {
	s.mu.Lock()
	delete(s.failures, key)
	s.mu.Unlock()
}

func (s *Service) recordCycle(cfg Config, stats CycleStats) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, stats)
	if len(s.history) > cfg.HistorySize {
		s.history = s.history[len(s.history)-cfg.HistorySize:]
	}
}

// History returns a copy of recent cycle outcomes, newest last.
func (s *Service) History() []CycleStats {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]CycleStats(nil), s.history...)
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func formatMessage(r storage.Reminder) string {
	if r.Kind == storage.KindDeadline {
		return fmt.Sprintf("⏰ <b>Deadline reminder</b>\nTask #%d: %s", r.LinkedTaskID, htmlEscaper.Replace(r.Message))
	}
	return fmt.Sprintf("🔔 <b>Reminder</b>\n%s", htmlEscaper.Replace(r.Message))
}
