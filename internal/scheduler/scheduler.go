// Package scheduler запускает фоновую синхронизацию лицензий блогов с
// экспоненциальной задержкой после ошибок и уведомлениями об ошибках связи.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/license-sync/internal/config"
	"github.com/magabrotheeeer/license-sync/internal/events"
	"github.com/magabrotheeeer/license-sync/internal/host"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
	"github.com/magabrotheeeer/license-sync/internal/license"
	"github.com/magabrotheeeer/license-sync/internal/metrics"
	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/notice"
	"github.com/magabrotheeeer/license-sync/internal/remote"
	"github.com/magabrotheeeer/license-sync/internal/store"
)

// Syncer синхронизирует лицензию одного блога.
type Syncer interface {
	Sync(ctx context.Context, blogID int64) (*license.SyncResult, error)
}

// State состояние синхронизации блога.
type State struct {
	LastSync  time.Time `json:"last_sync,omitzero"`
	NextSync  time.Time `json:"next_sync,omitzero"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
}

// Report итог одного прохода планировщика.
type Report struct {
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Service планировщик синхронизации.
type Service struct {
	store   *store.Store
	syncer  Syncer
	env     host.Environment
	bus     events.Emitter
	notices *notice.Queue
	cfg     config.Sync
	log     *slog.Logger
	now     func() time.Time
}

// New создаёт планировщик.
func New(s *store.Store, syncer Syncer, env host.Environment, bus events.Emitter, notices *notice.Queue, cfg config.Sync, log *slog.Logger) *Service {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Hour
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = 24 * time.Hour
	}
	if cfg.SyncPeriod <= 0 {
		cfg.SyncPeriod = 24 * time.Hour
	}
	if cfg.NoticeThreshold <= 0 {
		cfg.NoticeThreshold = 3
	}
	return &Service{
		store:   s,
		syncer:  syncer,
		env:     env,
		bus:     bus,
		notices: notices,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// State возвращает состояние синхронизации блога.
func (s *Service) State(ctx context.Context, blogID int64) (State, error) {
	var st State
	_, err := s.store.Get(ctx, store.Blog(blogID), store.KeySyncState, &st)
	return st, err
}

func (s *Service) saveState(ctx context.Context, blogID int64, st State) error {
	return s.store.Set(ctx, store.Blog(blogID), store.KeySyncState, st)
}

// ScheduleSync делает синхронизацию блога срочной.
func (s *Service) ScheduleSync(ctx context.Context, blogID int64) error {
	const op = "scheduler.ScheduleSync"
	st, err := s.State(ctx, blogID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	st.NextSync = s.now().UTC()
	if err := s.saveState(ctx, blogID, st); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Backoff задержка после n подряд неудачных синхронизаций.
func (s *Service) Backoff(n int) time.Duration {
	d := s.cfg.BackoffBase
	for i := 1; i < n && d < s.cfg.BackoffMax; i++ {
		d *= 2
	}
	return min(d, s.cfg.BackoffMax)
}

// RunOnce синхронизирует все зарегистрированные блоги, срок синхронизации
// которых наступил.
func (s *Service) RunOnce(ctx context.Context, background bool) (Report, error) {
	const op = "scheduler.RunOnce"
	var rep Report
	blogIDs, err := s.env.BlogIDs(ctx)
	if err != nil {
		return rep, fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	for _, id := range blogIDs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		site, err := s.store.Site(ctx, id)
		if err != nil {
			return rep, fmt.Errorf("%s: %w", op, err)
		}
		if site == nil {
			rep.Skipped++
			continue
		}
		st, err := s.State(ctx, id)
		if err != nil {
			return rep, fmt.Errorf("%s: %w", op, err)
		}
		if !st.NextSync.IsZero() && now.Before(st.NextSync) {
			rep.Skipped++
			continue
		}
		if err := s.syncOne(ctx, id, st, background); err != nil {
			rep.Failed++
			continue
		}
		rep.Synced++
	}
	s.log.Info("sync pass finished", slog.Int("synced", rep.Synced), slog.Int("failed", rep.Failed), slog.Int("skipped", rep.Skipped))
	return rep, nil
}

// SyncNow синхронизирует блог по запросу администратора. Ошибка сразу
// приводит к уведомлению.
func (s *Service) SyncNow(ctx context.Context, blogID int64) error {
	const op = "scheduler.SyncNow"
	st, err := s.State(ctx, blogID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.syncOne(ctx, blogID, st, false); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FirstSync синхронизирует блог сразу, если он зарегистрирован недавно и
// ещё ни разу не синхронизировался. Возвращает true, если синхронизация
// выполнена.
func (s *Service) FirstSync(ctx context.Context, blogID int64) (bool, error) {
	const op = "scheduler.FirstSync"
	st, err := s.State(ctx, blogID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !st.LastSync.IsZero() {
		return false, nil
	}
	var registeredAt time.Time
	found, err := s.store.Get(ctx, store.Blog(blogID), store.KeyRegisteredAt, &registeredAt)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !found || s.now().Sub(registeredAt) > s.cfg.FirstSyncWindow {
		return false, nil
	}
	if err := s.syncOne(ctx, blogID, st, false); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (s *Service) syncOne(ctx context.Context, blogID int64, st State, background bool) error {
	log := s.log.With(slog.Int64("blog_id", blogID), slog.Bool("background", background))
	now := s.now().UTC()

	_, err := s.syncer.Sync(ctx, blogID)
	if err == nil {
		st = State{LastSync: now, NextSync: now.Add(s.cfg.SyncPeriod)}
		if err := s.saveState(ctx, blogID, st); err != nil {
			return err
		}
		s.dismiss(ctx, blogID)
		metrics.SchedulerRuns.WithLabelValues("success").Inc()
		return nil
	}
	if errors.Is(err, models.ErrNotRegistered) {
		return err
	}

	st.LastError = err.Error()
	st.Failures++
	// доменные ошибки не повторяются раньше обычного срока
	st.NextSync = now.Add(s.cfg.SyncPeriod)
	if remote.IsConnectivity(err) {
		st.NextSync = now.Add(s.Backoff(st.Failures))
	}
	if serr := s.saveState(ctx, blogID, st); serr != nil {
		log.Error("failed to save sync state", sl.Err(serr))
	}
	metrics.SchedulerRuns.WithLabelValues("failed").Inc()
	log.Warn("license sync failed", slog.Int("failures", st.Failures), sl.Err(err))

	s.bus.Emit(ctx, events.SyncFailed, blogID, map[string]any{
		"failures": st.Failures,
		"error":    err.Error(),
	})
	if !background || st.Failures >= s.cfg.NoticeThreshold || !remote.IsConnectivity(err) {
		s.notify(ctx, blogID, err)
	}
	return err
}

func (s *Service) notify(ctx context.Context, blogID int64, err error) {
	if s.notices == nil {
		return
	}
	id, typ := notice.TypeSyncFailed, notice.TypeSyncFailed
	var msg string
	switch {
	case remote.IsBlocked(err):
		id, typ = notice.TypeConnectivity, notice.TypeConnectivity
		msg = "Requests to the licensing server are blocked. Ask your hosting provider to allow outbound connections to the licensing API."
	case remote.IsConnectivity(err):
		id, typ = notice.TypeConnectivity, notice.TypeConnectivity
		msg = "The licensing server could not be reached. License information may be out of date."
	case remote.IsAuth(err):
		msg = "The install keys were rejected by the licensing server. Reconnect the account to continue."
	default:
		msg = remote.Message(err, "License synchronization failed.")
	}
	if err := s.notices.Add(ctx, blogID, id, typ, msg); err != nil {
		s.log.Warn("failed to add sync notice", sl.Err(err))
	}
}

func (s *Service) dismiss(ctx context.Context, blogID int64) {
	if s.notices == nil {
		return
	}
	for _, id := range []string{notice.TypeSyncFailed, notice.TypeConnectivity} {
		if err := s.notices.Dismiss(ctx, blogID, id); err != nil {
			s.log.Warn("failed to dismiss notice", slog.String("notice", id), sl.Err(err))
		}
	}
}

// Run запускает проходы по расписанию до отмены ctx.
func (s *Service) Run(ctx context.Context) {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	s.pass(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Service) pass(ctx context.Context) {
	if _, err := s.RunOnce(ctx, true); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("sync pass failed", sl.Err(err))
	}
}
