// Package clone обнаруживает копии сайта, адрес которых разошёлся с
// адресом установки на сервере, и разрешает их.
package clone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/magabrotheeeer/license-sync/internal/account"
	"github.com/magabrotheeeer/license-sync/internal/events"
	"github.com/magabrotheeeer/license-sync/internal/host"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
	"github.com/magabrotheeeer/license-sync/internal/metrics"
	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/notice"
	"github.com/magabrotheeeer/license-sync/internal/remote"
	"github.com/magabrotheeeer/license-sync/internal/store"
)

// State состояние установки относительно клонирования.
type State string

const (
	StateOriginal          State = "ORIGINAL"
	StateUnresolved        State = "UNRESOLVED_CLONE"
	StatePendingResolution State = "PENDING_RESOLUTION"
	StateResolved          State = "RESOLVED"
)

// Способы разрешения клона.
const (
	ResolutionNewInstall = "new_install"
	ResolutionDuplicate  = "duplicate"
	ResolutionMigration  = "migration"
)

// Record сохранённое состояние клона блога.
type Record struct {
	State      State     `json:"state"`
	SiteID     int64     `json:"site_id,omitempty"`
	LocalURL   string    `json:"local_url,omitempty"`
	RemoteURL  string    `json:"remote_url,omitempty"`
	DetectedAt time.Time `json:"detected_at,omitzero"`
	// SignalledSiteID установка, о которой сервер уже уведомлён.
	SignalledSiteID int64     `json:"signalled_site_id,omitempty"`
	PendingSince    time.Time `json:"pending_since,omitzero"`
	Resolution      string    `json:"resolution,omitempty"`
}

// Registrar регистрирует блог заново, даже если пользователь уже известен.
type Registrar interface {
	Register(ctx context.Context, blogID int64, req account.OptInRequest) (account.State, error)
}

// Detector обнаружение и разрешение клонов.
type Detector struct {
	store     *store.Store
	client    remote.Client
	env       host.Environment
	bus       events.Emitter
	notices   *notice.Queue
	registrar Registrar
	window    time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// New создаёт детектор клонов. window время, в течение которого ожидается
// разрешение после уведомления сервера.
func New(s *store.Store, client remote.Client, env host.Environment, bus events.Emitter, notices *notice.Queue, window time.Duration, log *slog.Logger) *Detector {
	if window <= 0 {
		window = 48 * time.Hour
	}
	return &Detector{
		store:   s,
		client:  client,
		env:     env,
		bus:     bus,
		notices: notices,
		window:  window,
		log:     log,
		now:     time.Now,
	}
}

// SetRegistrar задаёт регистрацию для разрешения клона как новой установки.
func (d *Detector) SetRegistrar(r Registrar) {
	d.registrar = r
}

// Record возвращает состояние клона блога.
func (d *Detector) Record(ctx context.Context, blogID int64) (Record, error) {
	rec := Record{State: StateOriginal}
	if _, err := d.store.Get(ctx, store.Blog(blogID), store.KeyCloneState, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (d *Detector) save(ctx context.Context, blogID int64, rec Record) error {
	return d.store.Set(ctx, store.Blog(blogID), store.KeyCloneState, rec)
}

// Detect сравнивает адрес установки на сервере с текущим адресом блога.
func Detect(remoteURL, localURL string) State {
	if remoteURL == "" || models.NormalizeURL(remoteURL) == models.NormalizeURL(localURL) {
		return StateOriginal
	}
	return StateUnresolved
}

// Check проверяет установку, полученную от сервера. Сервер уведомляется о
// возможном клоне не больше одного раза на установку.
func (d *Detector) Check(ctx context.Context, blogID int64, remoteSite *models.Site) error {
	const op = "clone.Check"
	if remoteSite == nil {
		return nil
	}
	localURL, err := d.env.SiteURL(ctx, blogID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rec, err := d.Record(ctx, blogID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	now := d.now()

	if Detect(remoteSite.URL, localURL) == StateOriginal {
		if rec.State == StateOriginal {
			return nil
		}
		rec = Record{State: StateOriginal, SignalledSiteID: rec.SignalledSiteID}
		return d.wrap(op, d.save(ctx, blogID, rec))
	}

	local := models.NormalizeURL(localURL)
	switch {
	case rec.State == StateResolved && rec.SiteID == remoteSite.ID && rec.LocalURL == local:
		return nil
	case rec.State == StatePendingResolution && rec.SiteID == remoteSite.ID:
		if now.Sub(rec.PendingSince) < d.window {
			return nil
		}
		rec.State = StateUnresolved
		d.log.Info("clone resolution window expired", slog.Int64("blog_id", blogID))
		return d.wrap(op, d.save(ctx, blogID, rec))
	case rec.State == StateUnresolved && rec.SignalledSiteID == remoteSite.ID:
		return nil
	}

	rec.State = StateUnresolved
	rec.SiteID = remoteSite.ID
	rec.LocalURL = local
	rec.RemoteURL = models.NormalizeURL(remoteSite.URL)
	rec.DetectedAt = now
	rec.Resolution = ""
	if err := d.save(ctx, blogID, rec); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.CloneDetections.Inc()
	d.bus.Emit(ctx, events.CloneDetected, blogID, map[string]any{
		"state":      string(StateUnresolved),
		"site_id":    remoteSite.ID,
		"local_url":  rec.LocalURL,
		"remote_url": rec.RemoteURL,
	})
	if d.notices != nil {
		msg := fmt.Sprintf("This site's address (%s) differs from the address registered for this install (%s).", rec.LocalURL, rec.RemoteURL)
		if err := d.notices.Add(ctx, blogID, notice.TypeClone, notice.TypeClone, msg); err != nil {
			d.log.Warn("failed to add clone notice", sl.Err(err))
		}
	}

	if rec.SignalledSiteID == remoteSite.ID {
		return nil
	}
	return d.wrap(op, d.signal(ctx, blogID, remoteSite, rec))
}

// signal уведомляет сервер о возможном клоне и запоминает это.
func (d *Detector) signal(ctx context.Context, blogID int64, remoteSite *models.Site, rec Record) error {
	site, err := d.store.Site(ctx, blogID)
	if err != nil {
		return err
	}
	creds := remote.Credentials{ID: remoteSite.ID, PublicKey: remoteSite.PublicKey, SecretKey: remoteSite.SecretKey}
	if site != nil && site.ID == remoteSite.ID {
		creds.PublicKey, creds.SecretKey = site.PublicKey, site.SecretKey
	}
	_, err = d.client.Call(ctx, remote.ScopeInstall, creds, http.MethodPost, "clones.json", map[string]any{
		"site_url": rec.LocalURL,
	})
	if err != nil {
		d.log.Warn("failed to report clone", slog.Int64("blog_id", blogID), sl.Err(err))
		return nil
	}
	rec.State = StatePendingResolution
	rec.SignalledSiteID = remoteSite.ID
	rec.PendingSince = d.now()
	return d.save(ctx, blogID, rec)
}

func (d *Detector) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (d *Detector) unresolved(ctx context.Context, blogID int64) (Record, error) {
	rec, err := d.Record(ctx, blogID)
	if err != nil {
		return rec, err
	}
	if rec.State != StateUnresolved && rec.State != StatePendingResolution {
		return rec, models.ErrNotClone
	}
	return rec, nil
}

func (d *Detector) resolved(ctx context.Context, blogID int64, rec Record, resolution string) error {
	rec.State = StateResolved
	rec.Resolution = resolution
	if err := d.save(ctx, blogID, rec); err != nil {
		return err
	}
	if d.notices != nil {
		if err := d.notices.Dismiss(ctx, blogID, notice.TypeClone); err != nil {
			d.log.Warn("failed to dismiss clone notice", sl.Err(err))
		}
	}
	d.bus.Emit(ctx, events.CloneResolved, blogID, map[string]any{"resolution": resolution})
	d.log.Info("clone resolved", slog.Int64("blog_id", blogID), slog.String("resolution", resolution))
	return nil
}

// ResolveAsNewInstall регистрирует клон как отдельную установку. Исходная
// установка сохраняется и восстанавливается, если регистрация не удалась.
func (d *Detector) ResolveAsNewInstall(ctx context.Context, blogID int64) error {
	const op = "clone.ResolveAsNewInstall"
	if d.registrar == nil {
		return fmt.Errorf("%s: registrar is not configured", op)
	}
	rec, err := d.unresolved(ctx, blogID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	backup, err := d.store.Site(ctx, blogID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if backup == nil {
		return fmt.Errorf("%s: %w", op, models.ErrNotRegistered)
	}
	user, err := d.store.User(ctx, d.store.AccountScope(blogID), backup.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	var req account.OptInRequest
	if user != nil {
		req.Email, req.FirstName, req.LastName = user.Email, user.FirstName, user.LastName
	}

	if err := d.store.DeleteSite(ctx, blogID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	site, err := d.register(ctx, blogID, req)
	if err == nil && site.ID == backup.ID {
		err = errors.New("registration returned the original install")
	}
	if err != nil {
		if rerr := d.restore(ctx, blogID, backup); rerr != nil {
			return fmt.Errorf("%s: %w", op, errors.Join(err, rerr))
		}
		d.log.Warn("clone re-registration failed, original install restored", slog.Int64("blog_id", blogID), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	rec.SiteID = site.ID
	return d.wrap(op, d.resolved(ctx, blogID, rec, ResolutionNewInstall))
}

// register регистрирует блог и возвращает сохранённую новую установку.
func (d *Detector) register(ctx context.Context, blogID int64, req account.OptInRequest) (*models.Site, error) {
	state, err := d.registrar.Register(ctx, blogID, req)
	if err != nil {
		return nil, err
	}
	if state != account.StateRegistered {
		return nil, fmt.Errorf("registration ended in state %s", state)
	}
	site, err := d.store.Site(ctx, blogID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, errors.New("no install stored after registration")
	}
	return site, nil
}

// restore возвращает исходную установку и снимает флаги ожидания,
// оставленные неудачной регистрацией.
func (d *Detector) restore(ctx context.Context, blogID int64, backup *models.Site) error {
	return d.store.Batch().
		SetSite(blogID, backup).
		Delete(store.Blog(blogID), store.KeyPendingActivation, store.KeyPendingRecord).
		Commit(ctx)
}

// ResolveAsDuplicate принимает клон как намеренную копию с той же установкой.
func (d *Detector) ResolveAsDuplicate(ctx context.Context, blogID int64) error {
	const op = "clone.ResolveAsDuplicate"
	rec, err := d.unresolved(ctx, blogID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return d.wrap(op, d.resolved(ctx, blogID, rec, ResolutionDuplicate))
}

// ResolveAsMigration считает клон переездом сайта: новый адрес отправляется
// на сервер.
func (d *Detector) ResolveAsMigration(ctx context.Context, blogID int64) error {
	const op = "clone.ResolveAsMigration"
	rec, err := d.unresolved(ctx, blogID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	site, err := d.store.Site(ctx, blogID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if site == nil {
		return fmt.Errorf("%s: %w", op, models.ErrNotRegistered)
	}
	localURL, err := d.env.SiteURL(ctx, blogID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	creds := remote.Credentials{ID: site.ID, PublicKey: site.PublicKey, SecretKey: site.SecretKey}
	if _, err := d.client.Call(ctx, remote.ScopeInstall, creds, http.MethodPut, "/", map[string]any{"url": localURL}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	updated := site.Clone()
	updated.URL = localURL
	if err := d.store.SaveSite(ctx, blogID, updated); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rec.RemoteURL = models.NormalizeURL(localURL)
	return d.wrap(op, d.resolved(ctx, blogID, rec, ResolutionMigration))
}
