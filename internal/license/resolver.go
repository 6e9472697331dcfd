// Package license сопоставляет установке её лицензию и план, синхронизирует
// их с удалённым сервером, активирует и деактивирует лицензии, управляет
// пробными периодами, подписками и проверкой обновлений.
package license

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/magabrotheeeer/license-sync/internal/events"
	"github.com/magabrotheeeer/license-sync/internal/host"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
	"github.com/magabrotheeeer/license-sync/internal/metrics"
	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/notice"
	"github.com/magabrotheeeer/license-sync/internal/remote"
	"github.com/magabrotheeeer/license-sync/internal/store"
)

// BulkActivator применяет лицензию к остальным блогам сети и возвращает
// лицензию с подтверждённым счётчиком активаций.
type BulkActivator interface {
	BulkActivate(ctx context.Context, license *models.License, blogIDs []int64) (*models.License, error)
}

// CloneChecker проверяет установку, полученную от сервера, на клон.
type CloneChecker interface {
	Check(ctx context.Context, blogID int64, remoteSite *models.Site) error
}

// Options настройки резолвера.
type Options struct {
	SoftExpiryInterval time.Duration
	LockTTL            time.Duration
}

// Resolver сервис лицензий одного модуля.
type Resolver struct {
	store   *store.Store
	client  remote.Client
	env     host.Environment
	bus     events.Emitter
	notices *notice.Queue
	module  models.Module
	opts    Options
	bulk    BulkActivator
	clones  CloneChecker
	log     *slog.Logger
	now     func() time.Time
}

// New создаёт резолвер лицензий.
func New(s *store.Store, client remote.Client, env host.Environment, bus events.Emitter, notices *notice.Queue, module models.Module, opts Options, log *slog.Logger) *Resolver {
	if opts.SoftExpiryInterval <= 0 {
		opts.SoftExpiryInterval = 14 * 24 * time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Minute
	}
	return &Resolver{
		store:   s,
		client:  client,
		env:     env,
		bus:     bus,
		notices: notices,
		module:  module,
		opts:    opts,
		log:     log,
		now:     time.Now,
	}
}

// SetBulkActivator задаёт массовую активацию по сети.
func (r *Resolver) SetBulkActivator(b BulkActivator) {
	r.bulk = b
}

// SetCloneChecker задаёт проверку клонов.
func (r *Resolver) SetCloneChecker(c CloneChecker) {
	r.clones = c
}

// SyncResult итог синхронизации.
type SyncResult struct {
	Change  Change
	Site    *models.Site
	License *models.License
}

type account struct {
	blogID int64
	scope  store.Scope
	site   *models.Site
	user   *models.User
}

func (a account) installCreds() remote.Credentials {
	return remote.Credentials{ID: a.site.ID, PublicKey: a.site.PublicKey, SecretKey: a.site.SecretKey}
}

func (a account) userCreds() remote.Credentials {
	return remote.Credentials{ID: a.user.ID, PublicKey: a.user.PublicKey, SecretKey: a.user.SecretKey}
}

func (r *Resolver) load(ctx context.Context, blogID int64) (account, error) {
	site, err := r.store.Site(ctx, blogID)
	if err != nil {
		return account{}, err
	}
	if site == nil {
		return account{}, models.ErrNotRegistered
	}
	scope := r.store.AccountScope(blogID)
	user, err := r.store.User(ctx, scope, site.UserID)
	if err != nil {
		return account{}, err
	}
	if user == nil {
		return account{}, models.ErrNotRegistered
	}
	return account{blogID: blogID, scope: scope, site: site, user: user}, nil
}

// Sync сверяет установку блога с сервером: отправляет изменившиеся данные
// установки, обновляет планы, лицензии и подписку, классифицирует изменение
// и сохраняет результат. При ошибке связи локальные данные не меняются.
func (r *Resolver) Sync(ctx context.Context, blogID int64) (*SyncResult, error) {
	const op = "license.Sync"
	log := r.log.With(slog.String("op", op), slog.Int64("blog_id", blogID))

	acc, err := r.load(ctx, blogID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := r.now()

	newSite, snapshot, err := r.pushInstall(ctx, acc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	r.checkClone(ctx, blogID, newSite)
	// владелец меняется только через передачу прав
	newSite.UserID = acc.site.UserID

	plans, err := r.fetchPlans(ctx, acc, newSite)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	oldLicenses, err := r.store.Licenses(ctx, acc.scope)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	licenses, err := r.fetchLicenses(ctx, acc, newSite, oldLicenses)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var oldLicense *models.License
	if acc.site.HasLicense() {
		oldLicense = models.FindLicense(oldLicenses, *acc.site.LicenseID)
	}
	var newLicense *models.License
	if newSite.HasLicense() {
		newLicense = models.FindLicense(licenses, *newSite.LicenseID)
	}

	batch := r.store.Batch()
	if newLicense != nil && newLicense.IsExpired(now) {
		if newLicense.IsFeaturesEnabled(now) {
			r.softExpiryNotice(ctx, acc.blogID, batch, newLicense, now)
		} else if len(plans) > 0 {
			log.Info("license expired, falling back to base plan", slog.Int64("license_id", newLicense.ID))
			newSite.LicenseID = nil
			newSite.PlanID = plans[0].ID
			newLicense = nil
		}
	}

	change := Classify(Transition{
		OldSite:     acc.site,
		NewSite:     newSite,
		OldLicense:  oldLicense,
		NewLicense:  newLicense,
		OldPlanRank: PlanRank(plans, acc.site.PlanID),
		NewPlanRank: PlanRank(plans, newSite.PlanID),
		HasFreePlan: r.module.HasFreePlan || models.HasFreePlan(plans),
		Now:         now,
	})

	if (change == ChangeActivated || change == ChangeChanged) && newLicense != nil {
		if updated := r.bulkActivate(ctx, acc, newLicense); updated != nil {
			licenses = upsertLicense(licenses, updated)
			newLicense = updated
		}
	}

	subscriptions, err := r.syncSubscription(ctx, acc, newSite)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	batch.SetSite(blogID, newSite).
		SetLicenses(acc.scope, licenses).
		SetPlans(acc.scope, plans).
		Set(acc.scope, store.KeyUserLicenses(acc.user.ID), userLicenseIDs(licenses, acc.user.ID)).
		Set(store.Blog(blogID), store.KeyInstallSnapshot, snapshot)
	if subscriptions != nil {
		batch.Set(acc.scope, store.KeySubscriptions, subscriptions)
	}
	if err := batch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	metrics.PlanChanges.WithLabelValues(string(change)).Inc()
	r.emitChange(ctx, blogID, change, acc.site, newSite, newLicense)
	r.bus.Emit(ctx, events.SyncCompleted, blogID, map[string]any{"change": string(change)})
	log.Info("license synced", slog.String("change", string(change)))

	if err := r.collectSubscriptions(ctx, acc.scope); err != nil {
		log.Warn("subscriptions gc failed", sl.Err(err))
	}
	return &SyncResult{Change: change, Site: newSite, License: newLicense}, nil
}

// pushInstall отправляет изменившиеся поля установки или, если изменений нет,
// просто запрашивает установку.
func (r *Resolver) pushInstall(ctx context.Context, acc account) (*models.Site, models.InstallData, error) {
	data, err := r.env.InstallData(ctx, acc.blogID)
	if err != nil {
		return nil, data, err
	}
	var prev *models.InstallData
	var stored models.InstallData
	found, err := r.store.Get(ctx, store.Blog(acc.blogID), store.KeyInstallSnapshot, &stored)
	if err != nil {
		return nil, data, err
	}
	if found {
		prev = &stored
	}

	var res *remote.Result
	if diff := data.Diff(prev); len(diff) > 0 {
		res, err = r.client.Call(ctx, remote.ScopeInstall, acc.installCreds(), http.MethodPut, "/", diff)
	} else {
		res, err = r.client.Call(ctx, remote.ScopeInstall, acc.installCreds(), http.MethodGet, "/", nil)
	}
	if err != nil {
		return nil, data, err
	}
	site, err := r.mergeSite(acc.site, res)
	if err != nil {
		return nil, data, err
	}
	return site, data, nil
}

// mergeSite разбирает установку из ответа, сохраняя локальные ключи, если
// сервер их не вернул.
// checkClone передаёт установку из ответа сервера детектору клонов.
// Ошибка проверки не прерывает операцию.
func (r *Resolver) checkClone(ctx context.Context, blogID int64, site *models.Site) {
	if r.clones == nil {
		return
	}
	if err := r.clones.Check(ctx, blogID, site); err != nil {
		r.log.Warn("clone check failed", slog.Int64("blog_id", blogID), sl.Err(err))
	}
}

func (r *Resolver) mergeSite(local *models.Site, res *remote.Result) (*models.Site, error) {
	site, err := models.ParseSite(res.Body())
	if err != nil {
		return nil, err
	}
	if site.PublicKey == "" {
		site.PublicKey = local.PublicKey
	}
	if site.SecretKey == "" {
		site.SecretKey = local.SecretKey
	}
	return site, nil
}

func (r *Resolver) fetchPlans(ctx context.Context, acc account, site *models.Site) ([]*models.Plan, error) {
	res, err := r.client.Call(ctx, remote.ScopeInstall, acc.installCreds(), http.MethodGet, "plans.json", nil)
	if err != nil {
		if remote.IsNotFound(err) {
			return []*models.Plan{models.FreePlan(site.PlanID)}, nil
		}
		return nil, err
	}
	items, _ := res.Collection("plans")
	plans := make([]*models.Plan, 0, len(items))
	for _, raw := range items {
		p, err := models.ParsePlan(raw)
		if err != nil {
			r.log.Debug("skipping invalid plan", sl.Err(err))
			continue
		}
		plans = append(plans, p)
	}
	if len(plans) == 0 {
		plans = append(plans, models.FreePlan(site.PlanID))
	}
	return plans, nil
}

// fetchLicenses загружает лицензии пользователя и дополняет их чужой
// лицензией, на которую ссылается установка.
func (r *Resolver) fetchLicenses(ctx context.Context, acc account, site *models.Site, cached []*models.License) ([]*models.License, error) {
	path := fmt.Sprintf("plugins/%d/licenses.json", r.module.ID)
	res, err := r.client.Call(ctx, remote.ScopeUser, acc.userCreds(), http.MethodGet, path, nil)
	if err != nil && !remote.IsNotFound(err) {
		return nil, err
	}
	var licenses []*models.License
	if res != nil {
		items, _ := res.Collection("licenses")
		for _, raw := range items {
			l, err := models.ParseLicense(raw)
			if err != nil {
				r.log.Debug("skipping invalid license", sl.Err(err))
				continue
			}
			licenses = append(licenses, l)
		}
	}

	if !site.HasLicense() || models.FindLicense(licenses, *site.LicenseID) != nil {
		return licenses, nil
	}
	id := *site.LicenseID
	var key string
	if l := models.FindLicense(cached, id); l != nil {
		key = l.SecretKey
	}
	l, err := r.fetchLicense(ctx, acc, id, key)
	switch {
	case err == nil:
		licenses = append(licenses, l)
	case remote.IsNotFound(err):
		r.log.Debug("foreign license not found", slog.Int64("license_id", id))
	default:
		return nil, err
	}
	return licenses, nil
}

func (r *Resolver) fetchLicense(ctx context.Context, acc account, id int64, key string) (*models.License, error) {
	var params url.Values
	if key != "" {
		params = url.Values{"license_key": {key}}
	}
	res, err := r.client.Call(ctx, remote.ScopeInstall, acc.installCreds(), http.MethodGet, fmt.Sprintf("licenses/%d.json", id), params)
	if err != nil {
		return nil, err
	}
	return models.ParseLicense(res.Body())
}

// userLicenseIDs индекс лицензий, принадлежащих пользователю. Идентификаторы,
// которых больше нет в кэше, в индекс не попадают.
func userLicenseIDs(licenses []*models.License, userID int64) []int64 {
	ids := make([]int64, 0, len(licenses))
	for _, l := range licenses {
		if l.UserID == userID {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

func (r *Resolver) softExpiryNotice(ctx context.Context, blogID int64, batch *store.Batch, l *models.License, now time.Time) {
	var last time.Time
	if _, err := r.store.Get(ctx, store.Blog(blogID), store.KeySoftExpiryNotified, &last); err != nil {
		r.log.Warn("failed to read soft expiry marker", sl.Err(err))
		return
	}
	if !last.IsZero() && now.Sub(last) < r.opts.SoftExpiryInterval {
		return
	}
	if r.notices != nil {
		msg := "Your license has expired. You can still use the premium features, but you will not receive updates or support until you renew."
		if err := r.notices.Add(ctx, blogID, notice.TypeSoftExpiry, notice.TypeSoftExpiry, msg); err != nil {
			r.log.Warn("failed to add soft expiry notice", sl.Err(err))
			return
		}
	}
	batch.Set(store.Blog(blogID), store.KeySoftExpiryNotified, now.UTC())
	r.log.Info("license soft expired", slog.Int64("blog_id", blogID), slog.Int64("license_id", l.ID))
}

// bulkActivate возвращает лицензию с новым счётчиком активаций, если хотя бы
// один блог сети был активирован.
func (r *Resolver) bulkActivate(ctx context.Context, acc account, l *models.License) *models.License {
	if r.bulk == nil || !r.store.IsNetworkActive() {
		return nil
	}
	blogIDs, err := r.env.BlogIDs(ctx)
	if err != nil {
		r.log.Warn("failed to list blogs for bulk activation", sl.Err(err))
		return nil
	}
	if !l.IsUnlimited() && *l.Quota < len(blogIDs) {
		return nil
	}
	others := make([]int64, 0, len(blogIDs))
	for _, id := range blogIDs {
		if id != acc.blogID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return nil
	}
	updated, err := r.bulk.BulkActivate(ctx, l, others)
	if err != nil {
		r.log.Warn("bulk activation skipped", slog.Int64("license_id", l.ID), sl.Err(err))
	}
	return updated
}

func (r *Resolver) emitChange(ctx context.Context, blogID int64, change Change, oldSite, newSite *models.Site, l *models.License) {
	if change == ChangeNone {
		return
	}
	payload := map[string]any{
		"change":      string(change),
		"old_plan_id": oldSite.PlanID,
		"new_plan_id": newSite.PlanID,
	}
	if l != nil {
		payload["license_id"] = l.ID
	}
	r.bus.Emit(ctx, events.PlanChanged, blogID, payload)
	switch change {
	case ChangeActivated, ChangeUpgraded, ChangeChanged:
		if l != nil {
			r.bus.Emit(ctx, events.LicenseActivated, blogID, payload)
		}
	case ChangeTrialStarted:
		r.bus.Emit(ctx, events.TrialStarted, blogID, payload)
	}
}

// Licenses возвращает кэш лицензий блога.
func (r *Resolver) Licenses(ctx context.Context, blogID int64) ([]*models.License, error) {
	return r.store.Licenses(ctx, r.store.AccountScope(blogID))
}

// Current возвращает установку блога и её лицензию.
func (r *Resolver) Current(ctx context.Context, blogID int64) (*models.Site, *models.License, error) {
	const op = "license.Current"
	site, err := r.store.Site(ctx, blogID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if !site.HasLicense() {
		return site, nil, nil
	}
	l, err := r.store.License(ctx, r.store.AccountScope(blogID), *site.LicenseID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return site, l, nil
}
