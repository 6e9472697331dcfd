package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/magabrotheeeer/license-sync/internal/events"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/remote"
	"github.com/magabrotheeeer/license-sync/internal/store"
)

// Activate привязывает лицензию к установке блога. Лицензия ищется по id в
// локальном кэше, иначе запрашивается по id и ключу. Повторная активация
// уже привязанной лицензии ничего не отправляет на сервер. Локальные данные
// меняются только после подтверждения сервера.
func (r *Resolver) Activate(ctx context.Context, blogID, licenseID int64, key string) (*models.License, error) {
	const op = "license.Activate"
	log := r.log.With(slog.String("op", op), slog.Int64("blog_id", blogID))

	acc, err := r.load(ctx, blogID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	licenses, err := r.store.Licenses(ctx, acc.scope)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	l := r.findLocal(licenses, licenseID, key)
	if l == nil && licenseID > 0 {
		l, err = r.fetchLicense(ctx, acc, licenseID, key)
		if err != nil && !remote.IsNotFound(err) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if l != nil {
		if acc.site.HasLicense() && *acc.site.LicenseID == l.ID {
			log.Debug("license already bound", slog.Int64("license_id", l.ID))
			return l, nil
		}
		if !l.CoversModule(r.module.ID) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrLicenseMismatch)
		}
		if key == "" {
			key = l.SecretKey
		}
	}
	if key == "" {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNoLicense)
	}

	res, err := r.client.Call(ctx, remote.ScopeInstall, acc.installCreds(), http.MethodPut, "/", map[string]any{"license_key": key})
	if err != nil {
		log.Warn("license activation rejected", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	site, err := r.mergeSite(acc.site, res)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	site.UserID = acc.site.UserID
	r.checkClone(ctx, blogID, site)
	if !site.HasLicense() {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNoLicense)
	}

	if l != nil && l.ID == *site.LicenseID {
		bound := *l
		bound.Activated++
		l = &bound
	} else {
		// лицензия была известна только по ключу
		l, err = r.fetchLicense(ctx, acc, *site.LicenseID, key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	licenses = upsertLicense(licenses, l)

	err = r.store.Batch().
		SetSite(blogID, site).
		SetLicenses(acc.scope, licenses).
		Commit(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r.bus.Emit(ctx, events.LicenseActivated, blogID, map[string]any{
		"license_id": l.ID,
		"plan_id":    site.PlanID,
	})
	log.Info("license activated", slog.Int64("license_id", l.ID))
	return l, nil
}

func (r *Resolver) findLocal(licenses []*models.License, id int64, key string) *models.License {
	if id > 0 {
		return models.FindLicense(licenses, id)
	}
	return models.FindLicenseByKey(licenses, key)
}

func upsertLicense(list []*models.License, l *models.License) []*models.License {
	if i := slices.IndexFunc(list, func(x *models.License) bool { return x.ID == l.ID }); i >= 0 {
		list[i] = l
		return list
	}
	return append(list, l)
}

// Deactivate отвязывает лицензию от установки блога. Установка переходит на
// первый (базовый) план, подписки снятой лицензии удаляются из кэша.
func (r *Resolver) Deactivate(ctx context.Context, blogID int64) error {
	const op = "license.Deactivate"
	log := r.log.With(slog.String("op", op), slog.Int64("blog_id", blogID))

	acc, err := r.load(ctx, blogID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !acc.site.HasLicense() {
		return fmt.Errorf("%s: %w", op, models.ErrNoLicense)
	}
	licenseID := *acc.site.LicenseID

	res, err := r.client.Call(ctx, remote.ScopeInstall, acc.installCreds(), http.MethodDelete, fmt.Sprintf("licenses/%d.json", licenseID), nil)
	if err != nil {
		log.Warn("license deactivation rejected", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	plans, err := r.store.Plans(ctx, acc.scope)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	site := acc.site.Clone()
	site.LicenseID = nil
	var body struct {
		PlanID int64 `json:"plan_id"`
	}
	switch {
	case res.Decode(&body) == nil && body.PlanID > 0:
		site.PlanID = body.PlanID
	case len(plans) > 0:
		site.PlanID = plans[0].ID
	}

	subscriptions, err := r.store.Subscriptions(ctx, acc.scope)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	subscriptions = slices.DeleteFunc(subscriptions, func(s *models.Subscription) bool {
		return s.LicenseID == licenseID
	})

	batch := r.store.Batch().
		SetSite(blogID, site).
		Set(acc.scope, store.KeySubscriptions, subscriptions)
	licenses, err := r.store.Licenses(ctx, acc.scope)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if l := models.FindLicense(licenses, licenseID); l != nil && l.Activated > 0 {
		l.Activated--
		batch.SetLicenses(acc.scope, licenses)
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	payload := map[string]any{"license_id": licenseID, "plan_id": site.PlanID}
	r.bus.Emit(ctx, events.LicenseDeactivated, blogID, payload)
	r.bus.Emit(ctx, events.PlanChanged, blogID, map[string]any{
		"change":      string(ChangeDowngraded),
		"old_plan_id": acc.site.PlanID,
		"new_plan_id": site.PlanID,
	})
	log.Info("license deactivated", slog.Int64("license_id", licenseID))
	return nil
}

// ErrorMessage возвращает текст ошибки активации для показа пользователю.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrLicenseMismatch):
		return "This license is not valid for this product."
	case errors.Is(err, models.ErrNoLicense):
		return "License not found."
	}
	return remote.Message(err, "Something went wrong, please try again later.")
}
