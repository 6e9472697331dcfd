package license

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/magabrotheeeer/license-sync/internal/events"
	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/remote"
	"github.com/magabrotheeeer/license-sync/internal/store"
)

// StartTrial запускает пробный период плана planID для установки блога.
func (r *Resolver) StartTrial(ctx context.Context, blogID, planID int64) (*models.Site, error) {
	const op = "license.StartTrial"
	log := r.log.With(slog.String("op", op), slog.Int64("blog_id", blogID))

	acc, err := r.load(ctx, blogID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	plans, err := r.store.Plans(ctx, acc.scope)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	plan := models.FindPlan(plans, planID)
	if plan == nil {
		return nil, fmt.Errorf("%s: %w", op, models.ErrPlanNotFound)
	}
	if !plan.HasTrial() {
		return nil, fmt.Errorf("%s: %w", op, models.ErrTrialNotSupported)
	}
	if acc.site.HadTrialPlan() {
		return nil, fmt.Errorf("%s: %w", op, models.ErrTrialUsed)
	}

	res, err := r.client.Call(ctx, remote.ScopeInstall, acc.installCreds(), http.MethodPost, "trials.json", map[string]any{"plan_id": planID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	site, err := r.mergeSite(acc.site, res)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	site.UserID = acc.site.UserID
	r.checkClone(ctx, blogID, site)
	if err := r.store.SaveSite(ctx, blogID, site); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r.bus.Emit(ctx, events.TrialStarted, blogID, map[string]any{"plan_id": planID})
	log.Info("trial started", slog.Int64("plan_id", planID))
	return site, nil
}

// CancelTrialOrSubscription отменяет пробный период, если он идёт, иначе
// подписку текущей лицензии. Отсутствие подписки возвращает ErrNoSubscription.
func (r *Resolver) CancelTrialOrSubscription(ctx context.Context, blogID int64) error {
	const op = "license.CancelTrialOrSubscription"
	log := r.log.With(slog.String("op", op), slog.Int64("blog_id", blogID))

	acc, err := r.load(ctx, blogID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if acc.site.IsTrial(r.now()) {
		res, err := r.client.Call(ctx, remote.ScopeInstall, acc.installCreds(), http.MethodDelete, "trials.json", nil)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		site, err := r.mergeSite(acc.site, res)
		if err != nil {
			site = acc.site.Clone()
			site.TrialEnds = nil
		} else {
			r.checkClone(ctx, blogID, site)
		}
		site.UserID = acc.site.UserID
		if err := r.store.SaveSite(ctx, blogID, site); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		r.bus.Emit(ctx, events.TrialCancelled, blogID, map[string]any{"plan_id": site.PlanID})
		log.Info("trial cancelled")
		return nil
	}

	if !acc.site.HasLicense() {
		return fmt.Errorf("%s: %w", op, models.ErrNoSubscription)
	}
	sub, err := r.fetchSubscription(ctx, acc, *acc.site.LicenseID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if sub == nil {
		return fmt.Errorf("%s: %w", op, models.ErrNoSubscription)
	}

	path := fmt.Sprintf("licenses/%d/subscriptions/%d.json", sub.LicenseID, sub.ID)
	if _, err := r.client.Call(ctx, remote.ScopeInstall, acc.installCreds(), http.MethodDelete, path, nil); err != nil {
		if remote.IsNotFound(err) {
			return fmt.Errorf("%s: %w", op, models.ErrNoSubscription)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	sub.IsActive = false

	list, err := r.store.Subscriptions(ctx, acc.scope)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := r.store.Set(ctx, acc.scope, store.KeySubscriptions, upsertSubscription(list, sub)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	r.bus.Emit(ctx, events.SubscriptionCancelled, blogID, map[string]any{
		"subscription_id": sub.ID,
		"license_id":      sub.LicenseID,
	})
	log.Info("subscription cancelled", slog.Int64("subscription_id", sub.ID))
	return nil
}
