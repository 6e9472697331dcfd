package license

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/remote"
	"github.com/magabrotheeeer/license-sync/internal/store"
)

const (
	lockSubscriptionsGC = "subscriptions_gc"
	gcMinSubscriptions  = 3
)

// fetchSubscription возвращает подписку лицензии или nil, если её нет.
func (r *Resolver) fetchSubscription(ctx context.Context, acc account, licenseID int64) (*models.Subscription, error) {
	path := fmt.Sprintf("licenses/%d/subscription.json", licenseID)
	res, err := r.client.Call(ctx, remote.ScopeInstall, acc.installCreds(), http.MethodGet, path, nil)
	if err != nil {
		if remote.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	sub, err := models.ParseSubscription(res.Body())
	if err != nil {
		r.log.Debug("skipping invalid subscription", slog.Int64("license_id", licenseID), sl.Err(err))
		return nil, nil
	}
	return sub, nil
}

// syncSubscription дописывает подписку текущей лицензии в накопленный список.
// nil означает, что список менять не нужно.
func (r *Resolver) syncSubscription(ctx context.Context, acc account, site *models.Site) ([]*models.Subscription, error) {
	if !site.HasLicense() {
		return nil, nil
	}
	sub, err := r.fetchSubscription(ctx, acc, *site.LicenseID)
	if err != nil || sub == nil {
		return nil, err
	}
	list, err := r.store.Subscriptions(ctx, acc.scope)
	if err != nil {
		return nil, err
	}
	return upsertSubscription(list, sub), nil
}

func upsertSubscription(list []*models.Subscription, sub *models.Subscription) []*models.Subscription {
	if i := slices.IndexFunc(list, func(s *models.Subscription) bool { return s.ID == sub.ID }); i >= 0 {
		list[i] = sub
		return list
	}
	return append(list, sub)
}

// collectSubscriptions чистит накопленные подписки: когда их набралось
// несколько, а установки ссылаются ровно на одну лицензию, остаются только
// подписки этой лицензии.
func (r *Resolver) collectSubscriptions(ctx context.Context, scope store.Scope) error {
	const op = "license.collectSubscriptions"

	unlock, ok, err := r.store.Lock(ctx, lockSubscriptionsGC, r.opts.LockTTL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil
	}
	defer unlock()

	list, err := r.store.Subscriptions(ctx, scope)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(list) < gcMinSubscriptions {
		return nil
	}

	referenced, err := r.referencedLicenses(ctx, scope)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(referenced) != 1 {
		return nil
	}
	keep := referenced[0]
	pruned := slices.DeleteFunc(slices.Clone(list), func(s *models.Subscription) bool {
		return s.LicenseID != keep
	})
	if len(pruned) == len(list) {
		return nil
	}
	if err := r.store.Set(ctx, scope, store.KeySubscriptions, pruned); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	r.log.Info("subscriptions pruned", "scope", scope.String(), "removed", len(list)-len(pruned))
	return nil
}

// referencedLicenses возвращает различные лицензии установок области.
func (r *Resolver) referencedLicenses(ctx context.Context, scope store.Scope) ([]int64, error) {
	blogIDs := []int64{scope.BlogID()}
	if scope.IsNetwork() {
		ids, err := r.env.BlogIDs(ctx)
		if err != nil {
			return nil, err
		}
		blogIDs = ids
	}
	var out []int64
	for _, id := range blogIDs {
		site, err := r.store.Site(ctx, id)
		if err != nil {
			return nil, err
		}
		if site.HasLicense() && !slices.Contains(out, *site.LicenseID) {
			out = append(out, *site.LicenseID)
		}
	}
	return out, nil
}
