package license

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/magabrotheeeer/license-sync/internal/events"
	"github.com/magabrotheeeer/license-sync/internal/remote"
	"github.com/magabrotheeeer/license-sync/internal/store"
)

// CheckUpdate запрашивает последнюю версию модуля для установки блога.
// Версия запоминается, только если она новее установленной. Если новой
// версии нет, возвращается nil.
func (r *Resolver) CheckUpdate(ctx context.Context, blogID int64) (*store.Update, error) {
	const op = "license.CheckUpdate"

	acc, err := r.load(ctx, blogID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res, err := r.client.Call(ctx, remote.ScopeInstall, acc.installCreds(), http.MethodGet, "updates/latest.json", nil)
	if err != nil {
		if remote.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var latest store.Update
	if err := res.Decode(&latest); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	installed := r.module.Version
	if data, err := r.env.InstallData(ctx, blogID); err == nil && data.Version != "" {
		installed = data.Version
	}
	if !IsNewer(latest.Version, installed) {
		return nil, nil
	}

	list, err := r.store.Updates(ctx, acc.scope)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	list = slices.DeleteFunc(list, func(u store.Update) bool { return u.Version == latest.Version })
	list = append(list, latest)
	if err := r.store.SaveUpdates(ctx, acc.scope, list); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r.bus.Emit(ctx, events.UpdateAvailable, blogID, map[string]any{
		"version":   latest.Version,
		"installed": installed,
	})
	r.log.Info("update available", slog.Int64("blog_id", blogID), slog.String("version", latest.Version))
	return &latest, nil
}

// IsNewer сообщает, что версия candidate новее current. Некорректная
// candidate никогда не считается новой.
func IsNewer(candidate, current string) bool {
	c := canonical(candidate)
	if !semver.IsValid(c) {
		return false
	}
	cur := canonical(current)
	if !semver.IsValid(cur) {
		return true
	}
	return semver.Compare(c, cur) > 0
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
