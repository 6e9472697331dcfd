package multisite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/magabrotheeeer/license-sync/internal/events"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
	"github.com/magabrotheeeer/license-sync/internal/metrics"
	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/remote"
	"github.com/magabrotheeeer/license-sync/internal/store"
)

// Partition разбиение блогов для массовой активации.
type Partition struct {
	// Unlicensed блоги с установкой без лицензии.
	Unlicensed map[int64]*models.Site
	// Unregistered блоги без установки.
	Unregistered []int64
	// Licensed блоги, у которых лицензия уже есть.
	Licensed []int64
}

// Required число активаций, которое потребуется.
func (p Partition) Required() int {
	return len(p.Unlicensed) + len(p.Unregistered)
}

func (m *Manager) partition(ctx context.Context, blogIDs []int64) (Partition, error) {
	p := Partition{Unlicensed: make(map[int64]*models.Site)}
	for _, id := range blogIDs {
		site, err := m.store.Site(ctx, id)
		if err != nil {
			return p, err
		}
		switch {
		case site == nil:
			p.Unregistered = append(p.Unregistered, id)
		case site.HasLicense():
			p.Licensed = append(p.Licensed, id)
		default:
			p.Unlicensed[id] = site
		}
	}
	return p, nil
}

// BulkActivate активирует лицензию на блогах сети двумя пакетными вызовами:
// привязка к существующим установкам и создание установок с привязкой.
// Если квоты не хватает на все блоги, ничего не меняется и возвращается
// ErrInsufficientQuota. Возвращается лицензия с подтверждённым счётчиком
// активаций или nil, если ни один блог не изменился.
func (m *Manager) BulkActivate(ctx context.Context, l *models.License, blogIDs []int64) (*models.License, error) {
	const op = "multisite.BulkActivate"
	log := m.log.With(slog.String("op", op), slog.Int64("license_id", l.ID))

	if !m.store.IsNetworkActive() {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotNetwork)
	}
	p, err := m.partition(ctx, blogIDs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if p.Required() == 0 {
		return nil, nil
	}
	if !l.HasQuotaFor(p.Required()) {
		metrics.BulkActivations.WithLabelValues("aborted").Inc()
		log.Info("bulk activation aborted", slog.Int("required", p.Required()), slog.Int("left", l.Left()))
		return nil, fmt.Errorf("%s: %w", op, models.ErrInsufficientQuota)
	}
	user, err := m.networkUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	creds := remote.Credentials{ID: user.ID, PublicKey: user.PublicKey, SecretKey: user.SecretKey}
	path := fmt.Sprintf("plugins/%d/installs.json", m.module.ID)

	activated := make(map[int64]*models.Site)
	if len(p.Unlicensed) > 0 {
		sites, err := m.attach(ctx, creds, path, l, p.Unlicensed)
		if err != nil {
			metrics.BulkActivations.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		for id, s := range sites {
			activated[id] = s
		}
	}

	var createErr error
	var created map[int64]*models.Site
	if len(p.Unregistered) > 0 {
		created, createErr = m.create(ctx, creds, path, l, p.Unregistered)
		if createErr != nil {
			log.Warn("bulk install creation failed", sl.Err(createErr))
		}
	}

	updated, err := m.persist(ctx, l, user.ID, activated, created)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if createErr != nil {
		metrics.BulkActivations.WithLabelValues("partial").Inc()
		return updated, fmt.Errorf("%s: %w", op, createErr)
	}
	metrics.BulkActivations.WithLabelValues("success").Inc()
	log.Info("bulk activation completed", slog.Int("attached", len(activated)), slog.Int("created", len(created)))
	return updated, nil
}

// attach привязывает лицензию к существующим установкам.
func (m *Manager) attach(ctx context.Context, creds remote.Credentials, path string, l *models.License, sites map[int64]*models.Site) (map[int64]*models.Site, error) {
	byInstall := make(map[int64]int64, len(sites))
	ids := make([]int64, 0, len(sites))
	for blogID, s := range sites {
		byInstall[s.ID] = blogID
		ids = append(ids, s.ID)
	}
	slices.Sort(ids)

	res, err := m.client.Call(ctx, remote.ScopeUser, creds, http.MethodPut, path, map[string]any{
		"install_ids": ids,
		"license_key": l.SecretKey,
	})
	if err != nil {
		return nil, err
	}
	items, _ := res.Collection("installs")
	out := make(map[int64]*models.Site, len(items))
	for _, raw := range items {
		site, err := models.ParseSite(raw)
		if err != nil {
			return nil, err
		}
		blogID, ok := byInstall[site.ID]
		if !ok {
			continue
		}
		local := sites[blogID]
		if site.PublicKey == "" {
			site.PublicKey = local.PublicKey
		}
		if site.SecretKey == "" {
			site.SecretKey = local.SecretKey
		}
		out[blogID] = site
	}
	return out, nil
}

// create создаёт установки для блогов без установки и привязывает к ним
// лицензию. Установки из ответа сопоставляются блогам по адресу, а при
// отсутствии совпадения по порядку.
func (m *Manager) create(ctx context.Context, creds remote.Credentials, path string, l *models.License, blogIDs []int64) (map[int64]*models.Site, error) {
	installs := make([]map[string]any, 0, len(blogIDs))
	byURL := make(map[string]int64, len(blogIDs))
	for _, id := range blogIDs {
		data, err := m.env.InstallData(ctx, id)
		if err != nil {
			return nil, err
		}
		params := data.Diff(nil)
		params["uid"] = strconv.FormatInt(m.module.ID, 10) + ":" + strconv.FormatInt(id, 10)
		installs = append(installs, params)
		byURL[models.NormalizeURL(data.URL)] = id
	}

	res, err := m.client.Call(ctx, remote.ScopeUser, creds, http.MethodPost, path, map[string]any{
		"installs":    installs,
		"license_key": l.SecretKey,
	})
	if err != nil {
		return nil, err
	}
	items, _ := res.Collection("installs")
	return mapByURL(items, byURL, blogIDs)
}

func mapByURL(items []json.RawMessage, byURL map[string]int64, blogIDs []int64) (map[int64]*models.Site, error) {
	out := make(map[int64]*models.Site, len(items))
	for i, raw := range items {
		site, err := models.ParseSite(raw)
		if err != nil {
			return nil, err
		}
		blogID, ok := byURL[models.NormalizeURL(site.URL)]
		if !ok && i < len(blogIDs) {
			blogID = blogIDs[i]
		}
		if blogID != 0 {
			out[blogID] = site
		}
	}
	return out, nil
}

// persist сохраняет подтверждённые сервером установки, каждую отдельной
// транзакцией, и увеличивает счётчик активаций лицензии.
func (m *Manager) persist(ctx context.Context, l *models.License, userID int64, attached, created map[int64]*models.Site) (*models.License, error) {
	now := m.now().UTC()
	for blogID, site := range attached {
		site.UserID = userID
		if err := m.store.Batch().SetSite(blogID, site).Commit(ctx); err != nil {
			return nil, err
		}
	}
	for blogID, site := range created {
		site.UserID = userID
		err := m.store.Batch().
			SetSite(blogID, site).
			Set(store.Blog(blogID), store.KeyRegisteredAt, now).
			Delete(store.Blog(blogID), store.KeyAnonymous, store.KeyDelegated, store.KeyPendingActivation).
			Commit(ctx)
		if err != nil {
			return nil, err
		}
	}

	n := len(attached) + len(created)
	if n == 0 {
		return nil, nil
	}
	licenses, err := m.store.Licenses(ctx, store.Network())
	if err != nil {
		return nil, err
	}
	updated := *l
	updated.Activated += n
	if i := slices.IndexFunc(licenses, func(x *models.License) bool { return x.ID == l.ID }); i >= 0 {
		licenses[i] = &updated
	} else {
		licenses = append(licenses, &updated)
	}
	if err := m.store.SaveLicenses(ctx, store.Network(), licenses); err != nil {
		return nil, err
	}

	for blogID := range attached {
		m.bus.Emit(ctx, events.LicenseActivated, blogID, map[string]any{"license_id": l.ID, "bulk": true})
	}
	for blogID := range created {
		m.bus.Emit(ctx, events.AccountConnected, blogID, map[string]any{"user_id": userID, "bulk": true})
		m.bus.Emit(ctx, events.LicenseActivated, blogID, map[string]any{"license_id": l.ID, "bulk": true})
	}
	return &updated, nil
}
