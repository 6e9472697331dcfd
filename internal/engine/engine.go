// Package engine собирает экземпляр движка одного модуля из хранилища,
// удалённого клиента и окружения хоста и ведёт реестр экземпляров.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/license-sync/internal/account"
	"github.com/magabrotheeeer/license-sync/internal/clone"
	"github.com/magabrotheeeer/license-sync/internal/config"
	"github.com/magabrotheeeer/license-sync/internal/events"
	"github.com/magabrotheeeer/license-sync/internal/host"
	"github.com/magabrotheeeer/license-sync/internal/license"
	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/multisite"
	"github.com/magabrotheeeer/license-sync/internal/notice"
	"github.com/magabrotheeeer/license-sync/internal/ownership"
	"github.com/magabrotheeeer/license-sync/internal/remote"
	"github.com/magabrotheeeer/license-sync/internal/scheduler"
	"github.com/magabrotheeeer/license-sync/internal/store"
)

// ConfigError отсутствует обязательный параметр инициализации.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("engine: missing required parameter %q", e.Field)
}

// Params параметры экземпляра.
type Params struct {
	Module      models.Module
	Store       *store.Store
	Client      remote.Client
	Env         host.Environment
	Sync        config.Sync
	LockTTL     time.Duration
	TransferTTL time.Duration
	Log         *slog.Logger
}

// ModuleFromConfig переводит секцию конфигурации в описание модуля.
func ModuleFromConfig(cfg config.Module) models.Module {
	return models.Module{
		ID:          cfg.ModuleID,
		Slug:        cfg.Slug,
		PublicKey:   cfg.PublicKey,
		Version:     cfg.Version,
		IsPremium:   cfg.IsPremium,
		HasFreePlan: cfg.HasFreePlan,
	}
}

func (p Params) check() error {
	switch {
	case p.Module.ID <= 0:
		return &ConfigError{Field: "module_id"}
	case p.Module.Slug == "":
		return &ConfigError{Field: "slug"}
	case p.Module.PublicKey == "":
		return &ConfigError{Field: "public_key"}
	case p.Store == nil:
		return &ConfigError{Field: "store"}
	case p.Client == nil:
		return &ConfigError{Field: "remote_client"}
	case p.Env == nil:
		return &ConfigError{Field: "host"}
	}
	if p.Store.ModuleID() != p.Module.ID || p.Store.Slug() != p.Module.Slug {
		return &ConfigError{Field: "store"}
	}
	return nil
}

// Instance движок одного модуля: все сервисы над общим хранилищем,
// клиентом и шиной событий.
type Instance struct {
	Module    models.Module
	Store     *store.Store
	Bus       *events.Bus
	Notices   *notice.Queue
	Account   *account.Service
	License   *license.Resolver
	Multisite *multisite.Manager
	Clones    *clone.Detector
	Scheduler *scheduler.Service
	Ownership *ownership.Service
	env       host.Environment
	log       *slog.Logger
}

// NewInstance собирает экземпляр и связывает сервисы между собой.
// Паникует с *ConfigError при отсутствии обязательного параметра.
func NewInstance(p Params) *Instance {
	if err := p.check(); err != nil {
		panic(err)
	}
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.Int64("module_id", p.Module.ID), slog.String("slug", p.Module.Slug))

	bus := events.NewBus(p.Module.ID)
	notices := notice.NewQueue(p.Store, log)

	acc := account.New(p.Store, p.Client, p.Env, bus, notices, p.Module, log)
	resolver := license.New(p.Store, p.Client, p.Env, bus, notices, p.Module, license.Options{
		SoftExpiryInterval: p.Sync.SoftExpiryInterval,
		LockTTL:            p.LockTTL,
	}, log)
	manager := multisite.New(p.Store, p.Client, p.Env, bus, p.Module, log)
	clones := clone.New(p.Store, p.Client, p.Env, bus, notices, p.Sync.CloneResolutionTime, log)
	sched := scheduler.New(p.Store, resolver, p.Env, bus, notices, p.Sync, log)
	owners := ownership.New(p.Store, p.Client, p.Env, bus, p.TransferTTL, log)

	acc.SetScheduler(sched)
	resolver.SetBulkActivator(manager)
	resolver.SetCloneChecker(clones)
	clones.SetRegistrar(acc)

	return &Instance{
		Module:    p.Module,
		Store:     p.Store,
		Bus:       bus,
		Notices:   notices,
		Account:   acc,
		License:   resolver,
		Multisite: manager,
		Clones:    clones,
		Scheduler: sched,
		Ownership: owners,
		env:       p.Env,
		log:       log,
	}
}

// Env окружение хоста экземпляра.
func (i *Instance) Env() host.Environment {
	return i.env
}

// BlogState сводное состояние блога для админки.
type BlogState struct {
	BlogID   int64                  `json:"blog_id"`
	Account  account.State          `json:"account"`
	Posture  multisite.Posture      `json:"posture,omitempty"`
	Site     *models.Site           `json:"site,omitempty"`
	License  *models.License        `json:"license,omitempty"`
	Sync     scheduler.State        `json:"sync"`
	Clone    clone.Record           `json:"clone"`
	Transfer *ownership.Transfer    `json:"transfer,omitempty"`
	Notices  []notice.Notice        `json:"notices"`
	Updates  []store.Update         `json:"updates,omitempty"`
	Pending  *account.PendingRecord `json:"pending,omitempty"`
}

// State собирает сводное состояние блога.
func (i *Instance) State(ctx context.Context, blogID int64) (*BlogState, error) {
	const op = "engine.State"
	st := &BlogState{BlogID: blogID}
	var err error

	if st.Account, err = i.Account.State(ctx, blogID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if i.Store.IsNetworkActive() {
		if st.Posture, err = i.Multisite.Posture(ctx, blogID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if st.Site, st.License, err = i.License.Current(ctx, blogID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if st.Sync, err = i.Scheduler.State(ctx, blogID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if st.Clone, err = i.Clones.Record(ctx, blogID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if st.Transfer, err = i.Ownership.Pending(ctx, blogID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if st.Notices, err = i.Notices.List(ctx, blogID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if st.Updates, err = i.Store.Updates(ctx, i.Store.AccountScope(blogID)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if st.Pending, err = i.Account.Pending(ctx, blogID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return st, nil
}
