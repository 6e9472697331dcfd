package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// License описывает лицензию пользователя на модуль или на пакет модулей.
type License struct {
	ID              int64      `json:"id"`
	PluginID        int64      `json:"plugin_id"`
	UserID          int64      `json:"user_id"`
	PlanID          int64      `json:"plan_id"`
	PricingID       int64      `json:"pricing_id,omitempty"`
	ParentLicenseID *int64     `json:"parent_license_id"`
	Products        []int64    `json:"products,omitempty"`
	SecretKey       string     `json:"secret_key"`
	Quota           *int       `json:"quota"` // nil означает безлимитную лицензию
	Activated       int        `json:"activated"`
	ActivatedLocal  int        `json:"activated_local"`
	Expiration      *time.Time `json:"expiration"` // nil означает пожизненную лицензию
	IsCancelled     bool       `json:"is_cancelled"`
	IsWhitelabeled  bool       `json:"is_whitelabeled"`
	IsFreeLocalhost bool       `json:"is_free_localhost"`
	IsBlockFeatures bool       `json:"is_block_features"`
}

// IsValidEntity сообщает, что у лицензии есть конкретный идентификатор.
func (l *License) IsValidEntity() bool {
	return l != nil && l.ID > 0
}

// IsLifetime сообщает, что у лицензии нет срока действия.
func (l *License) IsLifetime() bool {
	return l.Expiration == nil
}

// IsExpired сообщает, истёк ли срок действия на момент now.
func (l *License) IsExpired(now time.Time) bool {
	return !l.IsLifetime() && !l.Expiration.After(now)
}

// IsUnlimited сообщает, что квота активаций не ограничена.
func (l *License) IsUnlimited() bool {
	return l.Quota == nil
}

// Left возвращает число оставшихся активаций. Для безлимитной лицензии
// возвращается -1.
func (l *License) Left() int {
	if l.IsUnlimited() {
		return -1
	}
	used := l.Activated
	if !l.IsFreeLocalhost {
		used += l.ActivatedLocal
	}
	if left := *l.Quota - used; left > 0 {
		return left
	}
	return 0
}

// HasQuotaFor сообщает, хватит ли квоты на n новых активаций.
func (l *License) HasQuotaFor(n int) bool {
	return l.IsUnlimited() || l.Left() >= n
}

// CanActivate сообщает, можно ли активировать лицензию ещё на одной установке.
func (l *License) CanActivate() bool {
	return !l.IsCancelled && l.HasQuotaFor(1)
}

// IsActive сообщает, что лицензия не отменена и использует квоту.
func (l *License) IsActive() bool {
	return !l.IsCancelled && (l.IsUnlimited() || *l.Quota > 0)
}

// IsValid сообщает, что лицензия активна и не истекла на момент now.
func (l *License) IsValid(now time.Time) bool {
	return l != nil && l.IsActive() && !l.IsExpired(now)
}

// IsFeaturesEnabled сообщает, доступны ли платные функции. После истечения
// срока функции остаются доступны, если лицензия их не блокирует.
func (l *License) IsFeaturesEnabled(now time.Time) bool {
	return l != nil && l.IsActive() && (!l.IsExpired(now) || !l.IsBlockFeatures)
}

// IsBundle сообщает, что лицензия покрывает несколько модулей.
func (l *License) IsBundle() bool {
	return len(l.Products) > 0
}

// CoversModule сообщает, покрывает ли лицензия модуль напрямую или через пакет.
func (l *License) CoversModule(moduleID int64) bool {
	if l == nil {
		return false
	}
	return l.PluginID == moduleID || slices.Contains(l.Products, moduleID)
}

// ParseLicense разбирает лицензию из JSON и проверяет идентификатор.
func ParseLicense(raw []byte) (*License, error) {
	const op = "models.ParseLicense"
	var l License
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !l.IsValidEntity() {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidEntity)
	}
	return &l, nil
}

// FindLicense ищет лицензию по идентификатору.
func FindLicense(licenses []*License, id int64) *License {
	for _, l := range licenses {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// FindLicenseByKey ищет лицензию по секретному ключу.
func FindLicenseByKey(licenses []*License, key string) *License {
	for _, l := range licenses {
		if key != "" && l.SecretKey == key {
			return l
		}
	}
	return nil
}
