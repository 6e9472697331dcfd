package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Site описывает установку модуля на одном логическом сайте (блоге).
type Site struct {
	ID            int64      `json:"id"`
	PublicKey     string     `json:"public_key"`
	SecretKey     string     `json:"secret_key"`
	UserID        int64      `json:"user_id"`
	PlanID        int64      `json:"plan_id"`
	LicenseID     *int64     `json:"license_id"`
	TrialPlanID   *int64     `json:"trial_plan_id"`
	TrialEnds     *time.Time `json:"trial_ends"`
	IsBeta        bool       `json:"is_beta"`
	URL           string     `json:"url"`
	Title         string     `json:"title,omitempty"`
	Version       string     `json:"version,omitempty"`
	IsUninstalled bool       `json:"is_uninstalled"`
}

// IsValid сообщает, что установка заполнена полностью.
// Частично заполненная установка считается отсутствующей.
func (s *Site) IsValid() bool {
	return s != nil && s.ID > 0 && s.UserID > 0 && s.PlanID > 0
}

// HasLicense сообщает, привязана ли лицензия.
func (s *Site) HasLicense() bool {
	return s != nil && s.LicenseID != nil && *s.LicenseID > 0
}

// IsTrial сообщает, идёт ли пробный период на момент now.
func (s *Site) IsTrial(now time.Time) bool {
	return s != nil && s.TrialPlanID != nil && s.TrialEnds != nil && s.TrialEnds.After(now)
}

// HadTrialPlan сообщает, что установка когда-либо получала пробный план.
func (s *Site) HadTrialPlan() bool {
	return s != nil && s.TrialPlanID != nil && *s.TrialPlanID > 0
}

// Clone возвращает глубокую копию установки.
func (s *Site) Clone() *Site {
	if s == nil {
		return nil
	}
	c := *s
	c.LicenseID = cloneID(s.LicenseID)
	c.TrialPlanID = cloneID(s.TrialPlanID)
	if s.TrialEnds != nil {
		t := *s.TrialEnds
		c.TrialEnds = &t
	}
	return &c
}

// ParseSite разбирает установку из JSON. Неполная установка отвергается.
func ParseSite(raw []byte) (*Site, error) {
	const op = "models.ParseSite"
	var s Site
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !s.IsValid() {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidEntity)
	}
	return &s, nil
}

// ID возвращает указатель на копию id. Удобно для nullable полей.
func ID(id int64) *int64 {
	return &id
}

// SameID сравнивает два nullable идентификатора.
func SameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// TrialChanged сообщает, изменились ли пробный план или дата его окончания.
func TrialChanged(old, updated *Site) bool {
	if old == nil || updated == nil {
		return old != updated
	}
	return !SameID(old.TrialPlanID, updated.TrialPlanID) || !sameTime(old.TrialEnds, updated.TrialEnds)
}
