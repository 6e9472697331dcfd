package models

import (
	"encoding/json"
	"fmt"
)

// BillingCycle период оплаты подписки в месяцах.
type BillingCycle int

const (
	BillingMonthly  BillingCycle = 1
	BillingAnnual   BillingCycle = 12
	BillingLifetime BillingCycle = 0
)

// Subscription описывает подписку, оплачивающую лицензию.
type Subscription struct {
	ID           int64        `json:"id"`
	LicenseID    int64        `json:"license_id"`
	UserID       int64        `json:"user_id,omitempty"`
	BillingCycle BillingCycle `json:"billing_cycle"`
	IsActive     bool         `json:"is_active"`
}

// ParseSubscription разбирает подписку из JSON и проверяет идентификатор.
func ParseSubscription(raw []byte) (*Subscription, error) {
	const op = "models.ParseSubscription"
	var s Subscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if s.ID <= 0 || s.LicenseID <= 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidEntity)
	}
	return &s, nil
}
