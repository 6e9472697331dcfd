package models

import (
	"encoding/json"
	"fmt"
)

// FreePlanName имя бесплатного плана, который создаётся локально,
// если у модуля нет платных планов.
const FreePlanName = "free"

// Plan описывает тарифный план модуля. План не меняется после получения.
type Plan struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Title           string `json:"title"`
	TrialPeriod     int    `json:"trial_period"` // дней, 0 если пробного периода нет
	IsRequireSubscr bool   `json:"is_require_subscription"`
	IsFeatured      bool   `json:"is_featured"`
	IsHidden        bool   `json:"is_hidden"`
}

// HasTrial сообщает, поддерживает ли план пробный период.
func (p *Plan) HasTrial() bool {
	return p != nil && p.TrialPeriod > 0
}

// RequiresPayment сообщает, требует ли пробный период платёжного метода.
func (p *Plan) RequiresPayment() bool {
	return p != nil && p.IsRequireSubscr
}

// IsFree сообщает, что это бесплатный план.
func (p *Plan) IsFree() bool {
	return p != nil && p.Name == FreePlanName
}

// FreePlan синтезирует бесплатный план для модуля без платных планов.
func FreePlan(id int64) *Plan {
	return &Plan{ID: id, Name: FreePlanName, Title: "Free"}
}

// ParsePlan разбирает план из JSON и проверяет идентификатор.
func ParsePlan(raw []byte) (*Plan, error) {
	const op = "models.ParsePlan"
	var p Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if p.ID <= 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidEntity)
	}
	return &p, nil
}

// FindPlan ищет план по идентификатору.
func FindPlan(plans []*Plan, id int64) *Plan {
	for _, p := range plans {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// HasPaidPlan сообщает, есть ли среди планов платный.
func HasPaidPlan(plans []*Plan) bool {
	for _, p := range plans {
		if !p.IsFree() {
			return true
		}
	}
	return false
}

// HasFreePlan сообщает, есть ли среди планов бесплатный.
func HasFreePlan(plans []*Plan) bool {
	for _, p := range plans {
		if p.IsFree() {
			return true
		}
	}
	return false
}
