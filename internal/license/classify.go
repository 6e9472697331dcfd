package license

import (
	"time"

	"github.com/magabrotheeeer/license-sync/internal/models"
)

// Change классификация изменения плана после синхронизации.
type Change string

const (
	ChangeTrialStarted Change = "trial_started"
	ChangeTrialExpired Change = "trial_expired"
	ChangeCancelled    Change = "cancelled"
	ChangeActivated    Change = "activated"
	ChangeUpgraded     Change = "upgraded"
	ChangeDowngraded   Change = "downgraded"
	ChangeChanged      Change = "changed"
	ChangeNone         Change = "none"
)

// Transition входные данные классификатора: установка и лицензия до и после
// синхронизации. Ранг плана равен его позиции в списке планов модуля.
type Transition struct {
	OldSite     *models.Site
	NewSite     *models.Site
	OldLicense  *models.License
	NewLicense  *models.License
	OldPlanRank int
	NewPlanRank int
	HasFreePlan bool
	Now         time.Time
}

func (t Transition) trialChanged() bool {
	return models.TrialChanged(t.OldSite, t.NewSite)
}

func (t Transition) planChanged() bool {
	return t.OldSite.PlanID != t.NewSite.PlanID
}

func (t Transition) licenseChanged() bool {
	return !models.SameID(t.OldSite.LicenseID, t.NewSite.LicenseID)
}

func (t Transition) oldValid() bool {
	return t.OldSite.HasLicense() && t.OldLicense.IsValid(t.Now)
}

func (t Transition) newValid() bool {
	return t.NewSite.HasLicense() && t.NewLicense.IsValid(t.Now)
}

type rule struct {
	match  func(Transition) bool
	change func(Transition) Change
}

func fixed(c Change) func(Transition) Change {
	return func(Transition) Change { return c }
}

// rules упорядоченная таблица: первое совпадение определяет результат.
var rules = []rule{
	{
		match: func(t Transition) bool {
			return t.trialChanged() && t.NewSite.IsTrial(t.Now)
		},
		change: fixed(ChangeTrialStarted),
	},
	{
		match: func(t Transition) bool {
			return t.trialChanged() && t.OldSite.HadTrialPlan() && !t.NewSite.IsTrial(t.Now) && !t.NewSite.HasLicense()
		},
		change: fixed(ChangeTrialExpired),
	},
	{
		match: func(t Transition) bool {
			return t.licenseChanged() && t.OldSite.HasLicense() && !t.NewSite.HasLicense() &&
				t.OldLicense != nil && t.OldLicense.IsCancelled
		},
		change: fixed(ChangeCancelled),
	},
	{
		match: func(t Transition) bool {
			if !t.newValid() {
				return false
			}
			newlyPresent := t.licenseChanged() && !t.oldValid()
			improved := (t.planChanged() || t.licenseChanged()) && t.NewPlanRank > t.OldPlanRank
			return newlyPresent || improved
		},
		change: func(t Transition) Change {
			if t.HasFreePlan {
				return ChangeUpgraded
			}
			return ChangeActivated
		},
	},
	{
		match: func(t Transition) bool {
			if !t.planChanged() && !t.licenseChanged() {
				return false
			}
			if t.oldValid() && !t.newValid() {
				return true
			}
			return t.planChanged() && t.NewPlanRank < t.OldPlanRank
		},
		change: fixed(ChangeDowngraded),
	},
	{
		match: func(t Transition) bool {
			return t.licenseChanged() && t.newValid()
		},
		change: fixed(ChangeChanged),
	},
}

// Classify возвращает классификацию перехода. Функция чистая: одинаковые
// входные данные всегда дают одинаковый результат.
func Classify(t Transition) Change {
	if t.OldSite == nil || t.NewSite == nil {
		return ChangeNone
	}
	for _, r := range rules {
		if r.match(t) {
			return r.change(t)
		}
	}
	return ChangeNone
}

// PlanRank возвращает позицию плана в списке или -1.
func PlanRank(plans []*models.Plan, planID int64) int {
	for i, p := range plans {
		if p.ID == planID {
			return i
		}
	}
	return -1
}
