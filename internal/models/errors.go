package models

import "errors"

// Ожидаемые доменные ошибки. Проверяются через errors.Is.
var (
	ErrInvalidEntity     = errors.New("entity has no concrete id")
	ErrNotRegistered     = errors.New("module is not registered")
	ErrAlreadyRegistered = errors.New("module is already registered")
	ErrNotPending        = errors.New("no pending activation")
	ErrNoLicense         = errors.New("license not found")
	ErrLicenseMismatch   = errors.New("license does not cover this module")
	ErrInsufficientQuota = errors.New("insufficient license quota")
	ErrTrialNotSupported = errors.New("plan does not support trial")
	ErrTrialUsed         = errors.New("trial already started")
	ErrNoSubscription    = errors.New("not on a subscription")
	ErrPlanNotFound      = errors.New("plan not found")
	ErrNotNetwork        = errors.New("not a network install")
	ErrTransferExpired   = errors.New("ownership transfer expired")
	ErrTransferInvalid   = errors.New("ownership transfer token invalid")
	ErrLocked            = errors.New("operation is locked")
	ErrNotClone          = errors.New("install is not a clone")
)
