package models

// Module описывает лицензируемый модуль, экземпляр которого работает в хосте.
type Module struct {
	ID          int64
	Slug        string
	PublicKey   string
	Version     string
	IsPremium   bool
	HasFreePlan bool
}
