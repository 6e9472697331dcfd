package store

import "strconv"

// Имена опций. Сущности хранятся целиком, запись последнего побеждает.
const (
	KeySite          = "site"
	KeyPlans         = "plans"
	KeySubscriptions = "subscriptions"
	KeyUpdates       = "updates"

	KeyAnonymous          = "is_anonymous"
	KeyDelegated          = "is_delegated_connection"
	KeyPendingActivation  = "is_pending_activation"
	KeyPendingRecord      = "pending_activation"
	KeyNetworkUserID      = "network_user_id"
	KeyNetworkInstallBlog = "network_install_blog_id"
	KeyNetworkUpgrade     = "is_network_upgrade_pending"
	KeyNetworkMigrated    = "network_migrated"
	KeyInstallSnapshot    = "install_data"
	KeySyncState          = "sync_state"
	KeyCloneState         = "clone_state"
	KeySoftExpiryNotified = "soft_expiry_notified_at"
	KeyNotices            = "notices"
	KeyTransfer           = "owner_transfer"
	KeyRegisteredAt       = "registered_at"
)

// KeyUser имя опции пользователя id.
func KeyUser(id int64) string {
	return "user:" + strconv.FormatInt(id, 10)
}

// KeyLicenses имя опции лицензий модуля.
func KeyLicenses(moduleID int64) string {
	return "licenses:" + strconv.FormatInt(moduleID, 10)
}

// KeyUserLicenses имя индекса лицензий пользователя.
func KeyUserLicenses(userID int64) string {
	return "user_licenses:" + strconv.FormatInt(userID, 10)
}

// accountKeys опции области аккаунта, которые копируются в сетевую область
// при переходе на сетевое хранение.
func accountKeys(moduleID int64) []string {
	return []string{KeyLicenses(moduleID), KeyPlans, KeySubscriptions, KeyUpdates}
}
