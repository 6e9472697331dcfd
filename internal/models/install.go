package models

import "strings"

// InstallData набор метаданных установки, который отправляется на сервер.
// Сохраняется последний подтверждённый сервером снимок, и при синхронизации
// отправляются только изменившиеся поля.
type InstallData struct {
	URL             string `json:"url"`
	Title           string `json:"title"`
	Version         string `json:"version"`
	Language        string `json:"language"`
	PlatformVersion string `json:"platform_version"`
	SDKVersion      string `json:"sdk_version"`
	IsActive        bool   `json:"is_active"`
	IsUninstalled   bool   `json:"is_uninstalled"`
}

// Diff возвращает поля, которые отличаются от prev. Если prev равен nil,
// возвращаются все поля.
func (d InstallData) Diff(prev *InstallData) map[string]any {
	diff := make(map[string]any)
	if prev == nil || prev.URL != d.URL {
		diff["url"] = d.URL
	}
	if prev == nil || prev.Title != d.Title {
		diff["title"] = d.Title
	}
	if prev == nil || prev.Version != d.Version {
		diff["version"] = d.Version
	}
	if prev == nil || prev.Language != d.Language {
		diff["language"] = d.Language
	}
	if prev == nil || prev.PlatformVersion != d.PlatformVersion {
		diff["platform_version"] = d.PlatformVersion
	}
	if prev == nil || prev.SDKVersion != d.SDKVersion {
		diff["sdk_version"] = d.SDKVersion
	}
	if prev == nil || prev.IsActive != d.IsActive {
		diff["is_active"] = d.IsActive
	}
	if prev == nil || prev.IsUninstalled != d.IsUninstalled {
		diff["is_uninstalled"] = d.IsUninstalled
	}
	return diff
}

// NormalizeURL убирает протокол и завершающий слэш, чтобы адреса
// сравнивались без учёта схемы.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(strings.ToLower(raw))
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	return strings.TrimRight(u, "/")
}
