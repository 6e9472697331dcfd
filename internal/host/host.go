// Package host описывает окружение хост-приложения, в которое встроен модуль:
// список блогов сети, их адреса и метаданные установки.
package host

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/magabrotheeeer/license-sync/internal/config"
	"github.com/magabrotheeeer/license-sync/internal/models"
)

// Environment контракт хост-приложения.
type Environment interface {
	IsNetwork() bool
	IsNetworkActive() bool
	MainBlogID() int64
	BlogIDs(ctx context.Context) ([]int64, error)
	SiteURL(ctx context.Context, blogID int64) (string, error)
	InstallData(ctx context.Context, blogID int64) (models.InstallData, error)
}

// Static окружение из конфигурации. Адреса блогов можно менять во время работы,
// например когда сайт скопирован на другой домен.
type Static struct {
	mu            sync.RWMutex
	network       bool
	networkActive bool
	mainBlogID    int64
	version       string
	blogs         map[int64]models.InstallData
}

// NewStatic создаёт окружение из настроек сети и модуля.
func NewStatic(net config.Network, module config.Module) *Static {
	s := &Static{
		network:       net.IsNetwork,
		networkActive: net.IsNetwork && net.IsNetworkActive,
		mainBlogID:    net.MainBlogID,
		version:       module.Version,
		blogs:         make(map[int64]models.InstallData),
	}
	if s.mainBlogID <= 0 {
		s.mainBlogID = 1
	}
	for _, b := range net.Blogs {
		s.blogs[b.ID] = models.InstallData{
			URL:      b.URL,
			Title:    b.Title,
			Version:  module.Version,
			Language: "en-US",
			IsActive: true,
		}
	}
	return s
}

// IsNetwork сообщает, что хост работает как сеть сайтов.
func (s *Static) IsNetwork() bool { return s.network }

// IsNetworkActive сообщает, что модуль активирован на всю сеть.
func (s *Static) IsNetworkActive() bool { return s.networkActive }

// MainBlogID идентификатор главного блога.
func (s *Static) MainBlogID() int64 { return s.mainBlogID }

// BlogIDs возвращает идентификаторы блогов по возрастанию.
func (s *Static) BlogIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.blogs))
	for id := range s.blogs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// SiteURL возвращает текущий адрес блога.
func (s *Static) SiteURL(ctx context.Context, blogID int64) (string, error) {
	d, err := s.InstallData(ctx, blogID)
	if err != nil {
		return "", err
	}
	return d.URL, nil
}

// InstallData возвращает метаданные установки блога.
func (s *Static) InstallData(_ context.Context, blogID int64) (models.InstallData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.blogs[blogID]
	if !ok {
		return models.InstallData{}, fmt.Errorf("host.InstallData: unknown blog %d", blogID)
	}
	return d, nil
}

// SetBlog добавляет или заменяет данные блога.
func (s *Static) SetBlog(blogID int64, data models.InstallData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blogs[blogID] = data
}

// SetURL меняет адрес блога.
func (s *Static) SetURL(blogID int64, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.blogs[blogID]
	d.URL = url
	s.blogs[blogID] = d
}
