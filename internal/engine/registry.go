package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateInstance модуль уже зарегистрирован.
var ErrDuplicateInstance = errors.New("instance already registered")

// Registry реестр экземпляров по идентификатору модуля.
type Registry struct {
	mu        sync.RWMutex
	instances map[int64]*Instance
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[int64]*Instance)}
}

// Register добавляет экземпляр.
func (r *Registry) Register(inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[inst.Module.ID]; ok {
		return fmt.Errorf("engine.Register: module %d: %w", inst.Module.ID, ErrDuplicateInstance)
	}
	r.instances[inst.Module.ID] = inst
	return nil
}

// Get возвращает экземпляр модуля.
func (r *Registry) Get(moduleID int64) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[moduleID]
	return inst, ok
}

// Remove удаляет экземпляр модуля.
func (r *Registry) Remove(moduleID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, moduleID)
}

// Instances экземпляры в порядке идентификаторов модулей.
func (r *Registry) Instances() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		list = append(list, inst)
	}
	sort.Slice(list, func(a, b int) bool { return list[a].Module.ID < list[b].Module.ID })
	return list
}

// MustNew собирает экземпляр и регистрирует его в r. Паникует с
// *ConfigError при неполных параметрах и при повторной регистрации.
func MustNew(r *Registry, p Params) *Instance {
	inst := NewInstance(p)
	if err := r.Register(inst); err != nil {
		panic(&ConfigError{Field: "module_id"})
	}
	return inst
}
