package executor

import (
	"fmt"
	"sync"

	xerrors "Concierge-Engine/internal/errors"
	"Concierge-Engine/internal/task"
)

// Registry 维护 (类别, 服务) 到执行器的路由表。
// 精确匹配优先，其次回落到类别级默认执行器。
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]Executor
	defaults map[task.Category]Executor
}

// NewRegistry 创建一个空的执行器注册表。
func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string]Executor),
		defaults: make(map[task.Category]Executor),
	}
}

// NewDefaultRegistry 创建注册了全部内置模拟执行器的注册表。
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(task.CategoryPurchase, NewMarketplace())
	registry.RegisterDefault(task.CategoryPurchase, NewMarketplace())
	registry.Register(task.CategoryTravel, NewRail())
	registry.Register(task.CategoryPayment, NewBankTransfer())
	registry.Register(task.CategoryMessaging, NewMessaging())
	registry.RegisterDefault(task.CategoryMessaging, NewMessaging())
	registry.Register(task.CategoryVoice, NewVoice())
	registry.RegisterDefault(task.CategoryVoice, NewVoice())
	registry.RegisterDefault(task.CategoryOther, NewGeneric())
	return registry
}

func routeKey(category task.Category, service string) string {
	return string(category) + "/" + service
}

// Register 按执行器自报的服务名注册精确路由。
func (r *Registry) Register(category task.Category, exec Executor) {
	if exec == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[routeKey(category, exec.ServiceName())] = exec
}

// RegisterDefault 注册类别级默认执行器，未知服务名会路由到它。
func (r *Registry) RegisterDefault(category task.Category, exec Executor) {
	if exec == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[category] = exec
}

// Resolve 查找能处理该 (类别, 服务) 的执行器。
func (r *Registry) Resolve(category task.Category, service string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if exec, ok := r.exact[routeKey(category, service)]; ok {
		return exec, nil
	}
	if exec, ok := r.defaults[category]; ok {
		return exec, nil
	}
	return nil, xerrors.New(xerrors.CodeUnsupportedSvc,
		fmt.Sprintf("没有能处理 %s/%s 的执行器", category, service),
		xerrors.WithMetadata("category", string(category)),
		xerrors.WithMetadata("service", service))
}
