package poolmonitor

import (
	"sync"

	"dex-stream-sol/internal/events"
)

// Registry 是受监控池子的唯一事实来源（poolAddress → PoolInfo）。
// 刷新路径整体替换记录指针，读者要么看到旧记录要么看到新记录，
// 不会观察到新旧储备值混杂的中间态。
type Registry struct {
	mu    sync.RWMutex
	pools map[string]*events.PoolInfo
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]*events.PoolInfo)}
}

// Get 返回当前记录，调用方不得修改返回值（替换式更新依赖记录不可变）
func (r *Registry) Get(address string) (*events.PoolInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[address]
	return p, ok
}

// Swap 无条件写入新记录并返回被替换的旧记录（可能为 nil）
func (r *Registry) Swap(address string, info *events.PoolInfo) (prev *events.PoolInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev = r.pools[address]
	r.pools[address] = info
	return prev
}

func (r *Registry) Remove(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pools, address)
}

func (r *Registry) Contains(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pools[address]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

// Addresses 返回全部池子地址快照（重订阅请求构造用）
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addrs := make([]string, 0, len(r.pools))
	for addr := range r.pools {
		addrs = append(addrs, addr)
	}
	return addrs
}
