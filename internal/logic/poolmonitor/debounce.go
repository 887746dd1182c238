package poolmonitor

import (
	"sync"
	"time"
)

type debounceState int

const (
	debounceIdle debounceState = iota
	debounceArmed
)

// Debouncer 把短时间内的 N 次池子新增坍缩为一次批量重订阅。
// 显式的 idle/armed 状态机：Add 与定时器触发之间的竞争在锁内裁决，
// 触发时 pending 集合被原子地取走清空。
type Debouncer struct {
	mu      sync.Mutex
	state   debounceState
	window  time.Duration
	timer   *time.Timer
	pending map[string]struct{}
	fire    func(pending []string)
}

func NewDebouncer(window time.Duration, fire func(pending []string)) *Debouncer {
	if window <= 0 {
		window = 2 * time.Second
	}
	return &Debouncer{
		window:  window,
		pending: make(map[string]struct{}),
		fire:    fire,
	}
}

// Add 记入待订阅地址并（重新）武装定时器。
// 窗口内的后续 Add 推迟触发时刻，突发新增只产生一次重订阅。
func (d *Debouncer) Add(address string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[address] = struct{}{}

	switch d.state {
	case debounceIdle:
		d.state = debounceArmed
		d.timer = time.AfterFunc(d.window, d.onFire)
	case debounceArmed:
		d.timer.Reset(d.window)
	}
}

// Cancel 取消在途定时器并丢弃 pending 集合（Stop 路径）。
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == debounceArmed && d.timer != nil {
		d.timer.Stop()
	}
	d.state = debounceIdle
	d.pending = make(map[string]struct{})
}

// Pending 当前待订阅数量（状态/测试用）
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Debouncer) onFire() {
	d.mu.Lock()
	if d.state != debounceArmed {
		// Cancel 赢得竞争，定时器作废
		d.mu.Unlock()
		return
	}
	batch := make([]string, 0, len(d.pending))
	for addr := range d.pending {
		batch = append(batch, addr)
	}
	d.pending = make(map[string]struct{})
	d.state = debounceIdle
	d.mu.Unlock()

	if len(batch) > 0 {
		d.fire(batch)
	}
}
