package bot

import "sync"

// Pending 记录正在处理请求的用户，同一用户同时只允许一个请求
type Pending struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewPending() *Pending {
	return &Pending{ids: make(map[string]struct{})}
}

// TryAcquire 用户空闲时标记为处理中并返回 true
func (p *Pending) TryAcquire(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.ids[userID]; busy {
		return false
	}
	p.ids[userID] = struct{}{}
	return true
}

func (p *Pending) Release(userID string) {
	p.mu.Lock()
	delete(p.ids, userID)
	p.mu.Unlock()
}

func (p *Pending) busy(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, busy := p.ids[userID]
	return busy
}

func (p *Pending) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}
