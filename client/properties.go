package client

import (
	"sort"
	"sync"

	"golang.org/x/exp/maps"
)

// 连接级属性，多个查询并发共享
type Properties struct {
	// 开启后表结构与数据不一致时返回MigrationError
	EnforceSchema bool

	mu sync.RWMutex
	// 已知存在的集合
	collections map[string]struct{}
}

func NewProperties(enforceSchema bool) *Properties {
	return &Properties{EnforceSchema: enforceSchema, collections: map[string]struct{}{}}
}

func (p *Properties) LoadCollections(names []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range names {
		p.collections[name] = struct{}{}
	}
}

func (p *Properties) IsCached(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.collections[name]
	return ok
}

func (p *Properties) AddCollection(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collections[name] = struct{}{}
}

func (p *Properties) RemoveCollection(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.collections, name)
}

func (p *Properties) RenameCollection(from, to string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.collections, from)
	p.collections[to] = struct{}{}
}

func (p *Properties) ClearCollections() {
	p.mu.Lock()
	defer p.mu.Unlock()
	maps.Clear(p.collections)
}

func (p *Properties) Collections() (names []string) {
	p.mu.RLock()
	names = maps.Keys(p.collections)
	p.mu.RUnlock()
	sort.Strings(names)
	return
}
