package phase

import "sync"

// tableCache memoizes parsed per-project phase tables. It is an explicit
// object so tests and operators can clear it or switch it off; disabling it
// forces a re-parse on every lookup.
type tableCache struct {
	mu      sync.RWMutex
	enabled bool
	tables  map[string]*Table
}

func newTableCache() *tableCache {
	return &tableCache{enabled: true, tables: make(map[string]*Table)}
}

func (c *tableCache) get(key string) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.enabled {
		return nil, false
	}

	table, ok := c.tables[key]

	return table, ok
}

func (c *tableCache) put(key string, table *Table) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}

	c.tables[key] = table
}

func (c *tableCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tables = make(map[string]*Table)
}

func (c *tableCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = enabled
	if !enabled {
		c.tables = make(map[string]*Table)
	}
}
