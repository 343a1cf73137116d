package engine

import "sync"

// modelCache is a process-wide map of loaded native models keyed by model
// path. Loading is first-writer-wins: concurrent requests for the same path
// perform exactly one load, and every caller observes the same model or the
// same initialization error.
type modelCache[T any] struct {
	mu      sync.Mutex
	entries map[string]*modelEntry[T]
}

type modelEntry[T any] struct {
	once  sync.Once
	value T
	err   error
}

func newModelCache[T any]() *modelCache[T] {
	return &modelCache[T]{entries: make(map[string]*modelEntry[T])}
}

func (c *modelCache[T]) load(path string, loader func(string) (T, error)) (T, error) {
	c.mu.Lock()
	entry, ok := c.entries[path]
	if !ok {
		entry = &modelEntry[T]{}
		c.entries[path] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.value, entry.err = loader(path)
	})
	return entry.value, entry.err
}
