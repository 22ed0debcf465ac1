package index

import (
	"context"
	"sync/atomic"

	"medassist-go/internal/model"
)

// Holder 持有当前生效的 MemoryIndex。语料更新时构建新索引后整体替换，读者不加锁。
type Holder struct {
	current atomic.Pointer[MemoryIndex]
}

// NewHolder 以空索引初始化。
func NewHolder() *Holder {
	h := &Holder{}
	empty, _ := NewMemoryIndex(nil)
	h.current.Store(empty)
	return h
}

// Load 返回当前快照。
func (h *Holder) Load() *MemoryIndex {
	return h.current.Load()
}

// Swap 原子替换快照并返回旧快照。
func (h *Holder) Swap(next *MemoryIndex) *MemoryIndex {
	return h.current.Swap(next)
}

func (h *Holder) TopK(ctx context.Context, query []float32, k int) ([]model.RetrievalResult, error) {
	return h.Load().TopK(ctx, query, k)
}
