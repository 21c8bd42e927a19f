package gatekeeper

import (
	"context"
	"sync"
)

// DraftNamespace prefixes every onboarding draft key
const DraftNamespace = "1729_onboarding_answers"

// Drafts maps a question index to the answer typed so far
type Drafts map[int]string

func (d Drafts) clone() Drafts {
	if d == nil {
		return Drafts{}
	}
	out := make(Drafts, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// DraftKey returns the cache key holding the drafts of owner
func DraftKey(owner string) string {
	if owner == "" {
		return DraftNamespace
	}
	return DraftNamespace + ":" + owner
}

// DraftCache persists onboarding answers across page reloads until the
// answers are submitted or the user signs out.
type DraftCache interface {
	// Load returns an empty map when nothing was saved
	Load(ctx context.Context, owner string) (Drafts, error)
	Save(ctx context.Context, owner string, drafts Drafts) error
	Clear(ctx context.Context, owner string) error
}

// MemoryDraftCache keeps drafts in process
type MemoryDraftCache struct {
	mu     sync.Mutex
	drafts map[string]Drafts
}

func NewMemoryDraftCache() *MemoryDraftCache {
	return &MemoryDraftCache{drafts: map[string]Drafts{}}
}

func (m *MemoryDraftCache) Load(_ context.Context, owner string) (Drafts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drafts[DraftKey(owner)].clone(), nil
}

func (m *MemoryDraftCache) Save(_ context.Context, owner string, drafts Drafts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[DraftKey(owner)] = drafts.clone()
	return nil
}

func (m *MemoryDraftCache) Clear(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, DraftKey(owner))
	return nil
}
