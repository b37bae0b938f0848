package livesync

import (
	"sync"

	"tutorchat/internal/domain/entity"
)

// ThreadView is what a session shows for one thread: the latest store
// snapshot plus its own sends that the snapshot does not contain yet.
// Each snapshot replaces the previous one wholesale.
type ThreadView struct {
	mu        sync.Mutex
	key       entity.ThreadKey
	snapshot  []*entity.Message
	pending   map[string]*entity.Message
	confirmed map[string]*entity.Message
}

func NewThreadView(key entity.ThreadKey) *ThreadView {
	return &ThreadView{
		key:       key,
		pending:   make(map[string]*entity.Message),
		confirmed: make(map[string]*entity.Message),
	}
}

func (v *ThreadView) Key() entity.ThreadKey {
	return v.key
}

// AddPending shows an optimistic copy of m before it is stored.
func (v *ThreadView) AddPending(m *entity.Message) {
	c := m.Clone()
	c.Pending = true

	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending[c.ID] = c
}

// Confirm marks a pending message as stored. It stays visible until a
// snapshot carries it.
func (v *ThreadView) Confirm(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	m, ok := v.pending[id]
	if !ok {
		return
	}
	delete(v.pending, id)
	if v.inSnapshot(id) {
		return
	}
	c := m.Clone()
	c.Pending = false
	v.confirmed[id] = c
}

// Rollback removes a pending message whose store write failed.
func (v *ThreadView) Rollback(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.pending, id)
}

// Apply installs an authoritative snapshot.
func (v *ThreadView) Apply(messages []*entity.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.snapshot = messages
	for _, m := range messages {
		delete(v.pending, m.ID)
		delete(v.confirmed, m.ID)
	}
}

// Messages returns the rendered thread in order; optimistic entries carry
// Pending=true.
func (v *ThreadView) Messages() []*entity.Message {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]*entity.Message, 0, len(v.snapshot)+len(v.confirmed)+len(v.pending))
	for _, m := range v.snapshot {
		out = append(out, m.Clone())
	}
	for _, m := range v.confirmed {
		out = append(out, m.Clone())
	}
	for _, m := range v.pending {
		out = append(out, m.Clone())
	}
	entity.SortMessages(out)
	return out
}

func (v *ThreadView) inSnapshot(id string) bool {
	for _, m := range v.snapshot {
		if m.ID == id {
			return true
		}
	}
	return false
}
