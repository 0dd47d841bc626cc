package project

import (
	"sync"

	"github.com/Skryldev/channel-stacker/domain/model"
	"github.com/google/uuid"
)

// Listener is notified of stack changes. Calls happen synchronously on the
// goroutine that made the change, after the change is visible.
type Listener interface {
	LaneAdded(lane model.Lane, index int)
	LaneRemoved(lane model.Lane, index int)
	LanesReordered()
	WaveformUpdated(id uuid.UUID)
}

// ListenerFuncs adapts optional functions to Listener
type ListenerFuncs struct {
	OnAdded     func(model.Lane, int)
	OnRemoved   func(model.Lane, int)
	OnReordered func()
	OnWaveform  func(uuid.UUID)
}

func (f *ListenerFuncs) LaneAdded(l model.Lane, i int) {
	if f.OnAdded != nil {
		f.OnAdded(l, i)
	}
}

func (f *ListenerFuncs) LaneRemoved(l model.Lane, i int) {
	if f.OnRemoved != nil {
		f.OnRemoved(l, i)
	}
}

func (f *ListenerFuncs) LanesReordered() {
	if f.OnReordered != nil {
		f.OnReordered()
	}
}

func (f *ListenerFuncs) WaveformUpdated(id uuid.UUID) {
	if f.OnWaveform != nil {
		f.OnWaveform(id)
	}
}

// Project is the ordered lane stack plus the envelope of every lane.
// Envelopes are addressed by lane ID; a lookup for a removed lane misses.
type Project struct {
	mu        sync.RWMutex
	lanes     []model.Lane
	envelopes map[uuid.UUID]*model.WaveformEnvelope
	// revision of the envelope last stored through SetWaveformRev
	revs map[uuid.UUID]uint64

	lmu       sync.Mutex
	listeners []Listener
}

func New() *Project {
	return &Project{
		envelopes: make(map[uuid.UUID]*model.WaveformEnvelope),
		revs:      make(map[uuid.UUID]uint64),
	}
}

func (p *Project) AddListener(l Listener) {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Project) RemoveListener(l Listener) {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	for i, x := range p.listeners {
		if x == l {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			return
		}
	}
}

func (p *Project) notify(fn func(Listener)) {
	p.lmu.Lock()
	ls := append([]Listener(nil), p.listeners...)
	p.lmu.Unlock()
	for _, l := range ls {
		fn(l)
	}
}

// AddLane appends lane to the stack with an empty envelope
func (p *Project) AddLane(lane model.Lane) int {
	p.mu.Lock()
	p.lanes = append(p.lanes, lane)
	p.envelopes[lane.ID] = &model.WaveformEnvelope{}
	idx := len(p.lanes) - 1
	p.mu.Unlock()

	p.notify(func(l Listener) { l.LaneAdded(lane, idx) })
	return idx
}

// RemoveLane removes the lane at index, reporting whether it existed
func (p *Project) RemoveLane(index int) (model.Lane, bool) {
	p.mu.Lock()
	if index < 0 || index >= len(p.lanes) {
		p.mu.Unlock()
		return model.Lane{}, false
	}
	lane := p.lanes[index]
	p.lanes = append(p.lanes[:index], p.lanes[index+1:]...)
	delete(p.envelopes, lane.ID)
	delete(p.revs, lane.ID)
	p.mu.Unlock()

	p.notify(func(l Listener) { l.LaneRemoved(lane, index) })
	return lane, true
}

func (p *Project) RemoveLaneByID(id uuid.UUID) (model.Lane, bool) {
	idx := p.IndexOf(id)
	if idx < 0 {
		return model.Lane{}, false
	}
	return p.RemoveLane(idx)
}

// MoveLane moves the lane at from so that it ends up at index to, where to
// is interpreted after the lane has been taken out of the stack.
func (p *Project) MoveLane(from, to int) bool {
	p.mu.Lock()
	n := len(p.lanes)
	if from < 0 || from >= n || to < 0 || to >= n {
		p.mu.Unlock()
		return false
	}
	if from == to {
		p.mu.Unlock()
		return true
	}
	lane := p.lanes[from]
	p.lanes = append(p.lanes[:from], p.lanes[from+1:]...)
	p.lanes = append(p.lanes[:to], append([]model.Lane{lane}, p.lanes[to:]...)...)
	p.mu.Unlock()

	p.notify(func(l Listener) { l.LanesReordered() })
	return true
}

// Clear removes every lane, notifying once per lane from the top
func (p *Project) Clear() {
	for {
		if _, ok := p.RemoveLane(p.Len() - 1); !ok {
			return
		}
	}
}

// Lanes returns a copy of the stack in order
func (p *Project) Lanes() []model.Lane {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]model.Lane(nil), p.lanes...)
}

func (p *Project) Lane(index int) (model.Lane, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if index < 0 || index >= len(p.lanes) {
		return model.Lane{}, false
	}
	return p.lanes[index], true
}

func (p *Project) IndexOf(id uuid.UUID) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i, l := range p.lanes {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (p *Project) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.lanes)
}

// SetWaveform stores env for the lane. It is a no-op for a lane that is no
// longer in the stack.
func (p *Project) SetWaveform(id uuid.UUID, env *model.WaveformEnvelope) bool {
	p.mu.Lock()
	if _, ok := p.envelopes[id]; !ok {
		p.mu.Unlock()
		return false
	}
	p.envelopes[id] = env
	p.mu.Unlock()

	p.notify(func(l Listener) { l.WaveformUpdated(id) })
	return true
}

// SetWaveformRev is SetWaveform for results that may arrive out of order.
// env is dropped unless rev is newer than the revision already stored for
// the lane.
func (p *Project) SetWaveformRev(id uuid.UUID, env *model.WaveformEnvelope, rev uint64) bool {
	p.mu.Lock()
	if _, ok := p.envelopes[id]; !ok || rev <= p.revs[id] {
		p.mu.Unlock()
		return false
	}
	p.envelopes[id] = env
	p.revs[id] = rev
	p.mu.Unlock()

	p.notify(func(l Listener) { l.WaveformUpdated(id) })
	return true
}

// Waveform returns the lane's current envelope
func (p *Project) Waveform(id uuid.UUID) (*model.WaveformEnvelope, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	env, ok := p.envelopes[id]
	return env, ok
}
