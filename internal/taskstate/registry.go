package taskstate

import (
	"sync"

	"github.com/mjklaren/tism/internal/config"
)

// Registry is the fixed-capacity table of task descriptors. Register fails once
// the array is full or once the scheduler has sealed the registry by entering RUN.
type Registry struct {
	cfg config.Config

	mu     sync.Mutex
	tasks  []*Descriptor
	sealed bool
}

// NewRegistry returns an empty registry sized per cfg.
func NewRegistry(cfg config.Config) *Registry {
	return &Registry{cfg: cfg, tasks: make([]*Descriptor, 0, cfg.MaxTasks)}
}

// Register adds a task with the given entry point, name, and priority interval
// (microseconds). The inbound ring is sized to cfg.MaxMessagesPerRing unless
// inboxCapacity is non-zero (the event logger asks for a larger one).
func (r *Registry) Register(entry TaskFunc, name string, priority uint32, inboxCapacity int) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil, regErr("Registry.Register", "registry sealed: scheduler has left INIT")
	}
	if len(r.tasks) >= r.cfg.MaxTasks {
		return nil, regErr("Registry.Register", "task table full")
	}

	cap := inboxCapacity
	if cap <= 0 {
		cap = r.cfg.MaxMessagesPerRing
	}

	d := newDescriptor(TaskID(len(r.tasks)), name, entry, priority, cap)
	r.tasks = append(r.tasks, d)
	return d, nil
}

// Seal prevents any further registration. Called once by the scheduler as it
// leaves INIT for RUN.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Get returns the descriptor for id, or nil if id is out of range.
func (r *Registry) Get(id TaskID) *Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || int(id) >= len(r.tasks) {
		return nil
	}
	return r.tasks[id]
}

// Find returns the descriptor whose name matches, or nil.
func (r *Registry) Find(name string) *Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.tasks {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// All returns a snapshot slice of every registered descriptor, in registration
// order (index order; task IDs are dense, with no gaps).
func (r *Registry) All() []*Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Descriptor, len(r.tasks))
	copy(out, r.tasks)
	return out
}

type registryError string

func (e registryError) Error() string { return string(e) }

func regErr(op, msg string) error { return registryError(op + ": " + msg) }
