package target

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dm-lva/core/internal/errs"
)

// Registry is the process-wide target-kind directory (§4.1). Readers are
// lock-free relative to each other after initialization; writers
// (Register/Unregister) are serialized. A builtin set is installed at
// construction, mirroring dm_std_targets() in the original source.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
	log   *logrus.Logger
}

// NewRegistry builds a Registry with the builtin target kinds installed:
// "linear" and "zero" (§4.1, §6).
func NewRegistry(log *logrus.Logger) *Registry {
	r := &Registry{
		kinds: make(map[string]Kind),
		log:   log,
	}
	r.mustRegisterBuiltin("linear", &linearKind{})
	r.mustRegisterBuiltin("zero", &zeroKind{})
	return r
}

func (r *Registry) mustRegisterBuiltin(name string, kind Kind) {
	if err := r.Register(name, kind); err != nil {
		panic(fmt.Sprintf("target: builtin %q failed to register: %v", name, err))
	}
}

// Register installs a target kind under name. It fails with
// errs.Duplicate if the name is already registered.
func (r *Registry) Register(name string, kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kinds[name]; exists {
		return errs.New(errs.Duplicate, "target.Register", fmt.Errorf("target kind %q already registered", name))
	}
	r.kinds[name] = kind
	r.log.WithField("kind", name).Debug("target: registered kind")
	return nil
}

// Lookup returns the kind registered under name, or errs.NotFound.
func (r *Registry) Lookup(name string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kind, ok := r.kinds[name]
	if !ok {
		return nil, errs.New(errs.NotFound, "target.Lookup", fmt.Errorf("target kind %q not registered", name))
	}
	return kind, nil
}

// Unregister removes a target kind. It is a no-op if the name is absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.kinds, name)
}

// Kinds returns the sorted list of registered kind names.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
