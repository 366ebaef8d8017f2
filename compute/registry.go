package compute

import (
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"sync"
)

// KernelInfo describes a registered kernel.
type KernelInfo struct {
	Name          string
	EntryPoint    string
	WorkgroupSize int
}

// Registry is the set of kernels a pipeline may dispatch.
type Registry struct {
	mu      sync.RWMutex
	kernels map[string]KernelInfo
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{kernels: make(map[string]KernelInfo)}
}

// Register adds k. Kernel names are unique per registry.
func Register[B Binder](r *Registry, k *Kernel[B]) error {
	if k.Name == "" {
		return fmt.Errorf("registering kernel: empty name")
	}
	if k.Entry == nil {
		return fmt.Errorf("registering kernel %q: nil entry point", k.Name)
	}
	if k.WorkgroupSize <= 0 {
		return fmt.Errorf("registering kernel %q: workgroup size %d", k.Name, k.WorkgroupSize)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.kernels[k.Name]; ok {
		return fmt.Errorf("registering kernel %q: already registered", k.Name)
	}
	r.kernels[k.Name] = KernelInfo{
		Name:          k.Name,
		EntryPoint:    entryPointName(k.Entry),
		WorkgroupSize: k.WorkgroupSize,
	}
	k.registry = r
	return nil
}

// Lookup returns the info for name.
func (r *Registry) Lookup(name string) (KernelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.kernels[name]
	return info, ok
}

// Names returns the registered kernel names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kernels))
	for name := range r.kernels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of registered kernels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.kernels)
}

func entryPointName(fn any) string {
	f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if f == nil {
		return ""
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
