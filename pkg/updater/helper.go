package updater

import (
	"context"
	"errors"
	"sync"

	"github.com/openfroyo/otaupdater/pkg/script"
)

// ErrNoInstance is returned by Instance when no helper exists and no script
// manager was supplied to create one.
var ErrNoInstance = errors.New("no instruction helper instance")

// Helper pairs an instruction registry with the script manager that feeds
// it scripts.
type Helper struct {
	*script.Registry

	manager *ScriptManager
}

// NewHelper creates a helper owning a fresh registry.
func NewHelper(manager *ScriptManager, opts ...script.RegistryOption) *Helper {
	return &Helper{
		Registry: script.NewRegistry(opts...),
		manager:  manager,
	}
}

// AddScript delegates to the script manager.
func (h *Helper) AddScript(name string, priority int) error {
	return h.manager.AddScript(name, priority)
}

// Manager returns the owning script manager.
func (h *Helper) Manager() *ScriptManager {
	return h.manager
}

var (
	instanceMu sync.Mutex
	instance   *Helper
)

// Instance returns the process-wide helper, creating it from manager on
// first use. It fails with ErrNoInstance when no helper exists and manager
// is nil. Callers that own their registry should use NewHelper instead.
func Instance(manager *ScriptManager, opts ...script.RegistryOption) (*Helper, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		return instance, nil
	}
	if manager == nil {
		return nil, ErrNoInstance
	}
	instance = NewHelper(manager, opts...)
	return instance, nil
}

// ReleaseInstance closes and drops the process-wide helper.
func ReleaseInstance(ctx context.Context) error {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		return nil
	}
	err := instance.Close(ctx)
	instance = nil
	return err
}
