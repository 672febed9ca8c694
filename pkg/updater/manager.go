package updater

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/otaupdater/pkg/script"
)

// DefaultScript is the package entry holding the main update script.
const DefaultScript = "updater-script"

// DefaultPriorityLevels is the number of accepted script priorities.
const DefaultPriorityLevels = 4

// Script is a package script queued for execution.
type Script struct {
	Name     string
	Priority int
	Source   string

	seq int
}

// ScriptReader reads a whole package entry.
type ScriptReader interface {
	ReadFile(name string) ([]byte, error)
}

// ScriptManager loads package scripts and orders them by priority.
type ScriptManager struct {
	mu      sync.Mutex
	levels  int
	reader  ScriptReader
	scripts []Script
	seq     int
}

// NewScriptManager creates a manager accepting priorities in [0, levels).
// A non-positive levels selects DefaultPriorityLevels.
func NewScriptManager(reader ScriptReader, levels int) *ScriptManager {
	if levels <= 0 {
		levels = DefaultPriorityLevels
	}
	return &ScriptManager{levels: levels, reader: reader}
}

// AddScript reads the package entry name and queues it at priority.
func (m *ScriptManager) AddScript(name string, priority int) error {
	if priority < 0 || priority >= m.levels {
		return script.NewError(script.StatusInvalidPriority,
			fmt.Sprintf("priority %d outside [0, %d)", priority, m.levels), nil).
			WithDetail("script", name)
	}
	if m.reader == nil {
		return script.NewError(script.StatusInvalidScript, "no update package", nil).
			WithDetail("script", name)
	}

	data, err := m.reader.ReadFile(name)
	if err != nil {
		return script.NewError(script.StatusInvalidScript,
			fmt.Sprintf("failed to read script %s", name), err).
			WithDetail("script", name)
	}
	if len(data) == 0 {
		return script.NewError(script.StatusInvalidScript,
			fmt.Sprintf("script %s is empty", name), nil).
			WithDetail("script", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.scripts = append(m.scripts, Script{
		Name:     name,
		Priority: priority,
		Source:   string(data),
		seq:      m.seq,
	})
	m.seq++
	return nil
}

// Scripts returns the queued scripts in execution order: ascending
// priority, then insertion order.
func (m *ScriptManager) Scripts() []Script {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Script, len(m.scripts))
	copy(out, m.scripts)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// PriorityLevels returns the number of accepted priorities.
func (m *ScriptManager) PriorityLevels() int {
	return m.levels
}
