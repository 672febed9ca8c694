// Package partition maps logical partition names to device paths.
package partition

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultByNameDirs are the directories searched for by-name device links.
var DefaultByNameDirs = []string{
	"/dev/block/by-name",
	"/dev/block/bootdevice/by-name",
}

// Resolver maps a partition name to a device path. An empty result with
// false means there is no such partition.
type Resolver interface {
	DevicePath(partition string) (string, bool)
}

// TableResolver resolves partitions from a fixed name to path table.
type TableResolver map[string]string

// DevicePath implements Resolver.
func (t TableResolver) DevicePath(partition string) (string, bool) {
	path, ok := t[partition]
	if !ok || path == "" {
		return "", false
	}
	return path, true
}

// ByNameResolver resolves partitions through by-name symlink directories.
type ByNameResolver struct {
	Dirs []string
}

// NewByNameResolver creates a resolver over dirs, adding any
// /dev/block/platform/*/by-name directories when dirs is empty.
func NewByNameResolver(dirs ...string) *ByNameResolver {
	if len(dirs) == 0 {
		dirs = append(dirs, DefaultByNameDirs...)
		matches, _ := filepath.Glob("/dev/block/platform/*/by-name")
		dirs = append(dirs, matches...)
		matches, _ = filepath.Glob("/dev/block/platform/*/*/by-name")
		dirs = append(dirs, matches...)
	}
	return &ByNameResolver{Dirs: dirs}
}

// DevicePath implements Resolver. The link target is resolved so the
// returned path names the device itself.
func (r *ByNameResolver) DevicePath(partition string) (string, bool) {
	if partition == "" || strings.ContainsRune(partition, filepath.Separator) {
		return "", false
	}
	for _, dir := range r.Dirs {
		link := filepath.Join(dir, partition)
		if _, err := os.Stat(link); err != nil {
			continue
		}
		target, err := filepath.EvalSymlinks(link)
		if err != nil {
			target = link
		}
		return target, true
	}
	return "", false
}

// List returns every partition name found in the by-name directories.
func (r *ByNameResolver) List() []string {
	seen := make(map[string]bool)
	for _, dir := range r.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			seen[e.Name()] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ChainResolver tries each resolver in order.
type ChainResolver []Resolver

// DevicePath implements Resolver.
func (c ChainResolver) DevicePath(partition string) (string, bool) {
	for _, r := range c {
		if path, ok := r.DevicePath(partition); ok {
			return path, true
		}
	}
	return "", false
}
