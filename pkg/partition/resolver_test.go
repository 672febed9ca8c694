package partition

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTableResolver(t *testing.T) {
	r := TableResolver{"system": "/dev/sda1", "empty": ""}

	if path, ok := r.DevicePath("system"); !ok || path != "/dev/sda1" {
		t.Errorf("DevicePath(system) = %q, %v", path, ok)
	}
	if _, ok := r.DevicePath("empty"); ok {
		t.Error("Empty table entries must not resolve")
	}
	if _, ok := r.DevicePath("vendor"); ok {
		t.Error("Unknown partitions must not resolve")
	}
}

func TestByNameResolver(t *testing.T) {
	root := t.TempDir()
	byName := filepath.Join(root, "by-name")
	if err := os.MkdirAll(byName, 0o755); err != nil {
		t.Fatal(err)
	}
	device := filepath.Join(root, "mmcblk0p12")
	if err := os.WriteFile(device, []byte("image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(device, filepath.Join(byName, "system")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "gone"), filepath.Join(byName, "dangling")); err != nil {
		t.Fatal(err)
	}

	r := NewByNameResolver(filepath.Join(root, "absent"), byName)

	path, ok := r.DevicePath("system")
	if !ok {
		t.Fatal("Expected system to resolve")
	}
	want, _ := filepath.EvalSymlinks(device)
	if path != want {
		t.Errorf("Expected %s, got %s", want, path)
	}

	if _, ok := r.DevicePath("dangling"); ok {
		t.Error("Dangling links must not resolve")
	}
	if _, ok := r.DevicePath("../mmcblk0p12"); ok {
		t.Error("Names with separators must not resolve")
	}

	if got := strings.Join(r.List(), ","); got != "dangling,system" {
		t.Errorf("Unexpected list %s", got)
	}
}

func TestChainResolver(t *testing.T) {
	r := ChainResolver{
		TableResolver{"boot": "/dev/boot"},
		TableResolver{"boot": "/dev/other", "system": "/dev/system"},
	}

	if path, _ := r.DevicePath("boot"); path != "/dev/boot" {
		t.Errorf("Expected first resolver to win, got %s", path)
	}
	if path, _ := r.DevicePath("system"); path != "/dev/system" {
		t.Errorf("Expected fallback resolver, got %s", path)
	}
	if _, ok := r.DevicePath("vendor"); ok {
		t.Error("Expected vendor to be unresolved")
	}
}
