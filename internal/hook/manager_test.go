package hook

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeManifest creates dir/name/hook.json from m.
func writeManifest(t *testing.T, dir, name string, m Manifest) string {
	t.Helper()
	hookDir := filepath.Join(dir, name)
	if err := os.MkdirAll(hookDir, 0755); err != nil {
		t.Fatalf("failed to create hook dir: %v", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(hookDir, ManifestFile), data, 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return hookDir
}

func TestManager_Discover(t *testing.T) {
	dir := t.TempDir()
	hookDir := writeManifest(t, dir, "alert", Manifest{
		Name:        "alert",
		Version:     "1.0.0",
		Description: "Desktop alerts",
		Executable:  "alert",
		Actions:     []string{"notify", "log"},
	})

	m := NewManager(dir)
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	hooks := m.List()
	if len(hooks) != 1 {
		t.Fatalf("List() = %d hooks, want 1", len(hooks))
	}
	h := hooks[0]
	if h.Manifest.Name != "alert" || h.Manifest.Version != "1.0.0" || len(h.Manifest.Actions) != 2 {
		t.Errorf("manifest = %+v", h.Manifest)
	}
	if h.Path != hookDir {
		t.Errorf("Path = %q, want %q", h.Path, hookDir)
	}
	if want := filepath.Join(hookDir, "alert"); h.Executable != want {
		t.Errorf("Executable = %q, want %q", h.Executable, want)
	}
}

func TestManager_Discover_SkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "good", Manifest{Name: "good", Executable: "good"})
	writeManifest(t, dir, "unnamed", Manifest{Executable: "x"})
	writeManifest(t, dir, "noexec", Manifest{Name: "noexec"})

	broken := filepath.Join(dir, "broken")
	if err := os.MkdirAll(broken, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(broken, ManifestFile), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "empty"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(dir)
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	hooks := m.List()
	if len(hooks) != 1 || hooks[0].Manifest.Name != "good" {
		t.Errorf("List() = %v, want only good", hooks)
	}
}

func TestManager_Discover_MissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent"))
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(m.List()) != 0 {
		t.Error("expected no hooks")
	}
}

func TestManager_Discover_Refreshes(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a", Manifest{Name: "a", Executable: "a"})

	m := NewManager(dir)
	if err := m.Discover(); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(filepath.Join(dir, "a")); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "b", Manifest{Name: "b", Executable: "b"})
	if err := m.Discover(); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Get("a"); !errors.Is(err, ErrHookNotFound) {
		t.Errorf("Get(a) error = %v, want ErrHookNotFound", err)
	}
	if _, err := m.Get("b"); err != nil {
		t.Errorf("Get(b) error = %v", err)
	}
}

func TestManager_ListSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		writeManifest(t, dir, name, Manifest{Name: name, Executable: name})
	}
	m := NewManager(dir)
	if err := m.Discover(); err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, h := range m.List() {
		got = append(got, h.Manifest.Name)
	}
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("List() order = %v, want %v", got, want)
		}
	}
	if m.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", m.Dir(), dir)
	}
}

func TestHook_Supports(t *testing.T) {
	open := &Hook{}
	if !open.Supports("whatever") {
		t.Error("hook without actions should accept any action")
	}
	h := &Hook{Manifest: Manifest{Actions: []string{"notify"}}}
	if !h.Supports("notify") || h.Supports("log") {
		t.Error("Supports() should follow the manifest actions")
	}
}
