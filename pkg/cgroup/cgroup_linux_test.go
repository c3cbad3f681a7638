package cgroup

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

// fakeNode creates a directory that looks like a cgroup v2 node
func fakeNode(t *testing.T, dir string, controllers string, files ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		t.Fatal(err)
	}
	for _, f := range append([]string{cgroupProcs, cgroupControllers}, files...) {
		if err := os.WriteFile(filepath.Join(dir, f), nil, filePerm); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, cgroupControllers), []byte(controllers), filePerm); err != nil {
		t.Fatal(err)
	}
}

func TestCreateAlreadyExists(t *testing.T) {
	c := newController(t.TempDir())
	h, err := c.Create("box")
	if err != nil {
		t.Fatal(err)
	}
	if h.Path() != filepath.Join(c.Root, "box") {
		t.Errorf("unexpected path %s", h.Path())
	}
	if _, err := c.Create("box"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateInvalidName(t *testing.T) {
	c := newController(t.TempDir())
	for _, name := range []string{"", "/abs", "../escape", "a//b", "a/./b"} {
		if _, err := c.Create(name); err == nil {
			t.Errorf("Create(%q) expected error", name)
		}
	}
}

func TestSetLimit(t *testing.T) {
	c := newController(t.TempDir())
	h := c.Handle("box")
	fakeNode(t, h.Path(), "cpu memory pids", "memory.max", "pids.max", "cpu.max", "cpu.weight")

	for _, tc := range []struct {
		limit Limit
		file  string
		want  string
	}{
		{MemoryLimit(256 << 20), "memory.max", "268435456"},
		{MemoryLimit(Unlimited), "memory.max", "max"},
		{PidsLimit(64), "pids.max", "64"},
		{CPUWeightLimit(200), "cpu.weight", "200"},
		{CPUMaxLimit(50000, 0), "cpu.max", "50000 100000"},
	} {
		if err := c.SetLimit(h, tc.limit); err != nil {
			t.Fatalf("SetLimit(%v): %v", tc.limit, err)
		}
		b, err := os.ReadFile(filepath.Join(h.Path(), tc.file))
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != tc.want {
			t.Errorf("%s = %q, want %q", tc.file, b, tc.want)
		}
	}
}

func TestSetLimitUnsupportedController(t *testing.T) {
	c := newController(t.TempDir())
	h := c.Handle("box")
	fakeNode(t, h.Path(), "memory")

	err := c.SetLimit(h, PidsLimit(10))
	if !errors.Is(err, ErrUnsupportedController) {
		t.Fatalf("expected ErrUnsupportedController, got %v", err)
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Path != h.Path() {
		t.Fatalf("expected *Error with path, got %v", err)
	}
}

func TestSetLimitInvalid(t *testing.T) {
	c := newController(t.TempDir())
	h := c.Handle("box")
	fakeNode(t, h.Path(), "cpu")
	if err := c.SetLimit(h, CPUWeightLimit(0)); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestAttach(t *testing.T) {
	c := newController(t.TempDir())
	h := c.Handle("box")
	fakeNode(t, h.Path(), "")

	if err := c.Attach(h, 1234); err != nil {
		t.Fatal(err)
	}
	pids, err := c.Procs(h)
	if err != nil {
		t.Fatal(err)
	}
	if len(pids) != 1 || pids[0] != 1234 {
		t.Errorf("unexpected procs %v", pids)
	}
	if err := c.Attach(h, 0); err == nil {
		t.Error("expected invalid pid error")
	}
}

func TestAttachRemoved(t *testing.T) {
	c := newController(t.TempDir())
	h := c.Handle("gone")
	if err := c.Attach(h, os.Getpid()); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	c := newController(t.TempDir())
	h, err := c.Create("box")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Remove(h); err != nil {
		t.Fatal(err)
	}
	if c.Exists(h) {
		t.Fatal("node still exists")
	}
	if err := c.Remove(h); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestRemoveNotEmptyBounded(t *testing.T) {
	c := newController(t.TempDir())
	c.RemoveAttempts = 3
	c.RemoveDelay = time.Millisecond
	h, err := c.Create("box")
	if err != nil {
		t.Fatal(err)
	}
	// a regular directory with content reports ENOTEMPTY like a busy cgroup
	if err := os.WriteFile(filepath.Join(h.Path(), "live"), []byte(strconv.Itoa(1)), filePerm); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	err = c.Remove(h)
	if !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("expected ErrNotEmpty, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("remove retried for too long: %v", time.Since(start))
	}
}

func TestChildParent(t *testing.T) {
	c := newController(t.TempDir())
	h, err := c.Create("outer")
	if err != nil {
		t.Fatal(err)
	}
	child, err := c.Child(h, "inner")
	if err != nil {
		t.Fatal(err)
	}
	if child.Name != "outer/inner" {
		t.Errorf("unexpected child name %q", child.Name)
	}
	p, ok := c.Parent(child)
	if !ok || p != h {
		t.Errorf("Parent(%v) = %v, %v", child, p, ok)
	}
	root, ok := c.Parent(h)
	if !ok || root.Path() != c.Root {
		t.Errorf("Parent(%v) = %v, %v", h, root, ok)
	}
	if _, ok := c.Parent(root); ok {
		t.Error("root should have no parent")
	}
}

func TestEnableControllers(t *testing.T) {
	c := newController(t.TempDir())
	h := c.Handle("box")
	fakeNode(t, h.Path(), "cpu memory pids", cgroupSubtreeControl)
	if err := c.EnableControllers(h, CPU, Memory); err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(filepath.Join(h.Path(), cgroupSubtreeControl))
	if string(b) != "+cpu +memory" {
		t.Errorf("unexpected subtree_control %q", b)
	}
	if err := c.EnableControllers(h); err == nil {
		t.Error("expected error on empty controller list")
	}
}

func TestEnableControllersUnsupported(t *testing.T) {
	c := newController(t.TempDir())
	h := c.Handle("box")
	fakeNode(t, h.Path(), "memory pids", cgroupSubtreeControl)
	if err := c.EnableControllers(h, Pids, CPU); !errors.Is(err, ErrUnsupportedController) {
		t.Fatalf("expected ErrUnsupportedController, got %v", err)
	}
	// nothing is written when a controller is missing
	b, _ := os.ReadFile(filepath.Join(h.Path(), cgroupSubtreeControl))
	if len(b) != 0 {
		t.Errorf("unexpected subtree_control %q", b)
	}
	if err := c.EnableControllers(c.Handle("missing"), Pids); !errors.Is(err, ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestUsage(t *testing.T) {
	c := newController(t.TempDir())
	h := c.Handle("box")
	fakeNode(t, h.Path(), "")
	os.WriteFile(filepath.Join(h.Path(), "cpu.stat"), []byte("usage_usec 1500\nuser_usec 1000\n"), filePerm)
	os.WriteFile(filepath.Join(h.Path(), "memory.current"), []byte("4096\n"), filePerm)

	cpu, err := c.CPUUsage(h)
	if err != nil || cpu != 1500000 {
		t.Errorf("CPUUsage = %d, %v", cpu, err)
	}
	mem, err := c.MemoryCurrent(h)
	if err != nil || mem != 4096 {
		t.Errorf("MemoryCurrent = %d, %v", mem, err)
	}
	if _, err := c.MemoryPeak(h); err == nil {
		t.Error("expected error for missing memory.peak")
	}
}

func TestParseProcCgroup(t *testing.T) {
	for _, tc := range []struct {
		content string
		want    string
		err     bool
	}{
		{"0::/user.slice/user-1000.slice\n", "user.slice/user-1000.slice", false},
		{"12:pids:/x\n0::/\n", "", false},
		{"12:pids:/x\n", "", true},
	} {
		got, err := parseProcCgroup(tc.content)
		if (err != nil) != tc.err || got != tc.want {
			t.Errorf("parseProcCgroup(%q) = %q, %v", tc.content, got, err)
		}
	}
}

func TestControllers(t *testing.T) {
	ct := ParseControllers("cpu io memory pids hugetlb")
	if ct.String() != "[cpu, io, memory, pids]" {
		t.Errorf("unexpected %v", ct)
	}
	want := ParseControllers("+cpu +memory")
	if !ct.Contains(want) {
		t.Error("expected contains")
	}
	want.Set(CPUSet, true)
	if ct.Contains(want) {
		t.Error("unexpected contains cpuset")
	}
	want.Intersect(ct)
	if want.Has(CPUSet) || !want.Has(Memory) {
		t.Errorf("unexpected intersect %v", want)
	}
}

func TestCgroupReal(t *testing.T) {
	root := os.Getenv("SBOX_TEST_CGROUP")
	if root == "" {
		t.Skip("SBOX_TEST_CGROUP is not set")
	}
	c, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	h, err := c.Create("sbox-cgroup-test")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Remove(h)
	ct, err := c.Controllers(h)
	if err != nil {
		t.Fatal(err)
	}
	if ct.Pids {
		if err := c.SetLimit(h, PidsLimit(16)); err != nil {
			t.Fatal(err)
		}
		v, err := c.ReadLimit(h, PidsMax)
		if err != nil || v != "16" {
			t.Errorf("pids.max = %q, %v", v, err)
		}
	}
	procs, err := c.Procs(h)
	if err != nil || len(procs) != 0 {
		t.Errorf("procs = %v, %v", procs, err)
	}
}
