package mount

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"
)

func TestMount_IsBindMount(t *testing.T) {
	m := Mount{Flags: syscall.MS_BIND}
	if !m.IsBindMount() {
		t.Errorf("expected IsBindMount true")
	}
	m.Flags = 0
	if m.IsBindMount() {
		t.Errorf("expected IsBindMount false")
	}
}

func TestMount_IsReadOnly(t *testing.T) {
	m := Mount{Flags: syscall.MS_RDONLY}
	if !m.IsReadOnly() {
		t.Errorf("expected IsReadOnly true")
	}
	m.Flags = 0
	if m.IsReadOnly() {
		t.Errorf("expected IsReadOnly false")
	}
}

func TestMount_String(t *testing.T) {
	tests := []struct {
		m    Mount
		want string
	}{
		{
			m:    Mount{Source: "/src", Target: "dst", Flags: syscall.MS_BIND},
			want: "bind[/src:dst:rw]",
		},
		{
			m:    Mount{Source: "/src", Target: "", Flags: syscall.MS_BIND | syscall.MS_RDONLY},
			want: "bind[/src:/:ro]",
		},
		{
			m:    Mount{Target: "tmp", FsType: "tmpfs"},
			want: "tmpfs[tmp]",
		},
		{
			m:    Mount{Target: "proc", FsType: "proc", Flags: syscall.MS_RDONLY},
			want: "proc[ro]",
		},
		{
			m:    Mount{Source: "/proc/self/fd", Target: "dev/fd", Symlink: true},
			want: "symlink[dev/fd->/proc/self/fd]",
		},
		{
			m:    Mount{Source: "src", Target: "dst", FsType: "other", Flags: 0, Data: "data"},
			want: "mount[other,src:dst:0,data]",
		},
	}
	for _, tt := range tests {
		got := tt.m.String()
		if got != tt.want {
			t.Errorf("Mount.String() = %q, want %q", got, tt.want)
		}
	}
}

func TestEnsureMountTargetExists_Dir(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "foo/bar")
	created, err := ensureMountTargetExists(Mount{Source: tmpDir, Flags: bind}, target)
	if err != nil {
		t.Fatalf("ensureMountTargetExists error: %v", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("expected directory at %s", target)
	}
	want := []string{filepath.Join(tmpDir, "foo"), target}
	if strings.Join(created, ",") != strings.Join(want, ",") {
		t.Errorf("created = %v, want %v", created, want)
	}
}

func TestEnsureMountTargetExists_File(t *testing.T) {
	tmpDir := t.TempDir()
	srcFile := filepath.Join(tmpDir, "srcfile")
	if err := os.WriteFile(srcFile, []byte("x"), 0644); err != nil {
		t.Fatalf("write srcfile: %v", err)
	}
	target := filepath.Join(tmpDir, "targetfile")
	if _, err := ensureMountTargetExists(Mount{Source: srcFile, Flags: bind}, target); err != nil {
		t.Fatalf("ensureMountTargetExists error: %v", err)
	}
	info, err := os.Lstat(target)
	if err != nil {
		t.Fatalf("lstat error: %v", err)
	}
	if info.IsDir() {
		t.Errorf("expected file at %s, got directory", target)
	}
	// existing target is kept and not reported as created
	created, err := ensureMountTargetExists(Mount{Source: srcFile, Flags: bind}, target)
	if err != nil || len(created) != 0 {
		t.Errorf("second call created %v, %v", created, err)
	}
}

func TestResolveStaysInRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.Symlink("/etc", filepath.Join(root, "escape")); err != nil {
		t.Fatal(err)
	}
	p, err := Resolve(root, "/escape/passwd")
	if err != nil {
		t.Fatal(err)
	}
	if p != filepath.Join(root, "etc/passwd") {
		t.Errorf("Resolve escaped root: %s", p)
	}
	if p, _ := Resolve(root, "/"); p != root {
		t.Errorf("Resolve(root) = %s", p)
	}
}

func TestApplySymlinksAndUnwind(t *testing.T) {
	root := t.TempDir()
	applied, err := Apply(root, defaultSymLinks, nil)
	if err != nil {
		t.Fatal(err)
	}
	link, err := os.Readlink(filepath.Join(root, "dev/ptmx"))
	if err != nil || link != "pts/ptmx" {
		t.Errorf("dev/ptmx -> %q, %v", link, err)
	}
	if err := Unwind(applied, nil); err != nil {
		t.Fatal(err)
	}
	assertEmptyDir(t, root)
}

func TestApplyFailureUnwinds(t *testing.T) {
	root := t.TempDir()
	mounts := []Mount{
		{Source: "/proc/self/fd", Target: "dev/fd", Symlink: true},
		{Source: "none", Target: "a/b/c", FsType: "sbox-invalid-fs"},
	}
	_, err := Apply(root, mounts, nil)
	var merr *Error
	if !errors.As(err, &merr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if merr.Index != 1 || merr.Op != "mount" {
		t.Errorf("unexpected failing step %d %s", merr.Index, merr.Op)
	}
	assertEmptyDir(t, root)
}

func TestSplitRoot(t *testing.T) {
	mounts := []Mount{
		{Source: "overlay", FsType: "overlay"},
		{Source: "proc", Target: "proc", FsType: "proc"},
		{Source: "x", Target: "", Flags: bind},
	}
	root, rest := SplitRoot(mounts)
	if len(root) != 1 || len(rest) != 2 {
		t.Errorf("SplitRoot = %v, %v", root, rest)
	}
}

func TestMountedUnder(t *testing.T) {
	points, err := MountedUnder("/")
	if err != nil {
		t.Skipf("mountinfo unavailable: %v", err)
	}
	if len(points) == 0 || points[len(points)-1] != "/" {
		t.Errorf("root should be listed last: %v", points)
	}
}

func TestPlanRoundTrip(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("no root privilege")
	}
	base := t.TempDir()
	lowerA := mkLayer(t, base, "a", "shared", "from a")
	lowerB := mkLayer(t, base, "b", "shared", "from b")
	mkLayer(t, base, "b", "only-b", "b")
	upper := filepath.Join(base, "upper")
	work := filepath.Join(base, "work")
	root := filepath.Join(base, "root")
	for _, d := range []string{upper, work, root} {
		if err := os.Mkdir(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "keep"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	plan := Plan{
		Overlay{LowerDirs: []string{lowerA, lowerB}, UpperDir: upper, WorkDir: work, Target: "mnt"},
		Tmpfs{Target: "tmp", SizeLimit: 1 << 20},
	}
	mounts, err := plan.Compile()
	if err != nil {
		t.Fatal(err)
	}
	applied, err := Apply(root, mounts, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(root, "mnt/shared"))
	if err != nil || string(b) != "from a" {
		t.Errorf("overlay priority: got %q, %v", b, err)
	}
	if _, err := os.Stat(filepath.Join(root, "mnt/only-b")); err != nil {
		t.Errorf("lower layer b not visible: %v", err)
	}
	if err := Unwind(applied, nil); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "keep" {
		t.Errorf("root changed after round trip: %v", entries)
	}
}

func mkLayer(t *testing.T, base, name, file, content string) string {
	t.Helper()
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected %s to be empty, got %v", dir, entries)
	}
}

func TestMaskPathMissing(t *testing.T) {
	dir := t.TempDir()
	if err := maskPath(filepath.Join(dir, "missing"), filepath.Join(dir, "null")); err != nil {
		t.Errorf("missing target should be skipped: %v", err)
	}
	if err := MaskPaths(filepath.Join(dir, "missing")); err != nil {
		t.Errorf("MaskPaths: %v", err)
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := maskPath(file, filepath.Join(dir, "null")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing source should fail, got %v", err)
	}
}

func TestLockedMountFlags(t *testing.T) {
	got := lockedMountFlags(unix.ST_RDONLY | unix.ST_NOSUID | unix.ST_RELATIME)
	if want := uintptr(unix.MS_NOSUID | unix.MS_RELATIME); got != want {
		t.Errorf("lockedMountFlags = %#x, want %#x", got, want)
	}
	if got := lockedMountFlags(0); got != 0 {
		t.Errorf("lockedMountFlags(0) = %#x", got)
	}
}
