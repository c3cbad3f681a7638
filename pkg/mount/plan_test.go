package mount

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func TestOverlayData(t *testing.T) {
	o := Overlay{LowerDirs: []string{"/a", "/b"}, UpperDir: "/u", WorkDir: "/w", Options: []string{"userxattr"}}
	data, err := o.Data()
	if err != nil {
		t.Fatal(err)
	}
	// first lower dir is the top-most layer
	if data != "lowerdir=/a:/b,upperdir=/u,workdir=/w,userxattr" {
		t.Errorf("unexpected data %q", data)
	}
}

func TestOverlayInvalid(t *testing.T) {
	for _, o := range []Overlay{
		{},
		{LowerDirs: []string{"/a"}, UpperDir: "/u"},
		{LowerDirs: []string{"/a:b"}},
		{LowerDirs: []string{"relative"}},
		{LowerDirs: []string{"/" + strings.Repeat("x", maxMountData)}},
	} {
		if _, err := (Plan{o}).Compile(); !errors.Is(err, ErrInvalidDescriptor) {
			t.Errorf("Compile(%+v) expected ErrInvalidDescriptor, got %v", o, err)
		}
	}
}

func TestReadOnlyOverlay(t *testing.T) {
	mounts, err := Plan{Overlay{LowerDirs: []string{"/a", "/b"}}}.Compile()
	if err != nil {
		t.Fatal(err)
	}
	if len(mounts) != 1 || !mounts[0].IsReadOnly() || mounts[0].Target != "" {
		t.Errorf("unexpected %+v", mounts)
	}
}

func TestCompileBaseMountsOrder(t *testing.T) {
	mounts, err := Plan{BaseMounts{PrivateNetwork: true, Mqueue: true}}.Compile()
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, m := range mounts {
		if m.Symlink || m.File {
			continue
		}
		order = append(order, m.Target)
	}
	want := "proc,sys,dev,dev/pts,dev/shm,dev/mqueue"
	if strings.Join(order, ",") != want {
		t.Errorf("mount order %v, want %s", order, want)
	}
	devIdx, ptsIdx := -1, -1
	for i, m := range mounts {
		switch {
		case m.Target == "dev":
			devIdx = i
		case m.Target == "dev/null":
			if devIdx < 0 || !m.File || !m.IsBindMount() {
				t.Errorf("device node bound before /dev or not as file: %+v", m)
			}
		case m.Target == "dev/pts":
			ptsIdx = i
		}
	}
	if devIdx < 0 || ptsIdx < devIdx {
		t.Errorf("devpts must follow /dev: dev=%d pts=%d", devIdx, ptsIdx)
	}
}

func TestCompileBaseMountsHostSys(t *testing.T) {
	mounts, err := Plan{BaseMounts{}}.Compile()
	if err != nil {
		t.Fatal(err)
	}
	sys := mounts[1]
	if sys.Target != "sys" || !sys.IsBindMount() || !sys.IsReadOnly() || sys.Flags&unix.MS_REC == 0 {
		t.Errorf("expected recursive read-only bind of /sys, got %+v", sys)
	}
}

func TestCompileVariants(t *testing.T) {
	plan := Plan{
		Bind{Source: "/usr", Target: "/usr", ReadOnly: true},
		Proc{},
		Tmpfs{Target: "/tmp/", SizeLimit: 1 << 20, Mode: 01777},
		DevPts{},
		Cgroup2{},
	}
	mounts, err := plan.Compile()
	if err != nil {
		t.Fatal(err)
	}
	if len(mounts) != len(plan) {
		t.Fatalf("expected %d steps, got %d", len(plan), len(mounts))
	}
	if m := mounts[0]; m.Target != "usr" || !m.IsReadOnly() {
		t.Errorf("bind: %+v", m)
	}
	if m := mounts[2]; m.Target != "tmp" || m.Data != "mode=1777,size=1048576" {
		t.Errorf("tmpfs: %+v", m)
	}
	if m := mounts[3]; m.FsType != "devpts" || !strings.Contains(m.Data, "newinstance") {
		t.Errorf("devpts: %+v", m)
	}
	if s := plan.String(); !strings.HasPrefix(s, "Mounts: bind[/usr:usr:ro]") {
		t.Errorf("unexpected plan string %q", s)
	}
}

func TestCompileInvalid(t *testing.T) {
	for _, p := range []Plan{
		{nil},
		{Bind{Target: "x"}},
		{Tmpfs{Target: "/"}},
	} {
		if _, err := p.Compile(); !errors.Is(err, ErrInvalidDescriptor) {
			t.Errorf("Compile(%v) expected ErrInvalidDescriptor, got %v", p, err)
		}
	}
}
