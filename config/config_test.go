package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/udovin/sbox/pkg/cgroup"
	"github.com/udovin/sbox/pkg/idmap"
	"github.com/udovin/sbox/pkg/mount"
	"github.com/udovin/sbox/pkg/seccomp"
)

const testSpec = `
rootfs: rootfs
hostname: box
read_only_root: true
mounts:
  - type: base
    mqueue: true
  - type: bind
    source: data
    target: /data
    read_only: true
  - type: tmpfs
    target: /tmp
    size: 64m
    mode: "1777"
limits:
  memory: 256m
  pids: 64
  cpus: 0.5
idmap:
  uids: [{container_id: 0, host_id: 1000, size: 1}]
  gids: [{container_id: 0, host_id: 1000, size: 1}]
process:
  args: [/bin/sh, -c, "echo hi"]
  dir: /tmp
  rlimits:
    open_file: 256
  seccomp:
    profile: default
    deny: [ptrace]
    allow: [syslog]
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "box.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSpec), 0644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rootfs"), s.Rootfs)
	assert.Equal(t, filepath.Join(dir, "data"), s.Mounts[1].Source)
	assert.Equal(t, "/data", s.Mounts[1].Target)
	assert.Equal(t, Size(64<<20), s.Mounts[2].Size)
	assert.Equal(t, Size(256<<20), s.Limits.Memory)
	assert.Equal(t, uint64(256), s.Process.RLimits.OpenFile)
	assert.Equal(t, idmap.Single(1000, 1000), s.IDMap.Mapping)
}

func TestParseUnknownField(t *testing.T) {
	_, err := Parse(strings.NewReader("rootfs: /x\nrootfs_typo: 1\n"))
	assert.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	s, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, &Spec{}, s)
}

func TestParseBadSize(t *testing.T) {
	_, err := Parse(strings.NewReader("limits:\n  memory: lots\n"))
	assert.Error(t, err)
}

func TestContainer(t *testing.T) {
	s, err := Parse(strings.NewReader(testSpec))
	require.NoError(t, err)
	c, err := s.Container("box", "/state/box", "/sys/fs/cgroup/sbox")
	require.NoError(t, err)

	assert.Equal(t, "box", c.ID)
	assert.Equal(t, "/state/box", c.StateDir)
	assert.Equal(t, "/sys/fs/cgroup/sbox", c.CgroupRoot)
	assert.True(t, c.ReadOnlyRoot)
	assert.Equal(t, mount.Plan{
		mount.BaseMounts{Mqueue: true},
		mount.Bind{Source: "data", Target: "/data", ReadOnly: true},
		mount.Tmpfs{Target: "/tmp", SizeLimit: 64 << 20, Mode: 01777},
	}, c.Mounts)
	assert.Equal(t, []cgroup.Limit{
		cgroup.MemoryLimit(256 << 20),
		cgroup.PidsLimit(64),
		cgroup.CPUMaxLimit(50000, 100000),
	}, c.Limits)
	assert.Equal(t, idmap.Single(1000, 1000), c.Mapping)
}

func TestProcessConfig(t *testing.T) {
	s, err := Parse(strings.NewReader(testSpec))
	require.NoError(t, err)

	pc, err := s.ProcessConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/sh", "-c", "echo hi"}, pc.Args)
	assert.Equal(t, "/tmp", pc.Dir)
	assert.NotEmpty(t, pc.Seccomp)

	pc, err = s.ProcessConfig([]string{"true"})
	require.NoError(t, err)
	assert.Equal(t, []string{"true"}, pc.Args)
}

func TestMountDescriptor(t *testing.T) {
	tests := []struct {
		mount Mount
		want  mount.Descriptor
	}{
		{Mount{Type: "base", Cgroup: true}, mount.BaseMounts{PrivateNetwork: true, Cgroup: true}},
		{Mount{Type: "proc", ReadOnly: true}, mount.Proc{ReadOnly: true}},
		{Mount{Type: "sysfs"}, mount.Sysfs{}},
		{Mount{Type: "devpts"}, mount.DevPts{}},
		{Mount{Type: "mqueue"}, mount.Mqueue{}},
		{Mount{Type: "cgroup2"}, mount.Cgroup2{}},
		{
			Mount{Type: "overlay", Target: "/opt", Lower: []string{"/a", "/b"}, Upper: "/u", Work: "/w"},
			mount.Overlay{Target: "/opt", LowerDirs: []string{"/a", "/b"}, UpperDir: "/u", WorkDir: "/w"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.mount.Type, func(t *testing.T) {
			d, err := tt.mount.Descriptor(true)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestMountDescriptorInvalid(t *testing.T) {
	for _, m := range []Mount{
		{Type: "nfs"},
		{Type: "bind", Target: "/x"},
		{Type: "tmpfs", Target: "/tmp", Mode: "rwx"},
	} {
		_, err := m.Descriptor(false)
		assert.ErrorIs(t, err, mount.ErrInvalidDescriptor, "%+v", m)
	}
	s := &Spec{Mounts: []Mount{{Type: "base"}, {Type: "nfs"}}}
	_, err := s.Plan()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mounts[1]")
}

func TestLimitsCgroup(t *testing.T) {
	assert.Empty(t, Limits{}.Cgroup())
	assert.Equal(t, []cgroup.Limit{cgroup.CPUWeightLimit(200)}, Limits{CPUWeight: 200}.Cgroup())
}

func TestSeccompFilter(t *testing.T) {
	_, err := (&Seccomp{Profile: "strict"}).Filter()
	assert.Error(t, err)

	_, err = (&Seccomp{}).Filter()
	assert.ErrorIs(t, err, seccomp.ErrEmptyFilter)

	f, err := (&Seccomp{Profile: "default"}).Filter()
	require.NoError(t, err)
	assert.NotEmpty(t, f)

	// names listed twice or both allowed and denied are accepted
	f, err = (&Seccomp{Builder: seccomp.Builder{
		Deny:  []string{"ptrace", "ptrace", "mount"},
		Allow: []string{"mount"},
	}}).Filter()
	require.NoError(t, err)
	assert.NotEmpty(t, f)
}

func TestSize(t *testing.T) {
	spec, err := Parse(strings.NewReader("limits:\n  memory: 1GiB\n"))
	require.NoError(t, err)
	assert.Equal(t, Size(1<<30), spec.Limits.Memory)
	assert.Equal(t, "1GiB", spec.Limits.Memory.String())
}

func TestSaveRoundTrip(t *testing.T) {
	s, err := Parse(strings.NewReader(testSpec))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	// relative paths are resolved against the saved file
	s.resolve(filepath.Dir(path))
	assert.Equal(t, s, loaded)
}
