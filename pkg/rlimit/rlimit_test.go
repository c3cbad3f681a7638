package rlimit

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimits(t *testing.T) {
	tests := []struct {
		name   string
		rl     RLimits
		expect []int
	}{
		{"Empty", RLimits{}, nil},
		{"CPU only", RLimits{CPU: 1}, []int{syscall.RLIMIT_CPU}},
		{"Processes", RLimits{Processes: 8}, []int{rlimitNproc}},
		{"DisableCore only", RLimits{DisableCore: true}, []int{syscall.RLIMIT_CORE}},
		{
			"All fields",
			RLimits{CPU: 1, CPUHard: 2, Data: 1024, FileSize: 2048, Stack: 4096, AddressSpace: 8192, OpenFile: 16, Processes: 4, DisableCore: true},
			[]int{syscall.RLIMIT_CPU, syscall.RLIMIT_DATA, syscall.RLIMIT_FSIZE, syscall.RLIMIT_STACK, syscall.RLIMIT_AS, syscall.RLIMIT_NOFILE, rlimitNproc, syscall.RLIMIT_CORE},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res []int
			for _, r := range tt.rl.Limits() {
				res = append(res, r.Res)
			}
			assert.Equal(t, tt.expect, res)
		})
	}
}

func TestLimitsCPUHard(t *testing.T) {
	rls := (&RLimits{CPU: 3, CPUHard: 1}).Limits()
	require.Len(t, rls, 1)
	assert.Equal(t, syscall.Rlimit{Cur: 3, Max: 3}, rls[0].Rlim)
}

func TestRLimitString(t *testing.T) {
	tests := []struct {
		rl   RLimit
		want string
	}{
		{RLimit{Res: syscall.RLIMIT_CPU, Rlim: syscall.Rlimit{Cur: 1, Max: 2}}, "CPU[1 s:2 s]"},
		{RLimit{Res: syscall.RLIMIT_NOFILE, Rlim: syscall.Rlimit{Cur: 10, Max: 20}}, "OpenFile[10:20]"},
		{RLimit{Res: syscall.RLIMIT_DATA, Rlim: syscall.Rlimit{Cur: 1024, Max: 2048}}, "Data[1KiB:2KiB]"},
		{RLimit{Res: syscall.RLIMIT_FSIZE, Rlim: syscall.Rlimit{Cur: 100, Max: 200}}, "File[100B:200B]"},
		{RLimit{Res: syscall.RLIMIT_CORE}, "Core[0B:0B]"},
		{RLimit{Res: rlimitNproc, Rlim: syscall.Rlimit{Cur: 4, Max: 4}}, "Processes[4:4]"},
		{RLimit{Res: 99, Rlim: syscall.Rlimit{Cur: 1, Max: 1}}, "RLimit(99)[1:1]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.rl.String())
	}
}

func TestRLimitsString(t *testing.T) {
	rl := RLimits{CPU: 1, CPUHard: 2, Data: 1024, OpenFile: 16, DisableCore: true}
	assert.Equal(t, "RLimits[CPU[1 s:2 s],Data[1KiB:1KiB],OpenFile[16:16],Core[0B:0B]]", rl.String())
	assert.Equal(t, "RLimits[]", RLimits{}.String())
}

func TestApply(t *testing.T) {
	require.NoError(t, Apply(nil))

	var cur syscall.Rlimit
	require.NoError(t, syscall.Getrlimit(syscall.RLIMIT_NOFILE, &cur))
	assert.NoError(t, Apply([]RLimit{{Res: syscall.RLIMIT_NOFILE, Rlim: cur}}))
}
