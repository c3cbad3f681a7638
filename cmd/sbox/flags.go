package main

import (
	"fmt"
	"path/filepath"
	"strings"

	units "github.com/docker/go-units"
	"github.com/udovin/sbox/config"
	"github.com/urfave/cli/v2"
)

// specFlags override fields of the definition file
var specFlags = []cli.Flag{
	&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "container definition `FILE`"},
	&cli.StringFlag{Name: "rootfs", Usage: "root `DIR`, bind mounted"},
	&cli.StringSliceFlag{Name: "layer", Usage: "overlay lower `DIR`, highest priority first"},
	&cli.BoolFlag{Name: "read-only", Usage: "read-only root"},
	&cli.StringFlag{Name: "hostname"},
	&cli.BoolFlag{Name: "net", Usage: "private network namespace with loopback only"},
	&cli.BoolFlag{Name: "share-pid", Usage: "keep the host pid namespace"},
	&cli.BoolFlag{Name: "sealed-init", Usage: "run a sealed in-memory copy of sbox as the container init"},
	&cli.BoolFlag{Name: "subids", Usage: "map sub-ids of the caller from /etc/subuid and /etc/subgid"},
	&cli.StringSliceFlag{Name: "bind", Usage: "bind mount `SRC:DST[:ro]`"},
	&cli.StringSliceFlag{Name: "tmpfs", Usage: "tmpfs mount `DST[:SIZE]`"},
	&cli.StringFlag{Name: "memory", Usage: "memory limit, e.g. 256m"},
	&cli.Uint64Flag{Name: "pids", Usage: "pids limit"},
	&cli.Uint64Flag{Name: "cpu-weight", Usage: "cpu weight [1, 10000]"},
	&cli.Float64Flag{Name: "cpus", Usage: "cpu quota in cores"},
	&cli.StringFlag{Name: "seccomp", Usage: "seccomp profile (default)"},
}

// processFlags override the default command settings
var processFlags = []cli.Flag{
	&cli.StringSliceFlag{Name: "env", Aliases: []string{"e"}, Usage: "environment `KEY=VALUE`"},
	&cli.StringFlag{Name: "cwd", Usage: "working directory inside the container"},
	&cli.StringFlag{Name: "in", Usage: "stdin `FILE`"},
	&cli.StringFlag{Name: "out", Usage: "stdout `FILE`"},
	&cli.StringFlag{Name: "err", Usage: "stderr `FILE`"},
	&cli.DurationFlag{Name: "timeout", Usage: "kill the command after the duration"},
	&cli.BoolFlag{Name: "stats", Usage: "log cgroup usage after exit"},
}

// loadSpec reads --config or the default definition and applies the flags
func loadSpec(c *cli.Context) (*config.Spec, error) {
	spec := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if spec, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if c.IsSet("rootfs") {
		p, err := filepath.Abs(c.String("rootfs"))
		if err != nil {
			return nil, err
		}
		spec.Rootfs, spec.Layers = p, nil
	}
	if c.IsSet("layer") {
		spec.Rootfs, spec.Layers = "", nil
		for _, l := range c.StringSlice("layer") {
			p, err := filepath.Abs(l)
			if err != nil {
				return nil, err
			}
			spec.Layers = append(spec.Layers, p)
		}
	}
	if c.IsSet("read-only") {
		spec.ReadOnlyRoot = c.Bool("read-only")
	}
	if c.IsSet("hostname") {
		spec.Hostname = c.String("hostname")
	}
	if c.IsSet("net") {
		spec.PrivateNetwork = c.Bool("net")
	}
	if c.IsSet("share-pid") {
		spec.SharePID = c.Bool("share-pid")
	}
	if c.IsSet("sealed-init") {
		spec.SealedInit = c.Bool("sealed-init")
	}
	if c.IsSet("subids") {
		spec.IDMap.SubIDs = c.Bool("subids")
	}
	for _, b := range c.StringSlice("bind") {
		m, err := parseBind(b)
		if err != nil {
			return nil, err
		}
		spec.Mounts = append(spec.Mounts, m)
	}
	for _, t := range c.StringSlice("tmpfs") {
		m, err := parseTmpfs(t)
		if err != nil {
			return nil, err
		}
		spec.Mounts = append(spec.Mounts, m)
	}
	if c.IsSet("memory") {
		n, err := units.RAMInBytes(c.String("memory"))
		if err != nil {
			return nil, fmt.Errorf("--memory: %w", err)
		}
		spec.Limits.Memory = config.Size(n)
	}
	if c.IsSet("pids") {
		spec.Limits.Pids = c.Uint64("pids")
	}
	if c.IsSet("cpu-weight") {
		spec.Limits.CPUWeight = c.Uint64("cpu-weight")
	}
	if c.IsSet("cpus") {
		spec.Limits.CPUs = c.Float64("cpus")
	}
	if c.IsSet("seccomp") {
		if spec.Process.Seccomp == nil {
			spec.Process.Seccomp = new(config.Seccomp)
		}
		spec.Process.Seccomp.Profile = c.String("seccomp")
	}
	return spec, nil
}

func parseBind(s string) (config.Mount, error) {
	parts := strings.Split(s, ":")
	m := config.Mount{Type: "bind", Recursive: true}
	switch {
	case len(parts) == 2:
	case len(parts) == 3 && parts[2] == "ro":
		m.ReadOnly = true
	default:
		return m, fmt.Errorf("--bind %q: expected SRC:DST[:ro]", s)
	}
	src, err := filepath.Abs(parts[0])
	if err != nil {
		return m, err
	}
	m.Source, m.Target = src, parts[1]
	return m, nil
}

func parseTmpfs(s string) (config.Mount, error) {
	dst, size, _ := strings.Cut(s, ":")
	m := config.Mount{Type: "tmpfs", Target: dst}
	if size != "" {
		n, err := units.RAMInBytes(size)
		if err != nil {
			return m, fmt.Errorf("--tmpfs %q: %w", s, err)
		}
		m.Size = config.Size(n)
	}
	return m, nil
}
