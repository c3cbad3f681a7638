package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/udovin/sbox/container"
	"github.com/udovin/sbox/manager"
	"github.com/urfave/cli/v2"
)

const (
	killPolls     = 50
	killPollDelay = 20 * time.Millisecond
)

var createCommand = &cli.Command{
	Name:      "create",
	Usage:     "create a container without starting a process",
	ArgsUsage: "ID",
	Flags:     specFlags,
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return errors.New("container id required")
		}
		spec, err := loadSpec(c)
		if err != nil {
			return err
		}
		m, err := newManager(c)
		if err != nil {
			return err
		}
		ct, err := m.Create(c.Args().First(), spec)
		if err != nil {
			return err
		}
		fmt.Println(ct.ID())
		return nil
	},
}

var listCommand = &cli.Command{
	Name:    "list",
	Aliases: []string{"ls"},
	Usage:   "list stored containers",
	Action: func(c *cli.Context) error {
		m, err := newManager(c)
		if err != nil {
			return err
		}
		ids, err := m.List()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tROOT")
		for _, id := range ids {
			fmt.Fprintf(w, "%s\t%s\t%s\n", id, status(m, id), root(m, id))
		}
		return w.Flush()
	},
}

func status(m *manager.Manager, id string) string {
	ct, err := m.Get(id)
	if err != nil {
		return "stale"
	}
	procs, err := ct.Procs()
	switch {
	case err != nil:
		return "stale"
	case len(procs) > 0:
		return "running"
	default:
		return "created"
	}
}

func root(m *manager.Manager, id string) string {
	spec, err := m.Spec(id)
	if err != nil {
		return "-"
	}
	if spec.Rootfs != "" {
		return spec.Rootfs
	}
	return strings.Join(spec.Layers, ":")
}

var statsCommand = &cli.Command{
	Name:      "stats",
	Usage:     "show cgroup usage and limits",
	ArgsUsage: "ID",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return errors.New("container id required")
		}
		m, err := newManager(c)
		if err != nil {
			return err
		}
		ct, err := m.Get(c.Args().First())
		if err != nil {
			return err
		}
		st, err := ct.Stats()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintf(w, "cpu\t%v\n", time.Duration(st.CPUTime))
		fmt.Fprintf(w, "memory.current\t%s\n", units.BytesSize(float64(st.MemoryCurrent)))
		fmt.Fprintf(w, "memory.peak\t%s\n", units.BytesSize(float64(st.MemoryPeak)))
		limits := ct.Limits()
		files := make([]string, 0, len(limits))
		for f := range limits {
			files = append(files, f)
		}
		sort.Strings(files)
		for _, f := range files {
			fmt.Fprintf(w, "%s\t%s\n", f, limits[f])
		}
		return w.Flush()
	},
}

var destroyCommand = &cli.Command{
	Name:      "destroy",
	Aliases:   []string{"rm"},
	Usage:     "destroy containers",
	ArgsUsage: "ID...",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "all", Aliases: []string{"a"}, Usage: "destroy every stored container"},
		&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "kill running processes first"},
	},
	Action: func(c *cli.Context) error {
		m, err := newManager(c)
		if err != nil {
			return err
		}
		ids := c.Args().Slice()
		if c.Bool("all") {
			if ids, err = m.List(); err != nil {
				return err
			}
		}
		if len(ids) == 0 && !c.Bool("all") {
			return errors.New("container id required")
		}
		if c.Bool("force") {
			for _, id := range ids {
				if ct, err := m.Get(id); err == nil {
					killAndWait(ct)
				}
			}
		}
		if c.Bool("all") {
			return m.DestroyAll()
		}
		var errs []error
		for _, id := range ids {
			if err := m.Destroy(id); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
			}
		}
		return errors.Join(errs...)
	},
}

// killAndWait kills the processes of the container and waits for the
// cgroup to become empty
func killAndWait(ct *container.Container) {
	if err := ct.Kill(); err != nil {
		logrus.WithError(err).Debug("Failed to kill container")
		return
	}
	for i := 0; i < killPolls; i++ {
		if procs, err := ct.Procs(); err != nil || len(procs) == 0 {
			return
		}
		time.Sleep(killPollDelay)
	}
}
