package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/udovin/sbox/config"
	"github.com/udovin/sbox/container"
	"github.com/urfave/cli/v2"
)

// exit code of a command killed by --timeout, as timeout(1)
const timeoutCode = 124

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "run a command in a new container, destroyed after exit",
	ArgsUsage: "[COMMAND [ARG...]]",
	Flags: concatFlags([]cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "container id, generated when empty"},
		&cli.BoolFlag{Name: "keep", Usage: "keep the container after exit"},
	}, specFlags, processFlags),
	Action: func(c *cli.Context) error {
		spec, err := loadSpec(c)
		if err != nil {
			return err
		}
		m, err := newManager(c)
		if err != nil {
			return err
		}
		id := c.String("id")
		if id == "" {
			id = fmt.Sprintf("run-%d", os.Getpid())
		}
		ct, err := m.Create(id, spec)
		if err != nil {
			return err
		}
		if !c.Bool("keep") {
			defer func() {
				if err := m.Destroy(id); err != nil {
					logrus.WithError(err).Warn("Failed to destroy container")
				}
			}()
		}
		status, err := execute(c, ct, spec, c.Args().Slice())
		if err != nil {
			return err
		}
		return exitStatus(status)
	},
}

var execCommand = &cli.Command{
	Name:      "exec",
	Usage:     "run a command in a created container",
	ArgsUsage: "ID [COMMAND [ARG...]]",
	Flags:     processFlags,
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return errors.New("container id required")
		}
		m, err := newManager(c)
		if err != nil {
			return err
		}
		id := c.Args().First()
		spec, err := m.Spec(id)
		if err != nil {
			return err
		}
		ct, err := m.Get(id)
		if err != nil {
			return err
		}
		// another sbox may run a process in the container
		if procs, err := ct.Procs(); err == nil && len(procs) > 0 {
			return fmt.Errorf("%s: %w", id, container.ErrAlreadyRunning)
		}
		status, err := execute(c, ct, spec, c.Args().Tail())
		if err != nil {
			return err
		}
		return exitStatus(status)
	},
}

// execute starts the process with the command line arguments, or the
// default command of spec, and waits for it
func execute(c *cli.Context, ct *container.Container, spec *config.Spec, args []string) (container.ExitStatus, error) {
	pc, err := spec.ProcessConfig(args)
	if err != nil {
		return container.ExitStatus{}, err
	}
	if env := c.StringSlice("env"); len(env) > 0 {
		if len(pc.Env) == 0 {
			pc.Env = []string{container.PathEnv}
		}
		pc.Env = append(pc.Env, env...)
	}
	if c.IsSet("cwd") {
		pc.Dir = c.String("cwd")
	}
	files, err := openStdio(c.String("in"), c.String("out"), c.String("err"))
	if err != nil {
		return container.ExitStatus{}, err
	}
	defer files.Close()
	pc.Stdin, pc.Stdout, pc.Stderr = files.Stdin(), files.Stdout(), files.Stderr()

	start := time.Now()
	p, err := ct.Start(pc)
	if err != nil {
		return container.ExitStatus{}, err
	}
	log := logrus.WithFields(logrus.Fields{"container": ct.ID(), "pid": p.Pid()})
	log.Debug("Started")

	// the first interrupt is forwarded, the second kills the container
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		forwarded := false
		for {
			select {
			case <-p.Done():
				return
			case s := <-sig:
				if forwarded {
					log.Warn("Killing container")
					ct.Kill()
					continue
				}
				forwarded = true
				if err := p.Signal(s); err != nil {
					log.WithError(err).Debug("Failed to forward signal")
				}
			}
		}
	}()

	timeout := c.Duration("timeout")
	if timeout == 0 {
		timeout = container.WaitForever
	}
	status, err := p.Wait(timeout)
	if err != nil {
		return status, err
	}
	if status.Kind == container.TimedOut {
		log.WithField("timeout", timeout).Warn("Time limit exceeded")
		if err := ct.Kill(); err != nil {
			return status, err
		}
		if _, err := p.Wait(container.WaitForever); err != nil {
			return status, err
		}
	}
	log.WithFields(logrus.Fields{
		"status":  status.String(),
		"elapsed": time.Since(start),
	}).Debug("Finished")
	if c.Bool("stats") {
		logStats(log, ct, p)
	}
	return status, nil
}

func logStats(log logrus.FieldLogger, ct *container.Container, p *container.Process) {
	fields := logrus.Fields{}
	if ru, ok := p.Rusage(); ok {
		fields["user"] = time.Duration(ru.Utime.Nano())
		fields["system"] = time.Duration(ru.Stime.Nano())
		fields["maxrss"] = units.BytesSize(float64(ru.Maxrss << 10))
	}
	if st, err := ct.Stats(); err == nil {
		fields["cpu"] = time.Duration(st.CPUTime)
		fields["memory_peak"] = units.BytesSize(float64(st.MemoryPeak))
	} else {
		log.WithError(err).Debug("Failed to read cgroup usage")
	}
	log.WithFields(fields).Info("Usage")
}

// exitStatus mirrors the status of the command, signals are reported as
// 128+n like shells do
func exitStatus(s container.ExitStatus) error {
	switch s.Kind {
	case container.Exited:
		if s.Code == 0 {
			return nil
		}
		return cli.Exit("", int(s.Code))
	case container.Signaled:
		return cli.Exit("", 128+int(s.Signal))
	default:
		return cli.Exit("", timeoutCode)
	}
}

func concatFlags(groups ...[]cli.Flag) []cli.Flag {
	var res []cli.Flag
	for _, g := range groups {
		res = append(res, g...)
	}
	return res
}
