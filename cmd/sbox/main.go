// Command sbox runs commands in unprivileged Linux containers.
//
//	sbox run --rootfs /srv/alpine --memory 256m -- /bin/sh -c 'echo hi'
//	sbox create --config box.yaml box
//	sbox exec box cat /etc/os-release
//	sbox destroy box
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/udovin/sbox/container"
	"github.com/udovin/sbox/manager"
	"github.com/urfave/cli/v2"
)

var version = "dev"

// container init
func init() {
	container.Init()
}

func main() {
	app := &cli.App{
		Name:    "sbox",
		Version: version,
		Usage:   "run commands in unprivileged containers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Usage:   "directory of stored containers",
				Value:   manager.DefaultRoot(),
				EnvVars: []string{"SBOX_ROOT"},
			},
			&cli.StringFlag{
				Name:    "cgroup-root",
				Usage:   "delegated cgroup2 directory, defaults to sbox under the current cgroup",
				EnvVars: []string{"SBOX_CGROUP_ROOT"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			logrus.SetFormatter(&logrus.TextFormatter{
				FullTimestamp: true,
			})
			if c.Bool("debug") {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			createCommand,
			execCommand,
			listCommand,
			statsCommand,
			destroyCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newManager(c *cli.Context) (*manager.Manager, error) {
	return manager.New(c.String("root"), c.String("cgroup-root"), logrus.StandardLogger())
}
