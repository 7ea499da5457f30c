// Command esh manages instances and volumes on the clouds listed in its
// configuration file.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/getsentry/raven-go"
	"github.com/pborman/uuid"
	"github.com/sirupsen/logrus"
	"github.com/travis-ci/cloud-driver/cbcontext"
	"github.com/travis-ci/cloud-driver/cloudbrain"
	"github.com/urfave/cli/v2"

	_ "github.com/travis-ci/cloud-driver/connection/ec2"
	_ "github.com/travis-ci/cloud-driver/connection/openstack"
)

func main() {
	app := &cli.App{
		Name:      "esh",
		Version:   cloudbrain.VersionString,
		Copyright: cloudbrain.CopyrightString,
		Usage:     "Manage instances and volumes across OpenStack, AWS and Eucalyptus",
		Before:    setup,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "esh.yml",
				Usage:   "The YAML file listing the configured drivers",
				EnvVars: []string{"ESH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "driver",
				Aliases: []string{"d"},
				Usage:   "The configured driver to use",
				EnvVars: []string{"ESH_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "sentry-dsn",
				Usage:   "The Sentry DSN to report deployment failures to, overriding the config file",
				EnvVars: []string{"ESH_SENTRY_DSN", "SENTRY_DSN"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Log at debug level",
				EnvVars: []string{"ESH_DEBUG"},
			},
		},
		Commands: commands,
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) error {
	logrus.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	if c.Bool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return nil
}

// env is what every command runs with: a context tagged with a request ID
// and the drivers loaded from the config file.
type env struct {
	ctx  context.Context
	core *cloudbrain.Core
}

func newEnv(c *cli.Context, needDriver bool) (*env, error) {
	ctx := cbcontext.FromRequestID(context.Background(), uuid.New())

	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}

	dsn := c.String("sentry-dsn")
	if dsn == "" {
		dsn = cfg.SentryDSN
	}
	if dsn != "" {
		if err := raven.SetDSN(dsn); err != nil {
			cbcontext.LoggerFromContext(ctx).WithField("err", err).Error("couldn't set up sentry")
		}
	}

	name := c.String("driver")
	if needDriver && name == "" {
		if len(cfg.Drivers) != 1 {
			return nil, fmt.Errorf("error: --driver is required when the config has %d drivers", len(cfg.Drivers))
		}
		for only := range cfg.Drivers {
			name = only
		}
	}

	core, err := loadCore(ctx, cfg, name)
	if err != nil {
		return nil, err
	}

	if name != "" {
		ctx = cbcontext.FromDriverName(ctx, name)
	}
	return &env{ctx: ctx, core: core}, nil
}
