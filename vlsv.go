package main

import (
	"fmt"
	"os"

	"github.com/bitmark-inc/exitwithstatus"
	"github.com/bitmark-inc/logger"
	"github.com/urfave/cli"

	"github.com/phil-mansfield/vlsv/lib/config"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero"

func main() {
	// ensure exit handler is first
	defer exitwithstatus.Handler()

	app := cli.NewApp()
	app.Name = "vlsv"
	app.Usage = "build, store, and check AMR meshes in VLSV files"
	app.Version = version
	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: "",
			Usage: " configuration `FILE`, see example-config",
		},
		cli.StringFlag{
			Name:  "log-dir, l",
			Value: "",
			Usage: " write logs to `DIR` instead of the configured directory",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "generate",
			Usage:  "build the configured mesh and write it to the output file",
			Action: runGenerate,
		},
		{
			Name:      "check",
			Usage:     "load a mesh from a file and verify its structure",
			ArgsUsage: "FILE",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "mesh, m",
					Value: "",
					Usage: " mesh `NAME` [default: the configured name]",
				},
				cli.IntFlag{
					Name:  "processes, n",
					Value: 0,
					Usage: " read with `COUNT` processes [default: configured]",
				},
			},
			Action: runCheck,
		},
		{
			Name:      "dump",
			Usage:     "list the arrays stored in a file",
			ArgsUsage: "FILE",
			Action:    runDump,
		},
		{
			Name:   "example-config",
			Usage:  "print an example configuration file",
			Action: runExampleConfig,
		},
	}

	logging := false
	app.Before = func(c *cli.Context) error {
		cfg := config.Default()
		if name := c.GlobalString("config"); name != "" {
			var err error
			if cfg, err = config.Read(name); err != nil {
				return err
			}
		}
		if dir := c.GlobalString("log-dir"); dir != "" {
			cfg.Log.Directory = dir
		}

		if err := os.MkdirAll(cfg.Log.Directory, 0755); err != nil {
			return fmt.Errorf("could not create log directory: %s", err)
		}
		if err := logger.Initialise(cfg.LoggerConfiguration()); err != nil {
			return fmt.Errorf("logger initialization failed: %s", err)
		}
		logging = true
		logger.New("main").Infof("starting %s version %s", app.Name, version)

		c.App.Metadata = map[string]interface{}{"config": cfg}
		return nil
	}
	app.After = func(c *cli.Context) error {
		if logging {
			logger.Finalise()
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		exitwithstatus.Message("%s: terminated with error: %s", app.Name, err)
	}
}
