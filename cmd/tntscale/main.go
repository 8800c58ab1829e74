package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli"

	"github.com/chaz8081/tntscale/internal/config"
)

const version = "0.1.0"

func main() {
	app := cli.NewApp()
	app.Name = "tntscale"
	app.Usage = "pair with TNT body-composition scales and submit their measurements"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to config file (default: ~/.config/tntscale/config.yaml)",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "override log_level (debug, info, warn, error)",
		},
	}
	scan := []cli.Flag{
		cli.DurationFlag{
			Name:  "timeout, t",
			Usage: "stop scanning after this long",
		},
		cli.StringFlag{
			Name:  "name",
			Usage: "only report scales whose name contains this",
		},
		cli.StringFlag{
			Name:  "address",
			Usage: "only report scales whose address contains this",
		},
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:   "init",
			Usage:  "Write the default config file if none exists",
			Action: initCommand,
		},
		cli.Command{
			Name:   "scan",
			Usage:  "List nearby scales",
			Flags:  scan,
			Action: scanCommand,
		},
		cli.Command{
			Name:  "measure",
			Usage: "Connect to the first scale found and take a measurement",
			Flags: append(scan,
				cli.StringFlag{
					Name:   "backend",
					Usage:  "pairing backend URL",
					EnvVar: "TNTSCALE_BACKEND_URL",
				},
				cli.IntFlag{
					Name:  "slot",
					Usage: "user slot on the scale",
				},
				cli.BoolFlag{
					Name:  "bond",
					Usage: "verify the uuid the scale already holds for this profile instead of saving it",
				},
				cli.BoolFlag{
					Name:  "force",
					Usage: "overwrite a different profile stored in the slot",
				},
				cli.BoolFlag{
					Name:  "offline",
					Usage: "submit the measurement as taken offline",
				},
				cli.BoolFlag{
					Name:  "yes, y",
					Usage: "confirm overwriting an occupied slot without asking",
				},
			),
			Action: measureCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, Red("error: "+err.Error()))
		os.Exit(1)
	}
}

// setup loads and validates the config, applies command line overrides
// and installs the default logger.
func setup(c *cli.Context) (*config.Config, error) {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if lvl := c.GlobalString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if d := c.Duration("timeout"); d > 0 {
		cfg.Scan.Timeout = d
	}
	if c.IsSet("name") {
		cfg.Scan.Name = c.String("name")
	}
	if c.IsSet("address") {
		cfg.Scan.Address = c.String("address")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))
	return cfg, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}
	return config.Default(), nil
}

func initCommand(c *cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	fmt.Println("Config:", Cyan(path))
	return nil
}
