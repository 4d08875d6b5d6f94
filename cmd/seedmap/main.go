package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/b1naryth1ef/seedmap"
)

func main() {
	app := &cli.App{
		Name:        "seedmap",
		Description: "world seed map importer, renderer and tile server",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:  "config",
				Usage: "path to the configuration file",
				Value: "config.hcl",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log debug messages",
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			{
				Name:   "import",
				Usage:  "convert the configured worlds into the dataset",
				Action: commandImport,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "tile-size",
						Usage: "natural tile edge in pixels",
					},
				},
			},
			{
				Name:   "render",
				Usage:  "render a rectangle of one seed to an image file",
				Action: commandRender,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "seed", Required: true},
					&cli.PathFlag{Name: "out", Usage: "output file, format chosen by extension (default <seed>.png)"},
					&cli.IntFlag{Name: "width", Value: 1024, Usage: "canvas width in pixels"},
					&cli.IntFlag{Name: "height", Value: 1024, Usage: "canvas height in pixels"},
					&cli.Float64Flag{Name: "left", Usage: "left edge in cells"},
					&cli.Float64Flag{Name: "bottom", Usage: "bottom edge in cells"},
					&cli.Float64Flag{Name: "cells-wide", Usage: "visible width in cells (default whole world)"},
					&cli.Float64Flag{Name: "cells-high", Usage: "visible height in cells (default whole world)"},
					&cli.StringFlag{Name: "overlay", Usage: "none, temperature or mass"},
					&cli.IntFlag{Name: "quality", Usage: "jpeg quality"},
				},
			},
			{
				Name:   "serve",
				Usage:  "serve map tiles over HTTP",
				Action: commandServe,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "listen", Usage: "listen address, overrides the config"},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "seedmap:", err)
		os.Exit(1)
	}
}

func setupLogging(ctx *cli.Context) error {
	level := slog.LevelInfo
	if ctx.Bool("verbose") {
		level = slog.LevelDebug
	}
	seedmap.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

func loadConfig(ctx *cli.Context) (*seedmap.Config, error) {
	cfg, err := seedmap.LoadConfig(ctx.Path("config"))
	if err != nil {
		return nil, err
	}
	if cfg.Dataset == "" {
		return nil, fmt.Errorf("%s: dataset is not set", ctx.Path("config"))
	}
	return cfg, nil
}
