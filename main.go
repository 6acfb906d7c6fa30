package main

import (
	"log"
	"os"

	"gopkg.in/urfave/cli.v2"
)

import _ "github.com/joho/godotenv/autoload"

const (
	flagConfig   = "config"
	flagAddr     = "addr"
	flagStorage  = "storage"
	flagToken    = "token"
	flagLogLevel = "log-level"
	flagGeoRef   = "georef"
)

var version = "dev"

var commands = []*cli.Command{
	{
		Name:  "serve",
		Usage: "Run the tile download server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Usage:   "The XML config file.",
				Value:   "config.xml",
				EnvVars: []string{"MAPPACK_CONFIG"},
			},
			&cli.StringFlag{
				Name:    flagAddr,
				Usage:   "The address to listen on, overrides MainRouter.",
				EnvVars: []string{"MAPPACK_ADDR"},
			},
			&cli.StringFlag{
				Name:    flagStorage,
				Usage:   "The bucket URL or local directory for tiles and bundles.",
				EnvVars: []string{"MAPPACK_STORAGE"},
			},
			&cli.StringFlag{
				Name:    flagToken,
				Usage:   "The tile service token.",
				EnvVars: []string{"TIANDITU_TOKEN"},
			},
			&cli.StringFlag{
				Name:    flagLogLevel,
				Usage:   "The log level (trace, debug, info, warn, error).",
				EnvVars: []string{"MAPPACK_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    flagGeoRef,
				Usage:   "The georeference method (affine, gcp).",
				EnvVars: []string{"MAPPACK_GEOREF"},
			},
		},
		Action: runServe,
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:     "mappack",
		Usage:    "Download tile ranges from online map services",
		Version:  version,
		Commands: commands,
	}
}

func main() {
	app := newApp()

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
