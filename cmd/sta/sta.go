package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
)

const (
	appName string = "sta"
)

const usage string = `usage: sta <command> [flags]

commands:
  locations        list locations, optionally filtered by name or agency
  things           list things, optionally filtered by name or agency
  ingest           synchronize the entities and observations of one or more manifests
  delete-location  delete a location by id
  emulate          serve an in-memory SensorThings service
`

func main() {
	appVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), appName, appVersion, "json")
	defer cleanup()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	flags, err := LoadFlags(ctx)
	if err != nil {
		log.Error("failed to load configuration", "err", err.Error())
		os.Exit(1)
	}

	err = run(ctx, flags, os.Args[1:], os.Stdout)
	if err != nil {
		log.Error("command failed", "command", os.Args[1], "err", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, flags FlagMap, args []string, out io.Writer) error {
	command, args := args[0], args[1:]

	switch command {
	case "locations", "things":
		return list(ctx, flags, command, args, out)
	case "ingest":
		return ingestManifests(ctx, flags, args, out)
	case "delete-location":
		return deleteLocation(ctx, flags, args, out)
	case "emulate":
		return emulate(ctx, args, out)
	}

	return fmt.Errorf("unknown command %q\n%s", command, usage)
}
