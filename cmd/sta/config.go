package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/diwise/sensorthings-sync/pkg/sensorthings/client"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	yaml "gopkg.in/yaml.v2"
)

type FlagType int
type FlagMap map[FlagType]string

const (
	host FlagType = iota
	user
	password

	readUser
	readPassword

	connectionPath
	debug
)

// ConnectionConfig is the persisted location of the service and the
// credentials used to write to it
type ConnectionConfig struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

func LoadConnection(r io.Reader) (*ConnectionConfig, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	cfg := &ConnectionConfig{}
	if err = yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}

	return cfg, nil
}

// LoadFlags reads the connection file, if there is one, and lets the
// environment override each of its values
func LoadFlags(ctx context.Context) (FlagMap, error) {
	flags := FlagMap{
		connectionPath: env.GetVariableOrDefault(ctx, "STA_CONNECTION", "connection.yaml"),
	}

	cfg := &ConnectionConfig{}

	f, err := os.Open(flags[connectionPath])
	if err == nil {
		defer f.Close()

		cfg, err = LoadConnection(f)
		if err != nil {
			return nil, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	flags[host] = env.GetVariableOrDefault(ctx, "STA_HOST", cfg.Host)
	flags[user] = env.GetVariableOrDefault(ctx, "STA_USER", cfg.User)
	flags[password] = env.GetVariableOrDefault(ctx, "STA_PASSWORD", cfg.Password)
	flags[readUser] = env.GetVariableOrDefault(ctx, "STA_READ_USER", "")
	flags[readPassword] = env.GetVariableOrDefault(ctx, "STA_READ_PASSWORD", "")
	flags[debug] = env.GetVariableOrDefault(ctx, "STA_DEBUG", "false")

	return flags, nil
}

// newClient connects to the configured host unless another destination is
// given, e.g. by an ingest manifest
func newClient(flags FlagMap, destination string, dryRun bool) (client.SensorThingsClient, error) {
	target := flags[host]
	if destination != "" {
		target = destination
	}

	if target == "" {
		return nil, fmt.Errorf("no host configured, set STA_HOST or add host to %s", flags[connectionPath])
	}

	return client.NewSensorThingsClient(
		client.NewConnection(target, flags[user], flags[password]),
		client.Debug(flags[debug]),
		client.DryRun(dryRun),
		client.ReadCredentials(flags[readUser], flags[readPassword]),
	), nil
}
