package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/diwise/sensorthings-sync/internal/pkg/application/ingest"
	"github.com/diwise/sensorthings-sync/internal/pkg/infrastructure/frost"
	"github.com/diwise/sensorthings-sync/internal/pkg/infrastructure/router"
	"github.com/diwise/sensorthings-sync/internal/pkg/presentation/output"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/client"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	yaml "gopkg.in/yaml.v2"
)

// list prints or exports the locations or things matching the given filters
func list(ctx context.Context, flags FlagMap, collection string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(collection, flag.ContinueOnError)
	fs.SetOutput(out)

	name := fs.String("name", "", "only include entities with this name")
	agency := fs.String("agency", "", "only include entities owned by this agency")
	file := fs.String("out", "", "write the records to a .csv or .json file")
	limit := fs.Int("limit", 0, "maximum number of records")
	pages := fs.Int("p", 0, "maximum number of pages, a negative value lists the newest entities first")

	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := newClient(flags, "", false)
	if err != nil {
		return err
	}

	options := []client.QueryOption{client.Limit(*limit), client.PageLimit(*pages)}

	if *name != "" {
		options = append(options, client.NameEquals(*name))
	}

	if *agency != "" {
		path := "properties/agency"
		if collection == types.Things.String() {
			path = "Locations/properties/agency"
		}
		options = append(options, client.Filter(fmt.Sprintf("%s eq '%s'", path, escapeLiteral(*agency))))
	}

	pager := c.QueryEntities(collection, options...)

	if *file != "" {
		f, err := os.Create(*file)
		if err != nil {
			return err
		}
		defer f.Close()

		n, err := output.Write(f, output.FormatFor(*file), pager.All(ctx), output.Descriptor{
			Query:   pager.Query().FilterExpression(),
			BaseURL: c.BaseURL(),
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "wrote %d %s to %s\n", n, collection, *file)
		return nil
	}

	count := 0
	for record, err := range pager.All(ctx) {
		if err != nil {
			return err
		}

		id, _ := record.ID()
		fmt.Fprintf(out, "%d\t%s\n", id, record.Name())
		count++
	}

	fmt.Fprintf(out, "%d %s in %d pages\n", count, collection, pager.Pages())

	return nil
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// ingestManifests synchronizes each manifest in turn and prints the links of
// the written entities. A manifest that fails does not stop the ones after it.
func ingestManifests(ctx context.Context, flags FlagMap, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(out)

	dryRun := fs.Bool("dry", false, "report what would be written without sending any writes")
	policyPath := fs.String("policy", "", "rego file with a sensorthings.write policy")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() == 0 {
		return fmt.Errorf("no manifests given")
	}

	var policy ingest.WritePolicy
	if *policyPath != "" {
		f, err := os.Open(*policyPath)
		if err != nil {
			return err
		}
		defer f.Close()

		policy, err = ingest.NewWritePolicy(ctx, f)
		if err != nil {
			return fmt.Errorf("failed to load write policy: %w", err)
		}
	}

	log := logging.GetFromContext(ctx)
	var failures []error

	for _, path := range fs.Args() {
		err := ingestManifest(ctx, flags, path, *dryRun, policy, out)
		if err != nil {
			log.Error("failed to ingest manifest", slog.String("manifest", path), "err", err.Error())
			failures = append(failures, fmt.Errorf("%s: %w", path, err))
		}
	}

	return errors.Join(failures...)
}

func ingestManifest(ctx context.Context, flags FlagMap, path string, dryRun bool, policy ingest.WritePolicy, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	m, err := ingest.LoadManifest(f)
	if err != nil {
		return err
	}

	c, err := newClient(flags, m.Destination, dryRun)
	if err != nil {
		return err
	}

	var app ingest.Ingester
	if policy != nil {
		app = ingest.New(c, ingest.WithPolicy(policy))
	} else {
		app = ingest.New(c)
	}

	result, err := app.Ingest(ctx, m)
	if err != nil {
		return err
	}

	links, err := yaml.Marshal(result.Links)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "# %s (run %s)\n%s", path, result.RunID, links)

	return nil
}

func deleteLocation(ctx context.Context, flags FlagMap, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("delete-location", flag.ContinueOnError)
	fs.SetOutput(out)

	id := fs.Int64("id", 0, "id of the location to delete")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *id <= 0 {
		return fmt.Errorf("a positive location id is required")
	}

	c, err := newClient(flags, "", false)
	if err != nil {
		return err
	}

	if err = c.DeleteEntity(ctx, types.Locations, *id); err != nil {
		return err
	}

	fmt.Fprintf(out, "deleted %s\n", types.Locations.Path(*id))

	return nil
}

// emulate serves an in-memory SensorThings service until the context is done
func emulate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("emulate", flag.ContinueOnError)
	fs.SetOutput(out)

	port := fs.Int("port", 8080, "port to listen on")
	pageSize := fs.Int("page-size", frost.DefaultPageSize, "number of records per page")

	if err := fs.Parse(args); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(*port))
	if err != nil {
		return err
	}

	return serve(ctx, listener, newEmulator(*pageSize), out)
}

func newEmulator(pageSize int) http.Handler {
	r := router.New("sta-emulator")
	frost.New(frost.WithPageSize(pageSize)).Mount(r, client.DefaultServicePath)
	return r
}

func serve(ctx context.Context, listener net.Listener, handler http.Handler, out io.Writer) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	fmt.Fprintf(out, "serving http://%s%s\n", listener.Addr().String(), client.DefaultServicePath)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		srv.Shutdown(shutdownCtx)
	}()

	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}
