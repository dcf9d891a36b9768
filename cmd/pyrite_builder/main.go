package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"

	"pyrite.build/pkg/buildevent"
	"pyrite.build/pkg/buildgraph"
	"pyrite.build/pkg/dynamic"
	"pyrite.build/pkg/identity"
	"pyrite.build/pkg/localexec"
	"pyrite.build/pkg/materialize"
	"pyrite.build/pkg/scheduler"
	"pyrite.build/pkg/starlarkresolve"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/filesystem/path"
	"github.com/buildbarn/bb-storage/pkg/program"
	"github.com/buildbarn/bb-storage/pkg/util"

	"go.starlark.net/starlark"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

type applicationConfiguration struct {
	// Starlark build file to evaluate.
	BuildFilePath string `yaml:"buildFilePath"`
	// Directory into which bound output slots are written.
	OutputDirectoryPath string `yaml:"outputDirectoryPath"`
	// Maximum number of concurrently running actions. Defaults to
	// the number of CPUs.
	Concurrency int64 `yaml:"concurrency"`
	// Optional NATS server to stream build events to. Events are
	// discarded when unset.
	EventsNATSURL string `yaml:"eventsNatsUrl"`
	// Subject under which events are published.
	EventsSubject string `yaml:"eventsSubject"`
}

func main() {
	program.RunMain(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
		if len(os.Args) != 2 {
			return status.Error(codes.InvalidArgument, "Usage: pyrite_builder pyrite_builder.yaml")
		}
		configurationData, err := os.ReadFile(os.Args[1])
		if err != nil {
			return util.StatusWrapf(err, "Failed to read configuration from %s", os.Args[1])
		}
		var configuration applicationConfiguration
		if err := yaml.Unmarshal(configurationData, &configuration); err != nil {
			return util.StatusWrapf(err, "Failed to parse configuration from %s", os.Args[1])
		}
		concurrency := configuration.Concurrency
		if concurrency < 1 {
			concurrency = int64(runtime.NumCPU())
		}

		buildFileData, err := os.ReadFile(configuration.BuildFilePath)
		if err != nil {
			return util.StatusWrapf(err, "Failed to read build file %s", configuration.BuildFilePath)
		}
		graph := buildgraph.NewGraph()
		registrar := dynamic.NewRegistrar(graph, identity.NewAllocator())
		roots, err := starlarkresolve.ExecBuildFile(filepath.Base(configuration.BuildFilePath), buildFileData, registrar)
		if err != nil {
			var evalErr *starlark.EvalError
			if errors.As(err, &evalErr) {
				return errors.New(evalErr.Backtrace())
			}
			return util.StatusWrapf(err, "Failed to evaluate build file %s", configuration.BuildFilePath)
		}

		var publisher buildevent.Publisher
		if configuration.EventsNATSURL != "" {
			subject := configuration.EventsSubject
			if subject == "" {
				subject = "pyrite.events"
			}
			streamer, err := buildevent.NewNATSStreamerFromURL(configuration.EventsNATSURL, subject, clock.SystemClock)
			if err != nil {
				return util.StatusWrap(err, "Failed to create build event streamer")
			}
			publisher = streamer
		}

		if err := scheduler.NewScheduler(
			graph,
			dynamic.NewNodeResolver(registrar),
			localexec.NewExecutor(concurrency),
			publisher,
			concurrency,
		).Run(ctx, roots); err != nil {
			return util.StatusWrap(err, "Build failed")
		}

		outputDirectory, err := filesystem.NewLocalDirectory(path.LocalFormat.NewParser(configuration.OutputDirectoryPath))
		if err != nil {
			return util.StatusWrapf(err, "Failed to open output directory %s", configuration.OutputDirectoryPath)
		}
		defer outputDirectory.Close()
		writer := materialize.NewWriter(graph, outputDirectory)
		for _, slot := range graph.Slots() {
			if err := writer.WriteSlot(slot); err != nil {
				return util.StatusWrapf(err, "Failed to write output %#v", slot.Name())
			}
		}
		return nil
	})
}
