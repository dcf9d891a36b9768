// Package localexec runs command actions as local subprocesses. It is
// the minimal execution backend behind the scheduler's Executor
// interface; remote or sandboxed backends are external collaborators
// implementing the same interface.
package localexec

import (
	"bytes"
	"context"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"

	"pyrite.build/pkg/scheduler"

	"github.com/buildbarn/bb-storage/pkg/util"

	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type localExecutor struct {
	concurrency *semaphore.Weighted
}

// NewExecutor creates an executor that runs at most the given number
// of subprocesses at a time. Each action runs in a scratch directory
// holding its input files, with its standard output captured as the
// action's result.
func NewExecutor(concurrency int64) scheduler.Executor {
	return &localExecutor{
		concurrency: semaphore.NewWeighted(concurrency),
	}
}

func (e *localExecutor) Execute(ctx context.Context, arguments []string, environment map[string]string, inputs map[string][]byte) ([]byte, error) {
	if len(arguments) == 0 {
		return nil, status.Error(codes.InvalidArgument, "Command has no arguments")
	}
	if err := e.concurrency.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.concurrency.Release(1)

	scratch, err := os.MkdirTemp("", "pyrite-action-")
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to create scratch directory")
	}
	defer os.RemoveAll(scratch)
	for name, content := range inputs {
		if filepath.Base(name) != name {
			return nil, status.Errorf(codes.InvalidArgument, "Input name %#v is not a single path component", name)
		}
		if err := os.WriteFile(filepath.Join(scratch, name), content, 0o666); err != nil {
			return nil, util.StatusWrapfWithCode(err, codes.Internal, "Failed to write input %#v", name)
		}
	}

	cmd := exec.CommandContext(ctx, arguments[0], arguments[1:]...)
	cmd.Dir = scratch
	for _, name := range slices.Sorted(maps.Keys(environment)) {
		cmd.Env = append(cmd.Env, name+"="+environment[name])
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, util.StatusWrapfWithCode(err, codes.Unavailable, "Command %#v failed with output %#v", arguments[0], stderr.String())
	}
	return stdout.Bytes(), nil
}
