// Package materialize places finished build outputs in a local output
// directory. Artifacts carrying byte content become regular files;
// directory-shaped artifacts become directories whose entries are
// written recursively under their entry names.
package materialize

import (
	"pyrite.build/pkg/buildgraph"

	"github.com/buildbarn/bb-storage/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/filesystem/path"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Writer writes materialized artifacts of one build graph into an
// output directory.
type Writer struct {
	graph           *buildgraph.Graph
	outputDirectory filesystem.Directory
}

// NewWriter creates a Writer that places outputs in the given
// directory.
func NewWriter(graph *buildgraph.Graph, outputDirectory filesystem.Directory) *Writer {
	return &Writer{
		graph:           graph,
		outputDirectory: outputDirectory,
	}
}

// WriteSlot writes the content bound to an output slot under the
// slot's declared name. The slot must have reached the Bound state.
func (w *Writer) WriteSlot(slot *buildgraph.OutputSlot) error {
	if slot.State() != buildgraph.SlotBound {
		return status.Errorf(codes.FailedPrecondition, "Output slot %#v has not been bound", slot.Name())
	}
	return w.writeArtifact(w.outputDirectory, slot.Artifact(), slot.Name())
}

// WriteArtifact writes a single materialized artifact under the given
// name.
func (w *Writer) WriteArtifact(id buildgraph.ArtifactID, name string) error {
	return w.writeArtifact(w.outputDirectory, id, name)
}

func (w *Writer) writeArtifact(d filesystem.Directory, id buildgraph.ArtifactID, name string) error {
	artifact, ok := w.graph.Artifact(id)
	if !ok {
		return status.Errorf(codes.InvalidArgument, "Unknown artifact %d", int(id))
	}
	component, ok := path.NewComponent(name)
	if !ok {
		return status.Errorf(codes.InvalidArgument, "Invalid output name %#v", name)
	}

	if entries, err := artifact.DirectoryEntries(); err == nil {
		if err := d.Mkdir(component, 0o777); err != nil {
			return util.StatusWrapf(err, "Failed to create output directory %#v", name)
		}
		child, err := d.EnterDirectory(component)
		if err != nil {
			return util.StatusWrapf(err, "Failed to enter output directory %#v", name)
		}
		defer child.Close()
		for _, entry := range entries {
			if err := w.writeArtifact(child, entry.Target, entry.Name); err != nil {
				return util.StatusWrapf(err, "In directory %#v", name)
			}
		}
		return nil
	}

	content, err := artifact.Content()
	if err != nil {
		return util.StatusWrapf(err, "Cannot write output %#v", name)
	}
	f, err := d.OpenWrite(component, filesystem.CreateExcl(0o666))
	if err != nil {
		return util.StatusWrapf(err, "Failed to create output file %#v", name)
	}
	if _, err := f.WriteAt(content, 0); err != nil {
		f.Close()
		return util.StatusWrapf(err, "Failed to write output file %#v", name)
	}
	return f.Close()
}
