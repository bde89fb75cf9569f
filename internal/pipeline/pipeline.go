package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/pathlayout"
)

// BufferMode selects how eagerly a Run spills its source into a work file
// before the first processor runs.
type BufferMode int

const (
	// Auto spills only when the source is neither an in-memory buffer nor
	// already a file on disk.
	Auto BufferMode = iota
	// ForceTempCopy always spills first, except when the source already
	// lives inside the run's own work directory.
	ForceTempCopy
	// Disabled never spills up front; processors see the raw source and
	// must call GetSourceAsFile/GetSourceAsSeekableStream themselves.
	Disabled
)

// Pipeline is an ordered list of Processors run over a single source.
type Pipeline struct {
	Processors []Processor
	Buffer     BufferMode

	// RaiseSourceUnchanged, if set, makes Run return ErrSourceUnchanged
	// instead of a result when no processor reported a change.
	RaiseSourceUnchanged bool
}

// Outcome is what Run returns on success.
type Outcome struct {
	Path       string
	Extension  pathlayout.Extension
	HasChanges bool
}

// Run drives the pipeline's processors in order over source, using workDir
// (which must already exist) for any spilled or intermediate files, and
// returns the path of the final result.
func (p *Pipeline) Run(ctx context.Context, fsys afero.Fs, workDir string, fileID fileid.FileID, variantID *pathlayout.VariantID, ext pathlayout.Extension, source Source) (Outcome, error) {
	c := newContext(ctx, fsys, workDir, fileID, variantID, ext, source)

	if p.Buffer != Disabled {
		shouldSpill := p.Buffer == ForceTempCopy && !source.InTempTree
		if p.Buffer == Auto {
			switch source.Stream.(type) {
			case *bytes.Reader, *bytes.Buffer, *strings.Reader, afero.File:
				shouldSpill = false
			default:
				shouldSpill = source.Path == ""
			}
		}
		if shouldSpill {
			if _, err := c.GetSourceAsFile(); err != nil {
				return Outcome{}, fmt.Errorf("pipeline: upfront buffering: %w", err)
			}
		}
	}

	for i, proc := range p.Processors {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		if allowed := proc.AllowedExtensions(); len(allowed) > 0 {
			if _, ok := allowed[c.Extension.Normalize()]; !ok {
				return Outcome{}, fmt.Errorf("pipeline: processor %q: extension %q: %w", proc.Name(), c.Extension, ErrExtensionNotAllowed)
			}
		}
		c.IsLastStep = i == len(p.Processors)-1

		res, err := proc.Process(c)
		if err != nil {
			return Outcome{}, fmt.Errorf("pipeline: processor %q: %w", proc.Name(), err)
		}
		if err := c.installResult(res); err != nil {
			return Outcome{}, fmt.Errorf("pipeline: processor %q: %w", proc.Name(), err)
		}
	}

	if p.RaiseSourceUnchanged && !c.HasChanges {
		return Outcome{}, ErrSourceUnchanged
	}

	finalPath, err := c.GetSourceAsFile()
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: finalize result: %w", err)
	}
	return Outcome{Path: finalPath, Extension: c.Extension, HasChanges: c.HasChanges}, nil
}
