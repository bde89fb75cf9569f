package pipeline

import (
	"io"

	"github.com/vaultfs/filerepo/internal/pathlayout"
)

// Result is what a Processor hands back after transforming the context's
// current source. Exactly one of Path or Stream must be set.
type Result struct {
	Path      string
	Stream    io.Reader
	Extension pathlayout.Extension

	// Changed marks that this step produced a semantically different
	// output from its input; it sets the context's HasChanges flag.
	Changed bool

	// LeaveOpen asks the pipeline not to close/release the previous
	// source's stream when this result is installed (used when a
	// processor keeps the source open for its own bookkeeping).
	LeaveOpen bool
}

// Processor transforms the context's current source into a new Result.
// AllowedExtensions returning an empty set means the processor accepts any
// extension.
type Processor interface {
	Name() string
	AllowedExtensions() map[pathlayout.Extension]struct{}
	Process(c *Context) (Result, error)
}
