package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/fsx"
	"github.com/vaultfs/filerepo/internal/pathlayout"
)

// Source is the input handed to a pipeline run: either a path already on
// disk, or an unconsumed byte stream. Exactly one of Path or Stream is set.
type Source struct {
	Path   string
	Stream io.Reader

	// InTempTree is true when Path already lives inside the pipeline's own
	// work directory (e.g. a prior step's output), which lets the buffering
	// policy skip a redundant copy even under ForceTempCopy.
	InTempTree bool
}

// Context is passed to every Processor. It exposes the current source,
// bookkeeping fields, and helpers for materializing the source as a file
// or a seekable stream, spilling to the work directory as needed.
type Context struct {
	Ctx        context.Context
	FileID     fileid.FileID
	VariantID  *pathlayout.VariantID
	Extension  pathlayout.Extension
	IsLastStep bool
	HasChanges bool

	fsys    afero.Fs
	workDir string
	source  Source
	seq     int
}

// newContext constructs the per-run context rooted at workDir. workDir
// must already exist.
func newContext(ctx context.Context, fsys afero.Fs, workDir string, fileID fileid.FileID, variantID *pathlayout.VariantID, ext pathlayout.Extension, source Source) *Context {
	return &Context{
		Ctx:       ctx,
		FileID:    fileID,
		VariantID: variantID,
		Extension: ext,
		fsys:      fsys,
		workDir:   workDir,
		source:    source,
	}
}

// GetSourceAsFile returns a path to the current source, spilling an
// in-flight stream source to a new work file first.
func (c *Context) GetSourceAsFile() (string, error) {
	if c.source.Path != "" {
		return c.source.Path, nil
	}
	if c.source.Stream == nil {
		return "", fmt.Errorf("pipeline: context has no source")
	}
	path, err := c.NewWorkFile(c.Extension)
	if err != nil {
		return "", err
	}
	if err := fsx.WriteStreamSync(c.fsys, path, c.source.Stream, 0o644); err != nil {
		return "", fmt.Errorf("pipeline: spill source to work file: %w", err)
	}
	c.source = Source{Path: path, InTempTree: true}
	return path, nil
}

// GetSourceAsSeekableStream returns a seekable reader over the current
// source. If the source is an unseekable stream larger than
// maxInMemoryCopySize, it is spilled to a work file and reopened; smaller
// unseekable streams are buffered in memory when preferInMemory is set.
func (c *Context) GetSourceAsSeekableStream(preferInMemory bool, maxInMemoryCopySize int64) (io.ReadSeeker, error) {
	if c.source.Path != "" {
		f, err := c.fsys.Open(c.source.Path)
		if err != nil {
			return nil, fmt.Errorf("pipeline: open source file: %w", err)
		}
		return f, nil
	}
	if seeker, ok := c.source.Stream.(io.ReadSeeker); ok {
		return seeker, nil
	}
	if c.source.Stream == nil {
		return nil, fmt.Errorf("pipeline: context has no source")
	}

	if preferInMemory {
		limited := io.LimitReader(c.source.Stream, maxInMemoryCopySize+1)
		data, err := io.ReadAll(limited)
		if err != nil {
			return nil, fmt.Errorf("pipeline: buffer source: %w", err)
		}
		if int64(len(data)) <= maxInMemoryCopySize {
			return &seekableBuffer{data: data}, nil
		}
		// Exceeds the cap: fall through to a work-file spill, prefixing
		// what was already read.
		c.source.Stream = io.MultiReader(
			&seekableBuffer{data: data},
			c.source.Stream,
		)
	}

	path, err := c.NewWorkFile(c.Extension)
	if err != nil {
		return nil, err
	}
	if err := fsx.WriteStreamSync(c.fsys, path, c.source.Stream, 0o644); err != nil {
		return nil, fmt.Errorf("pipeline: spill source to work file: %w", err)
	}
	c.source = Source{Path: path, InTempTree: true}
	f, err := c.fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reopen spilled source: %w", err)
	}
	return f, nil
}

// NewWorkFile allocates a unique path with the given extension inside the
// pipeline's work directory. The file itself is not created.
func (c *Context) NewWorkFile(ext pathlayout.Extension) (string, error) {
	c.seq++
	name := fmt.Sprintf("step-%02d%s", c.seq, ext.Normalize().String())
	return filepath.Join(c.workDir, name), nil
}

// NewWorkDir allocates and creates a unique subdirectory inside the
// pipeline's work directory.
func (c *Context) NewWorkDir() (string, error) {
	c.seq++
	dir := filepath.Join(c.workDir, fmt.Sprintf("step-%02d.d", c.seq))
	if err := c.fsys.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("pipeline: create work dir: %w", err)
	}
	return dir, nil
}

// installResult replaces the context's source with a processor's result,
// releasing the previous source unless leaveOpen was requested.
func (c *Context) installResult(res Result) error {
	if res.Path == "" && res.Stream == nil {
		return fmt.Errorf("pipeline: processor result has no path or stream")
	}
	if !res.LeaveOpen {
		if closer, ok := c.source.Stream.(io.Closer); ok {
			closer.Close()
		}
	}
	c.Extension = res.Extension
	if res.Changed {
		c.HasChanges = true
	}
	if res.Path != "" {
		c.source = Source{Path: res.Path, InTempTree: isWithin(c.workDir, res.Path)}
		return nil
	}
	c.source = Source{Stream: res.Stream}
	return nil
}

func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// seekableBuffer adapts an in-memory byte slice to io.ReadSeeker without
// pulling in bytes.Reader's Seek semantics for Stream-typed fields (which
// is what this is, but spelled out for clarity at call sites above).
type seekableBuffer struct {
	data []byte
	pos  int64
}

func (b *seekableBuffer) Read(p []byte) (int, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = b.pos
	case io.SeekEnd:
		base = int64(len(b.data))
	default:
		return 0, fmt.Errorf("seekableBuffer: invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, fmt.Errorf("seekableBuffer: negative position")
	}
	b.pos = next
	return b.pos, nil
}
