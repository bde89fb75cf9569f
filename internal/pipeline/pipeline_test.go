package pipeline

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/pathlayout"
)

// upperCaseProcessor reads its source fully and writes it back upper-cased,
// marking the context as changed.
type upperCaseProcessor struct{}

func (upperCaseProcessor) Name() string { return "uppercase" }

func (upperCaseProcessor) AllowedExtensions() map[pathlayout.Extension]struct{} {
	return nil
}

func (upperCaseProcessor) Process(c *Context) (Result, error) {
	stream, err := c.GetSourceAsSeekableStream(true, 1<<20)
	if err != nil {
		return Result{}, err
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		return Result{}, err
	}
	if closer, ok := stream.(io.Closer); ok {
		closer.Close()
	}
	return Result{
		Stream:    bytes.NewReader([]byte(strings.ToUpper(string(data)))),
		Extension: c.Extension,
		Changed:   true,
	}, nil
}

// noopProcessor declares a narrow allowed-extensions set and passes the
// source through untouched.
type noopProcessor struct {
	allowed map[pathlayout.Extension]struct{}
}

func (p noopProcessor) Name() string { return "noop" }

func (p noopProcessor) AllowedExtensions() map[pathlayout.Extension]struct{} {
	return p.allowed
}

func (p noopProcessor) Process(c *Context) (Result, error) {
	path, err := c.GetSourceAsFile()
	if err != nil {
		return Result{}, err
	}
	return Result{Path: path, Extension: c.Extension}, nil
}

func testFileID(t *testing.T) fileid.FileID {
	t.Helper()
	id, err := fileid.CreateSequential()
	if err != nil {
		t.Fatalf("CreateSequential: %v", err)
	}
	return id
}

func TestRunTransformsStreamSource(t *testing.T) {
	fsys := afero.NewMemMapFs()
	workDir := "/base/.temp/work"
	if err := fsys.MkdirAll(workDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	p := &Pipeline{Processors: []Processor{upperCaseProcessor{}}}
	out, err := p.Run(context.Background(), fsys, workDir, testFileID(t), nil, pathlayout.Extension(".txt"), Source{Stream: strings.NewReader("hello")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.HasChanges {
		t.Fatal("expected HasChanges")
	}
	data, err := afero.ReadFile(fsys, out.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "HELLO" {
		t.Fatalf("got %q", data)
	}
}

func TestRunRejectsDisallowedExtension(t *testing.T) {
	fsys := afero.NewMemMapFs()
	workDir := "/base/.temp/work"
	if err := fsys.MkdirAll(workDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	allowed := map[pathlayout.Extension]struct{}{".png": {}}
	p := &Pipeline{Processors: []Processor{noopProcessor{allowed: allowed}}}

	_, err := p.Run(context.Background(), fsys, workDir, testFileID(t), nil, pathlayout.Extension(".jpg"), Source{Stream: strings.NewReader("data")})
	if err == nil {
		t.Fatal("expected ExtensionNotAllowed error")
	}
}

func TestRunRaisesSourceUnchanged(t *testing.T) {
	fsys := afero.NewMemMapFs()
	workDir := "/base/.temp/work"
	if err := fsys.MkdirAll(workDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	p := &Pipeline{
		Processors:           []Processor{noopProcessor{}},
		RaiseSourceUnchanged: true,
	}
	_, err := p.Run(context.Background(), fsys, workDir, testFileID(t), nil, pathlayout.Extension(".txt"), Source{Stream: strings.NewReader("data")})
	if err != ErrSourceUnchanged {
		t.Fatalf("expected ErrSourceUnchanged, got %v", err)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	fsys := afero.NewMemMapFs()
	workDir := "/base/.temp/work"
	if err := fsys.MkdirAll(workDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Pipeline{Processors: []Processor{noopProcessor{}}}
	_, err := p.Run(ctx, fsys, workDir, testFileID(t), nil, pathlayout.Extension(".txt"), Source{Stream: strings.NewReader("data")})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
