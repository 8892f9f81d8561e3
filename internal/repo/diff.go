package repo

import (
	"bytes"
	"io"
	"os"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	fdiff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/utils/diff"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// contextLines matches git's default hunk context.
const contextLines = 3

// side is one version of a file.
type side struct {
	name    string
	mode    filemode.FileMode
	hash    plumbing.Hash
	content string
}

func newWorktreeSide(path string, info os.FileInfo, data []byte) (*side, error) {
	mode, err := filemode.NewFromOSFileMode(info.Mode())
	if err != nil {
		mode = filemode.Regular
	}
	return &side{
		name:    path,
		mode:    mode,
		hash:    plumbing.ComputeHash(plumbing.BlobObject, data),
		content: string(data),
	}, nil
}

func (s *side) Hash() plumbing.Hash     { return s.hash }
func (s *side) Mode() filemode.FileMode { return s.mode }
func (s *side) Path() string            { return s.name }

type chunk struct {
	content string
	op      fdiff.Operation
}

func (c chunk) Content() string       { return c.content }
func (c chunk) Type() fdiff.Operation { return c.op }

// filePatch implements diff.FilePatch for one path.
type filePatch struct {
	from, to *side
	binary   bool
	chunks   []fdiff.Chunk
}

func newFilePatch(from, to *side) *filePatch {
	fp := &filePatch{from: from, to: to}
	var a, b string
	if from != nil {
		a = from.content
	}
	if to != nil {
		b = to.content
	}
	if isBinary(a) || isBinary(b) {
		fp.binary = true
		return fp
	}
	for _, d := range diff.Do(a, b) {
		op := fdiff.Equal
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = fdiff.Add
		case diffmatchpatch.DiffDelete:
			op = fdiff.Delete
		}
		fp.chunks = append(fp.chunks, chunk{content: d.Text, op: op})
	}
	return fp
}

func (p *filePatch) IsBinary() bool { return p.binary }

// Files returns untyped nils for a missing side; the encoder tests them
// against nil to emit /dev/null.
func (p *filePatch) Files() (from, to fdiff.File) {
	if p.from != nil {
		from = p.from
	}
	if p.to != nil {
		to = p.to
	}
	return from, to
}

func (p *filePatch) Chunks() []fdiff.Chunk { return p.chunks }

func (p *filePatch) path() string {
	if p.to != nil {
		return p.to.name
	}
	return p.from.name
}

// patch implements diff.Patch.
type patch []*filePatch

func (p patch) FilePatches() []fdiff.FilePatch {
	out := make([]fdiff.FilePatch, len(p))
	for i, fp := range p {
		out[i] = fp
	}
	return out
}

func (p patch) Message() string { return "" }

func encode(w io.Writer, p patch) error {
	if len(p) == 0 {
		return nil
	}
	return fdiff.NewUnifiedEncoder(w, contextLines).Encode(p)
}

// isBinary uses git's heuristic: a NUL byte in the first 8000 bytes.
func isBinary(s string) bool {
	if len(s) > 8000 {
		s = s[:8000]
	}
	return bytes.IndexByte([]byte(s), 0) >= 0
}
