package governance

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gitleaks/go-gitdiff/gitdiff"
)

// ChangeKind classifies a changed file.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeRenamed  ChangeKind = "renamed"
)

// Line is one line of a hunk with its number in the new file. Removed lines
// carry their number in the old file.
type Line struct {
	Number int
	Text   string
}

// Hunk is the ordered content of one text fragment, without removed lines.
// Manifest parsers use it to see which block an added line belongs to.
type Hunk struct {
	// Lines holds context and added lines in new-file order.
	Lines []HunkLine
}

// HunkLine is a context or added line.
type HunkLine struct {
	Line
	Added bool
}

// ChangedFile is one file touched by a diff.
type ChangedFile struct {
	Path    string     `json:"path"`
	OldPath string     `json:"old_path,omitempty"`
	Kind    ChangeKind `json:"kind"`
	Binary  bool       `json:"binary,omitempty"`

	Added   []Line `json:"-"`
	Removed []Line `json:"-"`
	Hunks   []Hunk `json:"-"`
}

// Paths returns every path the change touches; a rename touches both names.
func (f ChangedFile) Paths() []string {
	if f.OldPath != "" && f.OldPath != f.Path {
		return []string{f.Path, f.OldPath}
	}
	return []string{f.Path}
}

// AddedText joins the added lines, one per line.
func (f ChangedFile) AddedText() string {
	var b strings.Builder
	for _, l := range f.Added {
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseDiff parses unified diff text into changed files sorted by path.
// Git extended headers are understood, so pure renames, mode changes and
// binary changes are reported too. Empty input yields no files.
func ParseDiff(text string) ([]ChangedFile, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	files, err := gitdiff.Parse(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	byPath := make(map[string]*ChangedFile)
	for f := range files {
		cf := convertFile(f)
		if cf.Path == "" {
			continue
		}
		if prev, ok := byPath[cf.Path]; ok {
			mergeFile(prev, cf)
			continue
		}
		byPath[cf.Path] = &cf
	}

	out := make([]ChangedFile, 0, len(byPath))
	for _, cf := range byPath {
		out = append(out, *cf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// stripPrefixes drops the a/ and b/ prefixes diff -u style output keeps when
// there is no "diff --git" header to strip them. Names are left alone unless
// every present side carries its prefix.
func stripPrefixes(oldName, newName string) (string, string) {
	oldOK := oldName == "" || strings.HasPrefix(oldName, "a/")
	newOK := newName == "" || strings.HasPrefix(newName, "b/")
	if !oldOK || !newOK || (oldName == "" && newName == "") {
		return oldName, newName
	}
	return strings.TrimPrefix(oldName, "a/"), strings.TrimPrefix(newName, "b/")
}

func convertFile(f *gitdiff.File) ChangedFile {
	oldName, newName := stripPrefixes(f.OldName, f.NewName)

	cf := ChangedFile{Binary: f.IsBinary}
	switch {
	case f.IsNew:
		cf.Kind = ChangeAdded
		cf.Path = newName
	case f.IsDelete:
		cf.Kind = ChangeDeleted
		cf.Path = oldName
	case f.IsRename || (oldName != "" && newName != "" && oldName != newName):
		cf.Kind = ChangeRenamed
		cf.Path = newName
		cf.OldPath = oldName
	default:
		cf.Kind = ChangeModified
		cf.Path = newName
		if cf.Path == "" {
			cf.Path = oldName
		}
	}

	for _, frag := range f.TextFragments {
		newLine := int(frag.NewPosition)
		oldLine := int(frag.OldPosition)
		var hunk Hunk
		for _, l := range frag.Lines {
			text := strings.TrimRight(l.Line, "\r\n")
			switch l.Op {
			case gitdiff.OpAdd:
				cf.Added = append(cf.Added, Line{Number: newLine, Text: text})
				hunk.Lines = append(hunk.Lines, HunkLine{Line: Line{Number: newLine, Text: text}, Added: true})
				newLine++
			case gitdiff.OpDelete:
				cf.Removed = append(cf.Removed, Line{Number: oldLine, Text: text})
				oldLine++
			default:
				hunk.Lines = append(hunk.Lines, HunkLine{Line: Line{Number: newLine, Text: text}})
				newLine++
				oldLine++
			}
		}
		cf.Hunks = append(cf.Hunks, hunk)
	}
	return cf
}

// mergeFile folds a second diff section for the same path into prev, as
// happens when committed and worktree diffs are concatenated.
func mergeFile(prev *ChangedFile, next ChangedFile) {
	switch {
	case prev.Kind == ChangeAdded && next.Kind != ChangeDeleted:
	case prev.Kind == ChangeAdded && next.Kind == ChangeDeleted:
		prev.Kind = ChangeDeleted
	case next.Kind == ChangeDeleted || next.Kind == ChangeRenamed:
		prev.Kind = next.Kind
	}
	if next.OldPath != "" {
		prev.OldPath = next.OldPath
	}
	prev.Binary = prev.Binary || next.Binary
	prev.Added = append(prev.Added, next.Added...)
	prev.Removed = append(prev.Removed, next.Removed...)
	prev.Hunks = append(prev.Hunks, next.Hunks...)
}
