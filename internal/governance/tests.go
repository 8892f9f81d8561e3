package governance

import (
	"path"
	"strings"
)

var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".mjs": true, ".cjs": true, ".java": true, ".kt": true, ".rb": true, ".rs": true,
	".c": true, ".cc": true, ".cpp": true, ".h": true, ".hpp": true, ".cs": true,
	".php": true, ".swift": true, ".scala": true,
}

var testDirs = map[string]bool{"tests": true, "test": true, "__tests__": true, "spec": true}

// isTestFile reports whether p follows a test naming convention.
func isTestFile(p string) bool {
	base := path.Base(p)
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"),
		strings.HasSuffix(base, "_test.py"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."),
		strings.HasSuffix(base, "Test.java"),
		strings.HasSuffix(base, "_spec.rb"):
		return true
	}
	for _, dir := range strings.Split(path.Dir(p), "/") {
		if testDirs[dir] {
			return true
		}
	}
	return false
}

// isCodeFile reports whether p is non-test source code.
func isCodeFile(p string) bool {
	return codeExtensions[path.Ext(p)] && !isTestFile(p)
}

// subject returns the name a test or code file is about: the base name with
// its extension and any test affixes removed.
func subject(p string) string {
	base := path.Base(p)
	for _, marker := range []string{".test.", ".spec."} {
		if i := strings.Index(base, marker); i > 0 {
			return strings.ToLower(base[:i])
		}
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.TrimPrefix(base, "test_")
	for _, suffix := range []string{"_test", "_spec", "Test"} {
		base = strings.TrimSuffix(base, suffix)
	}
	return strings.ToLower(base)
}

// untestedCode returns changed code files with no changed test file for the
// same subject. Deleted files need no tests.
func untestedCode(files []ChangedFile) []string {
	tested := make(map[string]bool)
	for _, f := range files {
		if f.Kind != ChangeDeleted && isTestFile(f.Path) {
			tested[subject(f.Path)] = true
		}
	}
	var missing []string
	for _, f := range files {
		if f.Kind == ChangeDeleted || !isCodeFile(f.Path) {
			continue
		}
		if !tested[subject(f.Path)] {
			missing = append(missing, f.Path)
		}
	}
	return missing
}
