package governance

import (
	"fmt"
	"strings"
)

// addedFileDiff renders a git diff creating path with lines.
func addedFileDiff(path string, lines ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", path, path)
	b.WriteString("new file mode 100644\n")
	b.WriteString("index 0000000..e69de29\n")
	b.WriteString("--- /dev/null\n")
	fmt.Fprintf(&b, "+++ b/%s\n", path)
	fmt.Fprintf(&b, "@@ -0,0 +1,%d @@\n", len(lines))
	for _, l := range lines {
		b.WriteString("+" + l + "\n")
	}
	return b.String()
}

// deletedFileDiff renders a git diff removing a one-line file.
func deletedFileDiff(path, line string) string {
	return fmt.Sprintf("diff --git a/%s b/%s\n"+
		"deleted file mode 100644\n"+
		"index e69de29..0000000\n"+
		"--- a/%s\n"+
		"+++ /dev/null\n"+
		"@@ -1,1 +0,0 @@\n"+
		"-%s\n", path, path, path, line)
}

// modifiedFileDiff renders a single-hunk modification. Lines prefixed with
// "+" or "-" are changes; any other line is context and must start with a
// space.
func modifiedFileDiff(path string, oldStart int, lines ...string) string {
	oldCount, newCount := 0, 0
	for _, l := range lines {
		switch l[0] {
		case '+':
			newCount++
		case '-':
			oldCount++
		default:
			oldCount++
			newCount++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", path, path)
	b.WriteString("index 1111111..2222222 100644\n")
	fmt.Fprintf(&b, "--- a/%s\n", path)
	fmt.Fprintf(&b, "+++ b/%s\n", path)
	fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, oldStart, newCount)
	for _, l := range lines {
		b.WriteString(l + "\n")
	}
	return b.String()
}
