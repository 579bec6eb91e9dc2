// Package editor applies literal text replacements to file content and
// renders unified diffs of the result.
package editor

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const snippetLen = 50

// Edit replaces the first occurrence of OldText with NewText.
type Edit struct {
	OldText string
	NewText string
}

// NotFoundError reports an edit whose OldText does not occur in the content
// being edited. Snippet holds the head of the missing text.
type NotFoundError struct {
	Snippet string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Edit failed: oldText not found in content: '%s...'", e.Snippet)
}

// Apply runs the edits in order against content. Each edit replaces the
// first occurrence of its OldText in the result of the previous edits, so
// later edits see earlier replacements. The first edit whose OldText is
// absent aborts with a NotFoundError and no partial result.
func Apply(content string, edits []Edit) (string, error) {
	modified := content
	for _, e := range edits {
		if !strings.Contains(modified, e.OldText) {
			return "", &NotFoundError{Snippet: truncate(e.OldText, snippetLen)}
		}
		modified = strings.Replace(modified, e.OldText, e.NewText, 1)
	}
	return modified, nil
}

// Unified renders a unified diff between original and modified with three
// lines of context, labeled a/path and b/path.
func Unified(path, original, modified string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(modified),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
