// Package mathcheck sanity-checks LaTeX equations produced by the generation
// stages, catching hallucinated or malformed expressions before they reach the
// rendering engine's TeX compiler.
package mathcheck

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

var (
	reDisplayDelims = regexp.MustCompile(`^\$\$|\$\$$`)
	reInlineDelims  = regexp.MustCompile(`^\$|\$$`)
	reBracketDelims = regexp.MustCompile(`^\\\[|\\\]$`)
)

// StripDelimiters removes $, $$, \[ \] wrappers from a LaTeX string.
func StripDelimiters(eq string) string {
	eq = strings.TrimSpace(eq)
	eq = reDisplayDelims.ReplaceAllString(eq, "")
	eq = reInlineDelims.ReplaceAllString(eq, "")
	eq = reBracketDelims.ReplaceAllString(eq, "")
	return strings.TrimSpace(eq)
}

// Validate checks one LaTeX equation. An empty error message means success.
func Validate(latexStr string) (bool, string) {
	cleaned := StripDelimiters(latexStr)
	if cleaned == "" {
		return false, "empty equation string"
	}
	if strings.ContainsRune(cleaned, '$') {
		return false, "stray $ delimiter inside equation"
	}
	if depth := braceDepth(cleaned); depth != 0 {
		return false, fmt.Sprintf("unbalanced braces (depth %+d)", depth)
	}
	left := strings.Count(cleaned, `\left`)
	right := strings.Count(cleaned, `\right`)
	if left != right {
		return false, fmt.Sprintf(`\left/\right mismatch (%d vs %d)`, left, right)
	}
	if begins, ends := strings.Count(cleaned, `\begin{`), strings.Count(cleaned, `\end{`); begins != ends {
		return false, fmt.Sprintf(`\begin/\end mismatch (%d vs %d)`, begins, ends)
	}
	if strings.HasSuffix(cleaned, `\`) && !strings.HasSuffix(cleaned, `\\`) {
		return false, "dangling backslash"
	}
	return true, ""
}

// braceDepth counts unescaped { against }.
func braceDepth(s string) int {
	depth := 0
	escaped := false
	for _, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return depth
}

// FilterValid returns only the equations that pass validation, logging the
// ones removed.
func FilterValid(equations []string, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}
	valid := make([]string, 0, len(equations))
	for _, eq := range equations {
		ok, reason := Validate(eq)
		if !ok {
			logger.Warn("mathcheck.equation_dropped", "equation", truncate(eq, 60), "reason", reason)
			continue
		}
		valid = append(valid, eq)
	}
	if removed := len(equations) - len(valid); removed > 0 {
		logger.Warn("mathcheck.equations_removed", "removed", removed, "total", len(equations))
	}
	return valid
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
