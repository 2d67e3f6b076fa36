package rules

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var tokenPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Expand resolves template tokens against the context's active artifact,
// never the original. Time tokens use the active file's mtime, falling
// back to the current time while the file does not exist yet. Unknown
// tokens stay literal. A pattern with a trailing slash is a directory:
// the active filename is appended.
func Expand(pattern string, c *RuleContext) string {
	base := filepath.Base(c.Active.Path)
	isDir := strings.HasSuffix(pattern, "/")

	var ts time.Time
	stamp := func() time.Time {
		if ts.IsZero() {
			if fi, err := os.Stat(c.Active.Path); err == nil {
				ts = fi.ModTime()
			} else {
				ts = time.Now()
			}
		}
		return ts
	}

	out := tokenPattern.ReplaceAllStringFunc(pattern, func(tok string) string {
		name := tok[1 : len(tok)-1]
		switch name {
		case "filename":
			return base
		case "stem":
			return strings.TrimSuffix(base, filepath.Ext(base))
		case "ext":
			return filepath.Ext(base)
		case "year":
			return stamp().Format("2006")
		case "month":
			return stamp().Format("01")
		case "day":
			return stamp().Format("02")
		case "hour":
			return stamp().Format("15")
		case "minute":
			return stamp().Format("04")
		case "second":
			return stamp().Format("05")
		}
		if v, ok := c.Vars[name]; ok {
			return v
		}
		return tok
	})

	if isDir {
		out = filepath.Join(out, base)
	}
	return out
}
