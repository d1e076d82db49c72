package relay

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/gemini-relay/internal/config"
)

// Operational files are never served, whatever static_dir points at.
var privateExts = map[string]bool{
	".yaml": true,
	".yml":  true,
	".log":  true,
	".pid":  true,
}

// privatePaths lists the files and directories the relay itself writes or
// reads secrets from.
func privatePaths(cfg *config.Config) []string {
	var out []string
	for _, p := range []string{
		cfg.Path,
		cfg.TrafficDump.Dir,
		cfg.Logging.AccessLogPath,
		cfg.Server.PidFile,
	} {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// staticFallback serves unmatched GET and HEAD requests from root. Hidden
// files, operational files and anything under a private path are refused, and
// directories without an index.html are not listed.
func staticFallback(root string, enabled bool, private []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := c.Request.Method
		if !enabled || (m != http.MethodGet && m != http.MethodHead) {
			notFound(c)
			return
		}
		name := path.Clean("/" + c.Request.URL.Path)
		if hasHiddenSegment(name) {
			notFound(c)
			return
		}
		full := filepath.Join(root, filepath.FromSlash(name))
		fi, err := os.Stat(full)
		if err != nil {
			notFound(c)
			return
		}
		if fi.IsDir() {
			full = filepath.Join(full, "index.html")
			if fi, err = os.Stat(full); err != nil || fi.IsDir() {
				notFound(c)
				return
			}
		}
		if privateExts[strings.ToLower(filepath.Ext(full))] || underAny(full, private) {
			notFound(c)
			return
		}
		// #nosec G304 -- full is rooted at the configured static dir.
		f, err := os.Open(full)
		if err != nil {
			notFound(c)
			return
		}
		defer func() { _ = f.Close() }()
		http.ServeContent(c.Writer, c.Request, fi.Name(), fi.ModTime(), f)
	}
}

func hasHiddenSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// underAny reports whether file is one of roots or inside one of them.
// Symlinks are resolved on both sides.
func underAny(file string, roots []string) bool {
	f := canonical(file)
	for _, r := range roots {
		rel, err := filepath.Rel(canonical(r), f)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func canonical(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

func notFound(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
}
