// Package assets serves the embedded stylesheets and scripts. In prod they
// are minified once at startup and served as immutable.
package assets

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tdewolff/minify/v2"
	mincss "github.com/tdewolff/minify/v2/css"
	minjs "github.com/tdewolff/minify/v2/js"
)

const staticRoot = "static"

type asset struct {
	contentType string
	body        []byte
	etag        string
}

type Server struct {
	files map[string]asset
	prod  bool
}

func New(fsys fs.FS, prod bool) (*Server, error) {
	m := minify.New()
	m.AddFunc("text/css", mincss.Minify)
	m.AddFunc("application/javascript", minjs.Minify)

	files := map[string]asset{}
	err := fs.WalkDir(fsys, staticRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}

		ext := path.Ext(p)
		ct := contentType(ext)
		if prod {
			if media := minifyType(ext); media != "" {
				var buf bytes.Buffer
				if err := m.Minify(media, &buf, bytes.NewReader(body)); err != nil {
					return fmt.Errorf("minify %s: %w", p, err)
				}
				body = buf.Bytes()
			}
		}

		sum := sha256.Sum256(body)
		files["/"+strings.TrimPrefix(p, staticRoot+"/")] = asset{
			contentType: ct,
			body:        body,
			etag:        `"` + hex.EncodeToString(sum[:8]) + `"`,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load static assets: %w", err)
	}
	return &Server{files: files, prod: prod}, nil
}

// Handler serves the asset at the request path, e.g. /css/site.css.
func (s *Server) Handler(c *gin.Context) {
	a, ok := s.files[c.Request.URL.Path]
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	h := c.Writer.Header()
	if s.prod {
		h.Set("Cache-Control", "public, max-age=31536000, immutable")
	} else {
		h.Set("Cache-Control", "no-store")
	}
	h.Set("ETag", a.etag)

	if match := c.GetHeader("If-None-Match"); match != "" && match == a.etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, a.contentType, a.body)
}

// Register mounts the handler on the top-level directories of the assets.
func (s *Server) Register(r gin.IRoutes) {
	seen := map[string]bool{}
	for p := range s.files {
		dir := strings.SplitN(strings.TrimPrefix(p, "/"), "/", 2)[0]
		if seen[dir] || !strings.Contains(strings.TrimPrefix(p, "/"), "/") {
			continue
		}
		seen[dir] = true
		r.GET("/"+dir+"/*filepath", s.Handler)
		r.HEAD("/"+dir+"/*filepath", s.Handler)
	}
}

func contentType(ext string) string {
	switch ext {
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func minifyType(ext string) string {
	switch ext {
	case ".css":
		return "text/css"
	case ".js":
		return "application/javascript"
	default:
		return ""
	}
}
