// Package view renders the HTML pages. Every page template is parsed together
// with the shared layout, so pages only define "title" and "content".
package view

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/Masterminds/sprig/v3"
	"github.com/gin-gonic/gin/render"
)

const (
	templateRoot = "templates"
	layoutFile   = "layout.html"
	entryName    = "layout"
)

var htmlContentType = []string{"text/html; charset=utf-8"}

// Renderer implements gin's render.HTMLRender over a fixed set of pages.
type Renderer struct {
	pages map[string]*template.Template
}

// New parses every page below templates/ in fsys. Page names are their paths
// without the root and extension, e.g. "home/index".
func New(fsys fs.FS) (*Renderer, error) {
	layout := path.Join(templateRoot, layoutFile)
	pages := map[string]*template.Template{}

	err := fs.WalkDir(fsys, templateRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || p == layout || path.Ext(p) != ".html" {
			return nil
		}
		name := strings.TrimSuffix(strings.TrimPrefix(p, templateRoot+"/"), ".html")
		t, err := template.New(layoutFile).Funcs(sprig.FuncMap()).ParseFS(fsys, layout, p)
		if err != nil {
			return fmt.Errorf("parse page %s: %w", name, err)
		}
		pages[name] = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages found under %s", templateRoot)
	}
	return &Renderer{pages: pages}, nil
}

// Names lists the parsed pages in order.
func (r *Renderer) Names() []string {
	names := make([]string, 0, len(r.pages))
	for n := range r.pages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Render executes page name into w. Nothing is written on failure.
func (r *Renderer) Render(w io.Writer, name string, data any) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("view %q not found", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, entryName, data); err != nil {
		return fmt.Errorf("render view %q: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

func (r *Renderer) Instance(name string, data any) render.Render {
	return page{renderer: r, name: name, data: data}
}

type page struct {
	renderer *Renderer
	name     string
	data     any
}

func (p page) Render(w http.ResponseWriter) error {
	var buf bytes.Buffer
	if err := p.renderer.Render(&buf, p.name, p.data); err != nil {
		return err
	}
	p.WriteContentType(w)
	_, err := buf.WriteTo(w)
	return err
}

func (p page) WriteContentType(w http.ResponseWriter) {
	header := w.Header()
	if val := header["Content-Type"]; len(val) == 0 {
		header["Content-Type"] = htmlContentType
	}
}
