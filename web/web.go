// Package web holds the server-rendered pages.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"strconv"

	html "github.com/gofiber/template/html/v2"
)

//go:embed templates/*.html
var templates embed.FS

// Views returns the template engine over the embedded pages.
func Views() *html.Engine {
	sub, err := fs.Sub(templates, "templates")
	if err != nil {
		panic(err)
	}
	engine := html.NewFileSystem(http.FS(sub), ".html")
	engine.AddFunc("money", func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) })
	return engine
}
