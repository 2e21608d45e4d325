// Package demo is a small web application served through the bridge: an
// index page, a greeting, and static stylesheets and images.
package demo

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"dqx0.com/go/appbridge/bridge"
)

//go:embed assets/index.html
var indexHTML string

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

// Greeting is the /hello body.
const Greeting = "はろー　appbridge!"

type handler func(a *App, env bridge.Environ, vars map[string]string, start bridge.StartResponse) (bridge.Body, error)

// App routes requests by path. Static files are read from StaticDir, in
// its css and images subdirectories.
type App struct {
	StaticDir string

	router   *mux.Router
	handlers map[string]handler
}

// New returns the demo application serving files from staticDir.
func New(staticDir string) *App {
	a := &App{StaticDir: staticDir, router: mux.NewRouter(), handlers: map[string]handler{}}
	a.route("index", "/", (*App).index)
	a.route("hello", "/hello", (*App).hello)
	a.route("css", "/static/css/{file}", (*App).css)
	a.route("image", "/static/images/{file}", (*App).image)
	return a
}

func (a *App) route(name, path string, h handler) {
	a.router.NewRoute().Name(name).Path(path).Methods(http.MethodGet, http.MethodHead)
	a.handlers[name] = h
}

// Serve implements bridge.Application.
func (a *App) Serve(env bridge.Environ, start bridge.StartResponse) (bridge.Body, error) {
	req, err := http.NewRequestWithContext(env.Context(), env.RequestMethod, env.PathInfo, nil)
	if err != nil {
		return plain(start, http.StatusBadRequest, "bad request target\n")
	}
	var m mux.RouteMatch
	ok := a.router.Match(req, &m)
	switch {
	case errors.Is(m.MatchErr, mux.ErrMethodMismatch):
		if err := start(status(http.StatusMethodNotAllowed), []bridge.HeaderField{
			{Name: "Allow", Value: "GET, HEAD"},
			{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		}, nil); err != nil {
			return nil, err
		}
		return bridge.Text([]byte("method not allowed\n")), nil
	case !ok || m.MatchErr != nil || m.Route == nil:
		return plain(start, http.StatusNotFound, "not found: "+env.PathInfo+"\n")
	}
	body, err := a.handlers[m.Route.GetName()](a, env, m.Vars, start)
	if err != nil || env.RequestMethod != http.MethodHead {
		return body, err
	}
	if s, ok := body.(bridge.StreamBody); ok {
		if c, ok := s.R.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return bridge.Text(), nil
}

func (a *App) index(env bridge.Environ, _ map[string]string, start bridge.StartResponse) (bridge.Body, error) {
	var buf bytes.Buffer
	if err := indexTmpl.Execute(&buf, env); err != nil {
		return nil, fmt.Errorf("render index: %w", err)
	}
	if err := start(status(http.StatusOK), []bridge.HeaderField{
		{Name: "Content-Type", Value: "text/html; charset=utf-8"},
		{Name: "Content-Length", Value: strconv.Itoa(buf.Len())},
	}, nil); err != nil {
		return nil, err
	}
	return bridge.Text(buf.Bytes()), nil
}

func (a *App) hello(_ bridge.Environ, _ map[string]string, start bridge.StartResponse) (bridge.Body, error) {
	return plain(start, http.StatusOK, Greeting)
}

// css answers with the stylesheet as text so it goes through UTF-8
// validation like any other page.
func (a *App) css(_ bridge.Environ, vars map[string]string, start bridge.StartResponse) (bridge.Body, error) {
	path, ok := a.staticPath("css", vars["file"])
	if !ok {
		return plain(start, http.StatusNotFound, "not found\n")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return plain(start, http.StatusNotFound, "not found\n")
		}
		return nil, err
	}
	if err := start(status(http.StatusOK), []bridge.HeaderField{
		{Name: "Content-Type", Value: contentType(path, "text/css; charset=utf-8")},
		{Name: "Content-Length", Value: strconv.Itoa(len(data))},
	}, nil); err != nil {
		return nil, err
	}
	return bridge.Text(data), nil
}

// image streams the file unchanged. The server closes it.
func (a *App) image(_ bridge.Environ, vars map[string]string, start bridge.StartResponse) (bridge.Body, error) {
	path, ok := a.staticPath("images", vars["file"])
	if !ok {
		return plain(start, http.StatusNotFound, "not found\n")
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return plain(start, http.StatusNotFound, "not found\n")
		}
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		f.Close()
		return plain(start, http.StatusNotFound, "not found\n")
	}
	if err := start(status(http.StatusOK), []bridge.HeaderField{
		{Name: "Content-Type", Value: contentType(path, "application/octet-stream")},
		{Name: "Content-Length", Value: strconv.FormatInt(fi.Size(), 10)},
		{Name: "Last-Modified", Value: fi.ModTime().UTC().Format(http.TimeFormat)},
	}, nil); err != nil {
		f.Close()
		return nil, err
	}
	return bridge.Stream(f), nil
}

// staticPath resolves name inside StaticDir/sub. Hidden names and
// anything that would leave the directory are refused.
func (a *App) staticPath(sub, name string) (string, bool) {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return filepath.Join(a.StaticDir, sub, name), true
}

func contentType(path, fallback string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return fallback
}

func plain(start bridge.StartResponse, code int, msg string) (bridge.Body, error) {
	if err := start(status(code), []bridge.HeaderField{
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		{Name: "Content-Length", Value: strconv.Itoa(len(msg))},
	}, nil); err != nil {
		return nil, err
	}
	return bridge.Text([]byte(msg)), nil
}

func status(code int) string {
	return strconv.Itoa(code) + " " + http.StatusText(code)
}

// Echo answers with the request environment as plain text, one key per
// line.
func Echo(env bridge.Environ, start bridge.StartResponse) (bridge.Body, error) {
	m := env.Map()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, k := range keys {
		switch v := m[k].(type) {
		case string, bool, [2]int:
			fmt.Fprintf(&buf, "%s=%v\n", k, v)
		}
	}
	fmt.Fprintf(&buf, "REQUEST_ID=%s\n", env.RequestID)
	return plain(start, http.StatusOK, buf.String())
}
