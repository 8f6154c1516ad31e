package web

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"html"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sourcecolon/sourcecolon/internal/analysis"
	"github.com/sourcecolon/sourcecolon/internal/config"
	"github.com/sourcecolon/sourcecolon/internal/ignore"
	"github.com/sourcecolon/sourcecolon/internal/indexer"
)

// Handler serves directory listings and cross-references of the configured
// source root. Every request reads the configuration snapshot current when
// it arrives.
type Handler struct {
	reg   *analysis.Registry
	descs DescriptionTable
	mux   *http.ServeMux
}

// NewHandler creates the handler. descs may be nil.
func NewHandler(reg *analysis.Registry, descs DescriptionTable) *Handler {
	h := &Handler{reg: reg, descs: descs, mux: http.NewServeMux()}
	h.mux.HandleFunc("/xref/", h.handleXref)
	h.mux.HandleFunc("/status", h.handleStatus)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// virtualPath maps a request path under /xref/ to a slash-separated path
// relative to the source root; "" is the root. Cleaning against "/" keeps
// ".." segments from leaving the root.
func virtualPath(urlPath string) string {
	p := strings.TrimPrefix(urlPath, "/xref")
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func (h *Handler) handleXref(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := h.reg.Store().Current()
	root := cfg.Paths.SourceRoot
	if root == "" {
		http.Error(w, "no source root configured", http.StatusServiceUnavailable)
		return
	}

	vpath := virtualPath(r.URL.Path)
	full := filepath.Join(root, filepath.FromSlash(vpath))
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		h.fail(w, vpath, err)
		return
	}

	policy, err := ignore.New(cfg.Index.IgnoredNames)
	if err != nil {
		h.fail(w, vpath, err)
		return
	}
	if vpath != "" {
		dir, base := path.Split(vpath)
		for seg := range strings.SplitSeq(strings.TrimSuffix(dir, "/"), "/") {
			if seg != "" && policy.ShouldIgnoreDir(seg) {
				http.NotFound(w, r)
				return
			}
		}
		if (info.IsDir() && policy.ShouldIgnoreDir(base)) || (!info.IsDir() && policy.ShouldIgnoreFile(base)) {
			http.NotFound(w, r)
			return
		}
	}

	var body bytes.Buffer
	if info.IsDir() {
		if vpath != "" && !strings.HasSuffix(r.URL.Path, "/") {
			http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
			return
		}
		err = h.renderDirectory(r.Context(), &body, full, vpath, policy)
	} else {
		err = h.renderFile(r.Context(), &body, full, vpath)
	}
	if err != nil {
		h.fail(w, vpath, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	writePage(w, "/"+vpath, body.Bytes())
}

func (h *Handler) renderDirectory(ctx context.Context, out *bytes.Buffer, dir, vpath string, policy *ignore.Names) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}

	readmes, err := NewListing(policy, h.descs).ListTo(dir, out, vpath, names)
	if err != nil {
		return err
	}

	for _, name := range readmes {
		if info, err := os.Stat(filepath.Join(dir, name)); err != nil || info.IsDir() {
			continue
		}
		out.WriteString(`<h3>` + html.EscapeString(name) + `</h3><pre class="readme">`)
		if err := h.renderLive(ctx, out, filepath.Join(dir, name), path.Join(vpath, name)); err != nil {
			return err
		}
		out.WriteString(`</pre>`)
	}
	return nil
}

// renderFile serves the stored xref when the indexer wrote one and
// otherwise renders the file now.
func (h *Handler) renderFile(ctx context.Context, out *bytes.Buffer, full, vpath string) error {
	cfg := h.reg.Store().Current()
	out.WriteString(`<pre>`)
	defer out.WriteString(`</pre>`)

	if dataRoot := cfg.Paths.DataRoot; dataRoot != "" {
		for _, compressed := range []bool{cfg.Index.CompressXref, !cfg.Index.CompressXref} {
			ok, err := copyStored(out, indexer.XrefFile(dataRoot, vpath, compressed), compressed)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
	return h.renderLive(ctx, out, full, vpath)
}

func copyStored(out io.Writer, file string, compressed bool) (bool, error) {
	f, err := os.Open(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if compressed {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return false, err
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	_, err = io.Copy(out, r)
	return err == nil, err
}

func (h *Handler) renderLive(ctx context.Context, out io.Writer, full, vpath string) error {
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	factory, rd, err := h.reg.FindReader(vpath, f)
	if err != nil {
		return err
	}
	if !factory.Genre.Renders() {
		_, err := io.WriteString(out, "Binary file, no cross-reference available.\n")
		return err
	}

	a := h.reg.GetAnalyzer(factory)
	if err := a.Analyze(ctx, analysis.NewDocument(), rd); err != nil {
		return err
	}
	return a.WriteXref(out)
}

func (h *Handler) fail(w http.ResponseWriter, vpath string, err error) {
	slog.Warn("xref_request_failed", slog.String("path", vpath), slog.String("error", err.Error()))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writePage(w io.Writer, title string, body []byte) {
	t := html.EscapeString(title)
	_, _ = io.WriteString(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>"+t+
		"</title></head><body><h2>"+t+"</h2>\n")
	_, _ = w.Write(body)
	_, _ = io.WriteString(w, "\n</body></html>\n")
}

// Status is the /status response.
type Status struct {
	Generation uint64   `json:"generation"`
	SourceRoot string   `json:"source_root"`
	DataRoot   string   `json:"data_root"`
	Analyzers  []string `json:"analyzers"`
	Config     string   `json:"config,omitempty"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	store := h.reg.Store()
	cfg := store.Current()

	st := Status{
		Generation: store.Generation(),
		SourceRoot: cfg.Paths.SourceRoot,
		DataRoot:   cfg.Paths.DataRoot,
		Analyzers:  []string{h.reg.Default().Name},
	}
	for _, f := range h.reg.Factories() {
		st.Analyzers = append(st.Analyzers, f.Name)
	}
	if cfg.Web.ChattyStatusPage {
		if data, err := config.Serialize(cfg); err == nil {
			st.Config = string(data)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		slog.Warn("status_write_failed", slog.String("error", err.Error()))
	}
}
