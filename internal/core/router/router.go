// Package router parses protocol requests and hands them to the greyhound,
// 3D Tiles and iTowns services.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/pcstream/internal/catalog"
	"github.com/mohammed-shakir/pcstream/internal/core/middleware"
	"github.com/mohammed-shakir/pcstream/internal/core/model"
	"github.com/mohammed-shakir/pcstream/internal/core/observability"
	"github.com/mohammed-shakir/pcstream/internal/geom"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy/greyhound"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy/itowns"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy/tileset"
	mylog "github.com/mohammed-shakir/pcstream/internal/logger"
	"github.com/mohammed-shakir/pcstream/internal/patch"
)

const (
	contentJSON   = "application/json"
	contentBinary = "application/octet-stream"
)

type Handlers struct {
	Catalog   *catalog.Catalog
	Greyhound *greyhound.Service
	Tiles     *tileset.Service
	ITowns    *itowns.Service
	Logger    *slog.Logger
	// Started is reported as Last-Modified of iTowns resources; a client
	// holding a copy from this process run gets 304.
	Started time.Time
}

// Mount registers every protocol route on r.
func (h *Handlers) Mount(r chi.Router) {
	r.Use(instrument)

	r.Route("/infos", func(r chi.Router) {
		r.Get("/global", text("Light OpenSource PointCloud Server"))
		r.Get("/contact", text("pcstream maintainers"))
		r.Get("/online", text("Congratulation, pcstream is online!!!"))
		r.Get("/sources", h.sources)
	})
	r.Route("/greyhound/{resource}", func(r chi.Router) {
		r.Get("/info", h.greyhoundInfo)
		r.Get("/read", h.greyhoundRead)
		r.Get("/hierarchy", h.greyhoundHierarchy)
	})
	r.Route("/3dtiles/{resource}", func(r chi.Router) {
		r.Get("/info", h.tilesInfo)
		r.Get("/tileset.json", h.tileset)
		r.Get("/read.pnts", h.tilesRead)
	})
	r.Get("/itowns/{resource}/r/{node}", h.itowns)
}

// instrument records request metrics under the chi route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw, ok := w.(*middleware.StatusWriter)
		if !ok {
			sw = &middleware.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		}
		next.ServeHTTP(sw, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		observability.ObserveHTTP(r.Method, route, sw.Code, time.Since(start).Seconds())
	})
}

func text(s string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, s) }
}

type source struct {
	Table     string                 `json:"table"`
	Column    string                 `json:"column"`
	SRID      int                    `json:"srid"`
	SRS       string                 `json:"srs,omitempty"`
	Bounds    []float64              `json:"bbox"`
	PatchSize int                    `json:"patch_size"`
	NumPoints int64                  `json:"num_points"`
	Outputs   []catalog.OutputSchema `json:"outputs"`
}

// sources reloads the catalog and lists every registered resource.
func (h *Handlers) sources(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Catalog.Refresh(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]source, 0, len(entries))
	for _, e := range entries {
		out = append(out, source{
			Table:     e.Table,
			Column:    e.Column,
			SRID:      e.SRID,
			SRS:       e.SRS,
			Bounds:    e.BBox.Slice(),
			PatchSize: e.PatchSize,
			NumPoints: e.NumPoints(),
			Outputs:   e.Outputs,
		})
	}
	writeJSON(w, out)
}

func (h *Handlers) greyhoundInfo(w http.ResponseWriter, r *http.Request) {
	k, r, ok := h.resource(w, r, "greyhound")
	if !ok {
		return
	}
	info, err := h.Greyhound.Info(r.Context(), k)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, info)
}

func (h *Handlers) greyhoundHierarchy(w http.ResponseWriter, r *http.Request) {
	k, r, ok := h.resource(w, r, "greyhound")
	if !ok {
		return
	}
	req, err := ParseHierarchyRequest(r, h.Greyhound.Depth)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := h.Greyhound.Hierarchy(r.Context(), k, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeBytes(w, contentJSON, b)
}

func (h *Handlers) greyhoundRead(w http.ResponseWriter, r *http.Request) {
	k, r, ok := h.resource(w, r, "greyhound")
	if !ok {
		return
	}
	req, err := ParseReadRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeBytes(w, contentBinary, h.Greyhound.Read(r.Context(), k, req))
}

func (h *Handlers) tilesInfo(w http.ResponseWriter, r *http.Request) {
	k, r, ok := h.resource(w, r, "3dtiles")
	if !ok {
		return
	}
	info, err := h.Tiles.Info(r.Context(), k)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, info)
}

func (h *Handlers) tileset(w http.ResponseWriter, r *http.Request) {
	k, r, ok := h.resource(w, r, "3dtiles")
	if !ok {
		return
	}
	b, err := h.Tiles.Tileset(r.Context(), k)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeBytes(w, contentJSON, b)
}

func (h *Handlers) tilesRead(w http.ResponseWriter, r *http.Request) {
	k, r, ok := h.resource(w, r, "3dtiles")
	if !ok {
		return
	}
	q := r.URL.Query()
	box, err := requiredBounds(q.Get("bounds"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	l, err := requiredInt(q.Get("lod"), "lod")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := h.Tiles.Read(r.Context(), k, box, l)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeBytes(w, contentBinary, b)
}

// itowns serves both {node}.cin and {node}.hrc.
func (h *Handlers) itowns(w http.ResponseWriter, r *http.Request) {
	k, r, ok := h.resource(w, r, "itowns")
	if !ok {
		return
	}
	node := chi.URLParam(r, "node")
	name, ext, found := strings.Cut(node, ".")
	if !found || (ext != "cin" && ext != "hrc") {
		http.NotFound(w, r)
		return
	}
	if h.notModified(r) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	var (
		b   []byte
		err error
	)
	if ext == "hrc" {
		b, err = h.ITowns.Hierarchy(r.Context(), k, name)
	} else {
		var leaf bool
		if leaf, err = optionalFlag(r.URL.Query().Get("isleaf")); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b, err = h.ITowns.Read(r.Context(), k, name, leaf)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Last-Modified", h.Started.UTC().Format(http.TimeFormat))
	writeBytes(w, contentBinary, b)
}

func (h *Handlers) notModified(r *http.Request) bool {
	ims := r.Header.Get("If-Modified-Since")
	if ims == "" || h.Started.IsZero() {
		return false
	}
	t, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	return !h.Started.Truncate(time.Second).After(t)
}

// resource parses the {resource} segment, replying 404 when it is not
// schema.table.column.
func (h *Handlers) resource(w http.ResponseWriter, r *http.Request, protocol string) (catalog.Key, *http.Request, bool) {
	k, err := model.ParseResource(chi.URLParam(r, "resource"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return catalog.Key{}, r, false
	}
	ctx := mylog.WithProtocol(r.Context(), protocol)
	return k, r.WithContext(mylog.WithResource(ctx, k.String())), true
}

// fail maps service errors: unknown resources are 404, bad node paths 400,
// anything else is the database failing us.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, itowns.ErrBadPath):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger().ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		http.Error(w, "database unavailable", http.StatusBadGateway)
	}
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// ParseHierarchyRequest reads bounds (required) and the greyhound depth
// range. A missing depthEnd covers every served level.
func ParseHierarchyRequest(r *http.Request, depth int) (greyhound.HierarchyRequest, error) {
	q := r.URL.Query()
	box, err := requiredBounds(q.Get("bounds"))
	if err != nil {
		return greyhound.HierarchyRequest{}, err
	}
	req := greyhound.HierarchyRequest{Bounds: box, DepthEnd: greyhound.BaseDepth + depth}
	if req.DepthBegin, err = optionalInt(q.Get("depthBegin"), "depthBegin", 0); err != nil {
		return greyhound.HierarchyRequest{}, err
	}
	if req.DepthEnd, err = optionalInt(q.Get("depthEnd"), "depthEnd", req.DepthEnd); err != nil {
		return greyhound.HierarchyRequest{}, err
	}
	if req.DepthEnd <= req.DepthBegin {
		return greyhound.HierarchyRequest{}, fmt.Errorf("depthEnd (%d) must be greater than depthBegin (%d)", req.DepthEnd, req.DepthBegin)
	}
	return req, nil
}

// ParseReadRequest reads a greyhound point read. bounds and one of depth or
// depthEnd are required; scale, offset and schema select the output format.
func ParseReadRequest(r *http.Request) (greyhound.ReadRequest, error) {
	q := r.URL.Query()
	var (
		req greyhound.ReadRequest
		err error
	)
	if req.Bounds, err = requiredBounds(q.Get("bounds")); err != nil {
		return req, err
	}
	if req.Depth, err = optionalInt(q.Get("depth"), "depth", 0); err != nil {
		return req, err
	}
	if req.DepthBegin, err = optionalInt(q.Get("depthBegin"), "depthBegin", 0); err != nil {
		return req, err
	}
	if req.DepthEnd, err = optionalInt(q.Get("depthEnd"), "depthEnd", 0); err != nil {
		return req, err
	}
	if req.Depth <= 0 && req.DepthEnd <= 0 {
		return req, errors.New("missing required parameter: depth or depthEnd")
	}
	if s := strings.TrimSpace(q.Get("scale")); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f <= 0 {
			return req, fmt.Errorf("invalid scale %q", s)
		}
		req.Scale = &f
	}
	if s := strings.TrimSpace(q.Get("offset")); s != "" {
		off, err := model.ParseTriple(s)
		if err != nil {
			return req, fmt.Errorf("invalid offset: %w", err)
		}
		req.Offset = &off
	}
	if s := strings.TrimSpace(q.Get("schema")); s != "" {
		if req.Schema, err = patch.ParseSchema(s); err != nil {
			return req, fmt.Errorf("invalid schema: %w", err)
		}
	}
	if req.Compress, err = optionalFlag(q.Get("compress")); err != nil {
		return req, err
	}
	return req, nil
}

func requiredBounds(s string) (geom.Box, error) {
	if strings.TrimSpace(s) == "" {
		return geom.Box{}, errors.New("missing required parameter: bounds")
	}
	b, err := geom.ParseBounds(s)
	if err != nil {
		return geom.Box{}, fmt.Errorf("invalid bounds: %w", err)
	}
	return b, nil
}

func requiredInt(s, name string) (int, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("missing required parameter: %s", name)
	}
	return optionalInt(s, name, 0)
}

func optionalInt(s, name string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return n, nil
}

// optionalFlag accepts 0/1 and the strconv boolean spellings.
func optionalFlag(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid flag %q", s)
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", contentJSON)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBytes(w http.ResponseWriter, contentType string, b []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	_, _ = w.Write(b)
}
