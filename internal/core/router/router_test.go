package router

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/pcstream/internal/catalog"
	"github.com/mohammed-shakir/pcstream/internal/catalog/catalogtest"
	"github.com/mohammed-shakir/pcstream/internal/geom"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy/greyhound"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy/itowns"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy/tileset"
	"github.com/mohammed-shakir/pcstream/internal/patch"
	"github.com/mohammed-shakir/pcstream/internal/pgpc"
	"github.com/mohammed-shakir/pcstream/internal/pgpc/pgpctest"
)

const bounds = "[0,0,0,8,8,8]"

var started = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func xyz() patch.Schema {
	return patch.Schema{
		{Name: "X", Type: patch.Signed, Size: 4},
		{Name: "Y", Type: patch.Signed, Size: 4},
		{Name: "Z", Type: patch.Signed, Size: 4},
	}
}

func cloud() pgpctest.Cloud {
	return pgpctest.Cloud{
		Schema: xyz(),
		Points: []patch.Record{{1, 1, 1}, {1, 1, 1}, {3, 3, 3}, {7, 7, 7}},
	}
}

func newServer(t *testing.T, f *pgpctest.Fake) http.Handler {
	t.Helper()
	e := &catalog.Entry{
		Key:       catalog.Key{Table: "public.pa", Column: "points"},
		SRID:      2154,
		SRS:       "EPSG:2154",
		BBox:      geom.Box{XMax: 8, YMax: 8, ZMax: 8},
		PatchSize: 400,
		Outputs:   []catalog.OutputSchema{{PCID: 1, Schema: xyz(), Scales: [3]float64{1, 1, 1}, Stored: true}},
	}
	cat, err := catalog.New(catalogtest.NewMemStore(e), 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Handlers{
		Catalog:   cat,
		Greyhound: &greyhound.Service{Catalog: cat, Builder: &greyhound.Builder{Exec: f}, Depth: 3, Logger: logger},
		Tiles:     &tileset.Service{Catalog: cat, Builder: &tileset.Builder{Exec: f}, LODMax: 2, BaseURL: "http://pc.test"},
		ITowns:    &itowns.Service{Catalog: cat, Exec: f, LODMax: itowns.DefaultLODMax, HRCDepth: 1},
		Logger:    logger,
		Started:   started,
	}
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

func get(t *testing.T, h http.Handler, target string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestInfos(t *testing.T) {
	h := newServer(t, &pgpctest.Fake{})
	rr := get(t, h, "/infos/online")
	var msg string
	if rr.Code != http.StatusOK || json.Unmarshal(rr.Body.Bytes(), &msg) != nil || !strings.Contains(msg, "online") {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = get(t, h, "/infos/sources")
	var srcs []source
	if err := json.Unmarshal(rr.Body.Bytes(), &srcs); err != nil {
		t.Fatalf("sources: %v (%s)", err, rr.Body.String())
	}
	if len(srcs) != 1 || srcs[0].Table != "public.pa" || srcs[0].Column != "points" || srcs[0].NumPoints != 0 {
		t.Fatalf("sources=%+v", srcs)
	}
}

func TestResourceMustHaveTwoDots(t *testing.T) {
	h := newServer(t, &pgpctest.Fake{})
	for _, p := range []string{"/greyhound/pa.points/info", "/3dtiles/a.b.c.d/info", "/itowns/points/r/r.hrc"} {
		if rr := get(t, h, p); rr.Code != http.StatusNotFound {
			t.Fatalf("%s status=%d", p, rr.Code)
		}
	}
}

func TestUnknownResource404(t *testing.T) {
	h := newServer(t, &pgpctest.Fake{})
	for _, p := range []string{
		"/greyhound/public.other.points/info",
		"/3dtiles/public.other.points/tileset.json",
		"/itowns/public.other.points/r/r.hrc",
	} {
		if rr := get(t, h, p); rr.Code != http.StatusNotFound {
			t.Fatalf("%s status=%d", p, rr.Code)
		}
	}
}

func TestGreyhound(t *testing.T) {
	c := cloud()
	h := newServer(t, &pgpctest.Fake{CountFunc: c.Count, PatchFunc: c.Patch})

	rr := get(t, h, "/greyhound/public.pa.points/info")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"type":"octree"`) {
		t.Fatalf("info status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = get(t, h, "/greyhound/public.pa.points/hierarchy?depthBegin=8&depthEnd=10&bounds="+bounds)
	var tree map[string]any
	if rr.Code != http.StatusOK || json.Unmarshal(rr.Body.Bytes(), &tree) != nil || tree["n"] != float64(4) {
		t.Fatalf("hierarchy status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = get(t, h, "/greyhound/public.pa.points/read?depthEnd=9&bounds="+bounds)
	b := rr.Body.Bytes()
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != contentBinary {
		t.Fatalf("read status=%d type=%q", rr.Code, rr.Header().Get("Content-Type"))
	}
	if n := int32(binary.LittleEndian.Uint32(b[len(b)-4:])); n != 4 || len(b) != 4*12+4 {
		t.Fatalf("read count=%d len=%d", n, len(b))
	}
}

func TestGreyhound_BadParams400(t *testing.T) {
	h := newServer(t, &pgpctest.Fake{})
	for _, p := range []string{
		"/greyhound/public.pa.points/hierarchy",
		"/greyhound/public.pa.points/hierarchy?bounds=[1,2,3]",
		"/greyhound/public.pa.points/hierarchy?bounds=" + bounds + "&depthBegin=10&depthEnd=9",
		"/greyhound/public.pa.points/read?bounds=" + bounds,
		"/greyhound/public.pa.points/read?depth=9&bounds=" + bounds + "&scale=abc",
		"/greyhound/public.pa.points/read?depth=9&bounds=" + bounds + "&offset=[1,2]",
		"/greyhound/public.pa.points/read?depth=9&bounds=" + bounds + "&schema=nope",
	} {
		if rr := get(t, h, p); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s status=%d body=%s", p, rr.Code, rr.Body.String())
		}
	}
}

func TestParseReadRequest_Options(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		`/read?depthBegin=8&depthEnd=11&bounds=`+bounds+`&scale=0.01&offset=[1,2,3]&compress=true&schema=[{"name":"X","type":"signed","size":4}]`, nil)
	got, err := ParseReadRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	if got.Level() != 2 || *got.Scale != 0.01 || *got.Offset != [3]float64{1, 2, 3} || !got.Compress || len(got.Schema) != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestThreeDTiles(t *testing.T) {
	c := cloud()
	h := newServer(t, &pgpctest.Fake{CountFunc: c.Count, PatchFunc: c.Patch})

	rr := get(t, h, "/3dtiles/public.pa.points/tileset.json")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "read.pnts?lod=0&bounds=") {
		t.Fatalf("tileset status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = get(t, h, "/3dtiles/public.pa.points/read.pnts?lod=0&bounds="+bounds)
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Body.String(), "pnts") {
		t.Fatalf("pnts status=%d", rr.Code)
	}

	if rr := get(t, h, "/3dtiles/public.pa.points/read.pnts?bounds="+bounds); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing lod status=%d", rr.Code)
	}
}

func TestDatabaseFailure502(t *testing.T) {
	down := errors.New("connection refused")
	h := newServer(t, &pgpctest.Fake{
		CountFunc: func(pgpc.Query) (int64, error) { return 0, down },
		PatchFunc: func(pgpc.Query) ([]byte, error) { return nil, down },
	})
	if rr := get(t, h, "/3dtiles/public.pa.points/tileset.json"); rr.Code != http.StatusBadGateway {
		t.Fatalf("tileset status=%d", rr.Code)
	}
	if rr := get(t, h, "/itowns/public.pa.points/r/r.cin"); rr.Code != http.StatusBadGateway {
		t.Fatalf("cin status=%d", rr.Code)
	}
	// greyhound reads degrade to the empty payload
	rr := get(t, h, "/greyhound/public.pa.points/read?depth=8&bounds="+bounds)
	if rr.Code != http.StatusOK || rr.Body.String() != "\x00\x00\x00\x00" {
		t.Fatalf("read status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestITowns(t *testing.T) {
	c := cloud()
	h := newServer(t, &pgpctest.Fake{CountFunc: c.Count, PatchFunc: c.Patch})

	rr := get(t, h, "/itowns/public.pa.points/r/r.hrc")
	if rr.Code != http.StatusOK || rr.Body.Len()%5 != 0 || rr.Body.Len() == 0 {
		t.Fatalf("hrc status=%d len=%d", rr.Code, rr.Body.Len())
	}
	lm := rr.Header().Get("Last-Modified")
	if lm != started.Format(http.TimeFormat) {
		t.Fatalf("Last-Modified=%q", lm)
	}

	rr = get(t, h, "/itowns/public.pa.points/r/r0.cin?isleaf=1")
	if rr.Code != http.StatusOK || rr.Body.Len() < 24 {
		t.Fatalf("cin status=%d len=%d", rr.Code, rr.Body.Len())
	}

	if rr := get(t, h, "/itowns/public.pa.points/r/r.hrc", "If-Modified-Since", lm); rr.Code != http.StatusNotModified {
		t.Fatalf("conditional status=%d", rr.Code)
	}
	stale := started.Add(-time.Hour).Format(http.TimeFormat)
	if rr := get(t, h, "/itowns/public.pa.points/r/r.hrc", "If-Modified-Since", stale); rr.Code != http.StatusOK {
		t.Fatalf("stale copy status=%d", rr.Code)
	}
}

func TestITowns_BadNode(t *testing.T) {
	h := newServer(t, &pgpctest.Fake{})
	if rr := get(t, h, "/itowns/public.pa.points/r/r9.cin"); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad digit status=%d", rr.Code)
	}
	if rr := get(t, h, "/itowns/public.pa.points/r/r0.txt"); rr.Code != http.StatusNotFound {
		t.Fatalf("bad extension status=%d", rr.Code)
	}
	if rr := get(t, h, "/itowns/public.pa.points/r/r0.cin?isleaf=maybe"); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad isleaf status=%d", rr.Code)
	}
}
