// Package router holds the HTTP handlers that expose coverage sets.
package router

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/sky-coverage/internal/cache/keys"
	"github.com/mohammed-shakir/sky-coverage/internal/core/model"
	"github.com/mohammed-shakir/sky-coverage/internal/core/observability"
	mylog "github.com/mohammed-shakir/sky-coverage/internal/logger"
	"github.com/mohammed-shakir/sky-coverage/internal/mapper/healpix"
	"github.com/mohammed-shakir/sky-coverage/internal/moc"
	"github.com/mohammed-shakir/sky-coverage/internal/provider"
)

// Source resolves datasets to coverage sets, optionally degraded to an order.
// *provider.Cached implements it.
type Source interface {
	Coverage(ctx context.Context, dataset string) (*moc.MOC, error)
	CoverageAt(ctx context.Context, dataset string, order int) (*moc.MOC, error)
}

var errBadRequest = errors.New("bad request")

const (
	maxContainsBody   = 4 << 20
	defaultMaxPoints  = 100_000
	skyFractionHeader = "X-Sky-Fraction"
)

type Handlers struct {
	logger    *slog.Logger
	src       Source
	reg       *provider.Registry
	maxPoints int
}

// New builds the handlers. reg may be nil, in which case every dataset gets
// the default style.
func New(logger *slog.Logger, src Source, reg *provider.Registry) *Handlers {
	return &Handlers{logger: logger, src: src, reg: reg, maxPoints: defaultMaxPoints}
}

func (h *Handlers) Mount(r chi.Router) {
	r.Get("/datasets", h.datasets)
	r.Get("/coverage/{dataset}", h.coverage)
	r.Get("/coverage/{dataset}/summary", h.summary)
	r.Get("/intersect", h.intersect)
	r.Post("/contains/{dataset}", h.contains)
}

func (h *Handlers) datasets(w http.ResponseWriter, _ *http.Request) {
	names := h.reg.Names()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"datasets": names})
}

func (h *Handlers) coverage(w http.ResponseWriter, r *http.Request) {
	ds, err := datasetParam(r)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	ctx := mylog.WithDataset(r.Context(), ds)

	f, order, err := formatAndOrder(r)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	m, err := h.src.CoverageAt(ctx, ds, order)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.writeMOC(ctx, w, r, m, f)
}

func (h *Handlers) summary(w http.ResponseWriter, r *http.Request) {
	ds, err := datasetParam(r)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	ctx := mylog.WithDataset(r.Context(), ds)

	m, err := h.src.Coverage(ctx, ds)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	byOrder := make(map[int]int)
	for o, idx := range m.Orders() {
		byOrder[o] = len(idx)
	}
	writeJSON(w, http.StatusOK, model.Summary{
		Dataset:     ds,
		Frame:       m.Frame(),
		MaxOrder:    m.MaxOrder(),
		Cells:       m.Len(),
		CellsByOrd:  byOrder,
		SkyFraction: m.SkyFraction(),
		Style:       h.reg.Resolve(ds).Style,
	})
}

// intersect fetches both operands concurrently and returns their overlap.
func (h *Handlers) intersect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	a, b := strings.TrimSpace(q.Get("a")), strings.TrimSpace(q.Get("b"))
	if a == "" || b == "" {
		h.fail(ctx, w, fmt.Errorf("%w: parameters a and b are required", errBadRequest))
		return
	}
	f, order, err := formatAndOrder(r)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}

	var ma, mb *moc.MOC
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ma, err = h.src.CoverageAt(mylog.WithDataset(gctx, a), a, order)
		return err
	})
	g.Go(func() error {
		var err error
		mb, err = h.src.CoverageAt(mylog.WithDataset(gctx, b), b, order)
		return err
	})
	if err := g.Wait(); err != nil {
		h.fail(ctx, w, err)
		return
	}

	start := time.Now()
	out, err := ma.Intersect(mb)
	observability.ObserveCoverageOp("intersect", time.Since(start).Seconds())
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.writeMOC(ctx, w, r, out, f)
}

func (h *Handlers) contains(w http.ResponseWriter, r *http.Request) {
	ds, err := datasetParam(r)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	ctx := mylog.WithDataset(r.Context(), ds)

	var req model.ContainsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxContainsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.fail(ctx, w, fmt.Errorf("%w: decode body: %v", errBadRequest, err))
		return
	}
	if len(req.Points) > h.maxPoints {
		h.fail(ctx, w, fmt.Errorf("%w: %d points exceeds limit %d", errBadRequest, len(req.Points), h.maxPoints))
		return
	}
	frame, err := moc.ParseFrame(req.Frame)
	if err != nil {
		h.fail(ctx, w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	m, err := h.src.Coverage(ctx, ds)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}

	// pairs of the wrong length are reported, never padded or cut
	inside := make([]bool, len(req.Points))
	resp := model.ContainsResponse{Inside: inside}
	pts := make([]moc.SkyPoint, 0, len(req.Points))
	at := make([]int, 0, len(req.Points))
	for i, p := range req.Points {
		if len(p) != 2 {
			resp.Errors = append(resp.Errors, model.PointError{
				Index: i, Error: fmt.Sprintf("expected [lon, lat], got %d values", len(p)),
			})
			continue
		}
		pts = append(pts, moc.SkyPoint{Lon: p[0], Lat: p[1], Frame: frame})
		at = append(at, i)
	}

	start := time.Now()
	res, err := m.Contains(pts)
	observability.ObserveCoverageOp("contains", time.Since(start).Seconds())
	for j, ok := range res {
		inside[at[j]] = ok
	}
	if err != nil {
		ces := coordinateErrors(err)
		if len(ces) == 0 {
			h.fail(ctx, w, err)
			return
		}
		for _, ce := range ces {
			resp.Errors = append(resp.Errors, model.PointError{Index: at[ce.Index], Error: ce.Reason})
		}
	}
	slices.SortFunc(resp.Errors, func(a, b model.PointError) int { return cmp.Compare(a.Index, b.Index) })

	n := 0
	for _, ok := range inside {
		if ok {
			n++
		}
	}
	observability.AddPoints(n, len(inside)-n-len(resp.Errors), len(resp.Errors))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) writeMOC(ctx context.Context, w http.ResponseWriter, r *http.Request, m *moc.MOC, f moc.Format) {
	body, err := m.Serialize(f)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	etag := keys.ETag(body)
	w.Header().Set("ETag", etag)
	w.Header().Set(skyFractionHeader, strconv.FormatFloat(m.SkyFraction(), 'g', -1, 64))
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handlers) fail(ctx context.Context, w http.ResponseWriter, err error) {
	code := StatusFor(err)
	msg := err.Error()
	switch {
	case code >= http.StatusInternalServerError:
		h.logger.ErrorContext(ctx, "request failed", "status", code, "err", err)
		if code == http.StatusInternalServerError {
			msg = "internal server error"
		}
	default:
		h.logger.DebugContext(ctx, "request rejected", "status", code, "err", err)
	}
	writeJSON(w, code, model.ErrorResponse{Error: msg})
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, provider.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, moc.ErrInvalidCoordinate),
		errors.Is(err, model.ErrInvalidStyle):
		return http.StatusBadRequest
	case errors.Is(err, moc.ErrIncompatibleScheme):
		return http.StatusConflict
	case errors.Is(err, provider.ErrUpstream),
		errors.Is(err, moc.ErrMalformedPayload):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// datasetParam returns the {dataset} segment decoded. chi matches on the
// escaped path when one exists, so "CDS%2FP%2F2MASS%2FH" arrives encoded.
func datasetParam(r *http.Request) (string, error) {
	ds := chi.URLParam(r, "dataset")
	if r.URL.RawPath == "" {
		return ds, nil
	}
	dec, err := url.PathUnescape(ds)
	if err != nil {
		return "", fmt.Errorf("%w: dataset %q: %v", errBadRequest, ds, err)
	}
	return dec, nil
}

func formatAndOrder(r *http.Request) (moc.Format, int, error) {
	q := r.URL.Query()
	f, err := moc.ParseFormat(q.Get("format"))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	raw := strings.TrimSpace(q.Get("order"))
	if raw == "" {
		return f, -1, nil
	}
	order, err := strconv.Atoi(raw)
	if err != nil || order < 0 || order > healpix.MaxOrder {
		return "", 0, fmt.Errorf("%w: order %q outside [0,%d]", errBadRequest, raw, healpix.MaxOrder)
	}
	return f, order, nil
}

func coordinateErrors(err error) []*moc.CoordinateError {
	var errs []error
	if u, ok := err.(interface{ Unwrap() []error }); ok {
		errs = u.Unwrap()
	} else {
		errs = []error{err}
	}
	var out []*moc.CoordinateError
	for _, e := range errs {
		var ce *moc.CoordinateError
		if errors.As(e, &ce) {
			out = append(out, ce)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
