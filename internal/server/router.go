package server

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/header"
)

// maxBodyBytes is the maximum allowed size for request bodies (1 MiB).
const maxBodyBytes int64 = 1 << 20

// NewRouter serves in over HTTP at /v{version}/{resource}[/{ident}].
func NewRouter(in *Inbound, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &httpHandler{inbound: in, logger: logger.Named("http")}

	// Idents may contain an escaped "/", so routes match the escaped path.
	r := mux.NewRouter().UseEncodedPath()
	r.Use(h.logRequests)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/v{version:[0-9]+}/{resource}", h.serve)
	r.HandleFunc("/v{version:[0-9]+}/{resource}/{ident}", h.serve)
	r.NotFoundHandler = http.HandlerFunc(h.notFound)
	return r
}

type httpHandler struct {
	inbound *Inbound
	logger  *zap.Logger
}

func (h *httpHandler) serve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	version, err := strconv.Atoi(vars["version"])
	if err != nil || version < 1 {
		h.notFound(w, r)
		return
	}
	res, err := url.PathUnescape(vars["resource"])
	if err != nil {
		h.notFound(w, r)
		return
	}
	ident, err := url.PathUnescape(vars["ident"])
	if err != nil {
		h.notFound(w, r)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		msg := "Request body could not be read"
		if errors.As(err, &tooLarge) {
			msg = "Request body too large"
		}
		writeReply(w, h.inbound.Fail(r.Header.Get(header.InteractionID), apierr.PlatformMalformed, nil, msg))
		return
	}

	rep := h.inbound.Serve(r.Context(), Call{
		Method:   r.Method,
		Version:  version,
		Resource: res,
		Ident:    ident,
		Query:    r.URL.Query(),
		Header:   r.Header.Get,
		Body:     body,
	})
	writeReply(w, rep)
}

func (h *httpHandler) notFound(w http.ResponseWriter, r *http.Request) {
	writeReply(w, h.inbound.Fail("", apierr.PlatformNotFound, apierr.Ref("entity_name", r.URL.Path), ""))
}

// readBody reads at most maxBodyBytes.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	if r.ContentLength > maxBodyBytes {
		return nil, &http.MaxBytesError{Limit: maxBodyBytes}
	}
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func writeReply(w http.ResponseWriter, rep Reply) {
	for k, v := range rep.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(rep.Status)
	_, _ = w.Write(rep.Body)
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *httpHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
