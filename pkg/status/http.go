package status

import (
    "net/http"

    "github.com/gorilla/mux"
    "go.uber.org/zap"
)

// Handler serves the latest snapshot from b, negotiating the encoding.
func Handler(b *Board, reg *Registry) http.HandlerFunc {
    return func(w http.ResponseWriter, req *http.Request) {
        s := b.Load()
        if s == nil {
            http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
            return
        }
        c := reg.Negotiate(req.Header.Get("Accept"))
        if f := req.URL.Query().Get("format"); f != "" {
            if fc := reg.Get(formats[f]); fc != nil {
                c = fc
            }
        }
        body, err := c.Marshal(s)
        if err != nil {
            zap.L().Warn("encode status", zap.String("content_type", c.ContentType()), zap.Error(err))
            http.Error(w, err.Error(), http.StatusInternalServerError)
            return
        }
        w.Header().Set("Content-Type", c.ContentType())
        _, _ = w.Write(body)
    }
}

var formats = map[string]string{
    "json":  ContentJSON,
    "cbor":  ContentCBOR,
    "proto": ContentProtobuf,
}

// NewRouter mounts /status and, when metrics is non-nil, /metrics.
func NewRouter(b *Board, reg *Registry, metrics http.Handler) *mux.Router {
    r := mux.NewRouter()
    r.HandleFunc("/status", Handler(b, reg)).Methods(http.MethodGet)
    if metrics != nil {
        r.Handle("/metrics", metrics).Methods(http.MethodGet)
    }
    r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
        if b.Load() == nil {
            w.WriteHeader(http.StatusServiceUnavailable)
            return
        }
        _, _ = w.Write([]byte("ok\n"))
    }).Methods(http.MethodGet)
    return r
}
