package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type Server struct{ mux *chi.Mux }

// New builds the router. requestTimeout bounds every handler; it should be
// longer than the search timeout so a slow search still gets its 503 problem.
func New(requestTimeout time.Duration) *Server {
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}
	m := chi.NewRouter()

	// order: ids and panics first, then observation, timeout innermost
	m.Use(chimw.RealIP, chimw.RequestID, chimw.Recoverer)
	m.Use(Metrics, Logger(log.Logger))
	m.Use(Timeout(requestTimeout))
	m.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, problem{Status: http.StatusNotFound, Title: "Not Found", Detail: "no route for " + r.URL.Path})
	})
	m.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, problem{Status: http.StatusMethodNotAllowed, Title: "Method Not Allowed"})
	})

	return &Server{mux: m}
}

func (s *Server) Mux() http.Handler { return s.mux }

// Mount attaches an extra handler such as /metrics.
func (s *Server) Mount(path string, h http.Handler) {
	s.mux.Handle(path, h)
}
