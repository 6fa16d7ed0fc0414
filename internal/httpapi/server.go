// Package httpapi exposes the memory engine as a thin gin binding:
// handlers call the encoder and synthesizer directly and marshal
// *katraerr.Error into structured JSON, with no protocol logic beyond
// HTTP+JSON.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ckoons/katra-sub000/internal/consolidation"
	"github.com/ckoons/katra-sub000/internal/encoder"
	"github.com/ckoons/katra-sub000/internal/logging"
	"github.com/ckoons/katra-sub000/internal/synthesis"
)

var log = logging.GetLogger("httpapi")

// Server is the thin HTTP front door over the memory engine.
type Server struct {
	router     *gin.Engine
	enc        *encoder.Encoder
	synth      *synthesis.Synthesizer
	consol     *consolidation.Engine
	httpServer *http.Server
}

// Options configures server-level concerns that are not engine business
// logic: auth, CORS, release mode.
type Options struct {
	APIKey       string
	AllowOrigins []string
	Debug        bool
}

// New constructs a Server wired to the given engine collaborators. Any
// of synth/consol may be nil; the corresponding routes then respond
// E_NOT_IMPLEMENTED.
func New(enc *encoder.Encoder, synth *synthesis.Synthesizer, consol *consolidation.Engine, opts Options) *Server {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(opts.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = opts.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	if opts.APIKey != "" {
		router.Use(APIKeyAuth(opts.APIKey))
	}
	router.Use(MaxBodySize(maxBodyBytes))

	s := &Server{router: router, enc: enc, synth: synth, consol: consol}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		api.GET("/health", s.health)
		api.POST("/memories", s.storeMemory)
		api.GET("/memories", s.queryMemories)
		api.POST("/memories/recall", s.recall)
		api.POST("/memories/:ci_id/:record_id/archive", s.archiveMemory)
		api.POST("/consolidation/:ci_id/run", s.runConsolidation)
	}
}

// Router exposes the underlying gin engine, primarily for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting http api", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http api server error: %w", err)
	}
}
