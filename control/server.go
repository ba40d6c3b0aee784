// Package control is the HTTP surface of the relay: parameter updates, calibration, status and a websocket
// stream of forwarded samples.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/mux"
	"github.com/olahol/melody"

	"github.com/jdginn/antidrift/calibration"
	"github.com/jdginn/antidrift/logging"
	"github.com/jdginn/antidrift/params"
	"github.com/jdginn/antidrift/relay"
)

const shutdownTimeout = 5 * time.Second

// Relay is the part of *relay.Relay the control surface drives.
type Relay interface {
	Parameters() params.Params
	UpdateParameters(u params.Update) (params.Params, error)
	TriggerCalibration() calibration.Epoch
	Status() relay.Status
	ActiveTrackers() []relay.ActiveTracker
	SubscribeSamples(ch chan<- relay.Sample) event.Subscription
}

type Server struct {
	Addr string

	relay  Relay
	melody *melody.Melody
	log    *slog.Logger
}

func NewServer(addr string, r Relay) *Server {
	s := &Server{
		Addr:  addr,
		relay: r,
		log:   logging.Get(logging.HTTP),
	}
	s.initMelody()
	return s
}

func (s *Server) NewRouter() *mux.Router {
	router := mux.NewRouter().StrictSlash(false)
	router.Use(loggingMiddleware)

	apiRoutes := router.NewRoute().Subrouter()
	apiRoutes.Use(permissiveCorsMiddleware)

	apiRoutes.Path("/ping").HandlerFunc(pingPong).Methods(http.MethodGet)
	apiRoutes.Path("/ws").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.melody.HandleRequest(w, r); err != nil {
			s.log.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		}
	}).Methods(http.MethodGet)

	apiJSONRoutes := apiRoutes.NewRoute().Subrouter()
	apiJSONRoutes.Use(contentTypeMiddlewareFunc("application/json"))

	apiJSONRoutes.Path("/settings").HandlerFunc(s.handleGetSettings).Methods(http.MethodGet)
	apiJSONRoutes.Path("/settings").HandlerFunc(s.handlePostSettings).Methods(http.MethodPost)
	apiJSONRoutes.Path("/calibrate").HandlerFunc(s.handleCalibrate).Methods(http.MethodPost)
	apiJSONRoutes.Path("/status").HandlerFunc(s.handleStatus).Methods(http.MethodGet)
	apiJSONRoutes.Path("/trackers").HandlerFunc(s.handleTrackers).Methods(http.MethodGet)

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully. A bind failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("bind control server on %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.startBroadcast(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting control server", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	_ = s.melody.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown control server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control server: %w", err)
	}
	s.log.Info("Control server stopped")
	return nil
}
