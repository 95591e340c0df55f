package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"imbridge/internal/busapi"
	"imbridge/internal/config"
	"imbridge/internal/health"
	"imbridge/internal/ime"
	"imbridge/internal/keymap"
	"imbridge/internal/logging"
	"imbridge/internal/metrics"
	"imbridge/internal/scenario"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var (
		scriptPath string
		duration   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a seat, exposing metrics over HTTP and status on D-Bus",
		Long: `Runs a bridge for the configured seat. With --script the seat is driven
by a replay script; otherwise it idles, serving status. The configuration
file is watched: keyboard and binding changes are applied live.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			s := &server{cfg: cfg, configPath: path, logger: logger.WithComponent("serve")}
			return s.run(ctx, scriptPath)
		},
	}
	cmd.Flags().StringVar(&scriptPath, "script", "", "drive the seat with this replay script")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

type server struct {
	cfg        *config.Config
	configPath string
	logger     *logging.Logger

	// mu serializes calls into the bridge.
	mu     sync.Mutex
	seat   *keymap.Seat
	bridge *ime.Bridge

	health  *health.Checker
	reloads health.ErrorTracker
}

func (s *server) run(ctx context.Context, scriptPath string) error {
	seat, err := newSeat(s.cfg)
	if err != nil {
		return err
	}
	defer seat.Close()
	s.seat = seat

	script := &scenario.Script{Seat: s.cfg.Seat.Name}
	if scriptPath != "" {
		if script, err = scenario.LoadFile(scriptPath); err != nil {
			return err
		}
	}

	reg := metrics.NewRegistry("imbridge", "")
	runner := scenario.NewRunner(script, scenario.Options{
		Seat:     seat,
		Bindings: s.cfg.InputMethod.Bindings,
		Metrics:  reg,
		Logger:   s.logger,
	})
	s.bridge = runner.Bridge()
	s.health = s.newHealth()

	if s.cfg.Metrics.Enabled {
		stopMetrics, err := s.serveMetrics(s.handler(reg))
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	if s.cfg.Bus.Enabled {
		svc, err := s.exportBus()
		if err != nil {
			return err
		}
		defer svc.Close()
	}

	if s.configPath != "" {
		loader, err := s.watchConfig(ctx)
		if err != nil {
			s.logger.Warn("config hot reload disabled", "path", s.configPath, "error", err)
		} else {
			defer loader.Close()
		}
	}

	if len(script.Steps) > 0 {
		s.mu.Lock()
		res, err := runner.Run(ctx, script)
		s.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if res != nil {
			s.logger.Info("script finished", "name", script.Name, "steps", res.Steps, "failures", len(res.Failures))
			for _, f := range res.Failures {
				s.logger.Warn("expectation failed", "step", f.Step, "op", f.Op, "message", f.Message)
			}
		}
	}

	s.health.SetReady(true)
	s.logger.Info("serving seat", "seat", s.bridge.SeatName(), "id", s.bridge.ID().String())
	<-ctx.Done()
	s.logger.Info("shutting down")
	return nil
}

func (s *server) newHealth() *health.Checker {
	c := health.NewChecker()
	c.RegisterFunc("keymap", false, health.KeymapCheck(s.seat))
	c.RegisterFunc("input_method", false, health.InputMethodCheck(s.bridge.InputMethods().Len))
	c.RegisterFunc("config_reload", false, s.reloads.Check("config reload"))
	return c
}

// handler serves metrics at the configured path and the health probes
// at /livez, /readyz and /healthz.
func (s *server) handler(reg *metrics.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Metrics.Path, reg.HTTPHandler())
	s.health.Mount(mux, "")
	return mux
}

func (s *server) serveMetrics(h http.Handler) (func(), error) {
	ln, err := net.Listen("tcp", s.cfg.Metrics.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics: %w", err)
	}

	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	s.logger.Info("metrics listening", "addr", ln.Addr().String(), "path", s.cfg.Metrics.Path)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func (s *server) exportBus() (*busapi.Service, error) {
	conn, err := busapi.Connect(s.cfg.Bus.Bus)
	if err != nil {
		return nil, err
	}
	seat := busapi.NewSeat(busapi.BridgeStatus{Bridge: s.bridge}, s.logger)
	svc, err := busapi.Export(conn, seat, s.bridge.ID())
	if err != nil {
		conn.Close()
		return nil, err
	}
	return svc, nil
}

func (s *server) watchConfig(ctx context.Context) (*config.Loader, error) {
	loader := config.NewLoader(s.configPath)
	if _, err := loader.Load(); err != nil {
		return nil, err
	}
	loader.OnChange(s.applyConfig)
	if err := loader.Watch(); err != nil {
		loader.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-loader.Errors():
				s.reloads.Record(err)
				s.logger.Warn("config reload failed", "error", err)
			}
		}
	}()
	return loader, nil
}

// applyConfig applies the live-reloadable parts of cfg.
func (s *server) applyConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := applyKeyboard(s.seat, cfg.Keyboard); err != nil {
		s.logger.Warn("keeping previous keymap", "error", err)
	}
	s.reloads.Record(nil)
	n := s.bridge.RefreshKeyboard()
	rebound := s.bridge.SetBindings(cfg.InputMethod.Bindings)
	s.logger.Info("configuration reloaded", "input_methods", n, "rebound_text_inputs", rebound)
}
