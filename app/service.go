package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/tablebot/api"
	_ "github.com/kilianp07/tablebot/app/plugins" // backend registrations
	"github.com/kilianp07/tablebot/config"
	"github.com/kilianp07/tablebot/core/dispatch"
	"github.com/kilianp07/tablebot/core/events"
	coremetrics "github.com/kilianp07/tablebot/core/metrics"
	coremon "github.com/kilianp07/tablebot/core/monitoring"
	corestore "github.com/kilianp07/tablebot/core/store"
	"github.com/kilianp07/tablebot/infra/amqp"
	"github.com/kilianp07/tablebot/infra/logger"
	"github.com/kilianp07/tablebot/infra/metrics"
	"github.com/kilianp07/tablebot/infra/monitoring"
	"github.com/kilianp07/tablebot/infra/mqtt"
	"github.com/kilianp07/tablebot/infra/telemetry"
	"github.com/kilianp07/tablebot/internal/eventbus"
)

// Service wires the coordinator to its store, transports and observers.
type Service struct {
	Coordinator *dispatch.Coordinator

	cfg       *config.Config
	store     corestore.Store
	locks     dispatch.LockManager
	bus       *eventbus.TypedBus[events.Event]
	sink      coremetrics.MetricsSink
	mqtt      *mqtt.PahoClient
	kitchen   *amqp.KitchenPublisher
	telemetry *telemetry.Manager
	http      *echo.Echo
	log       logger.Logger
}

// New creates a Service from the configuration. External connections are
// opened here; nothing runs until Run.
func New(ctx context.Context, cfg *config.Config) (svc *Service, err error) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, err
	}
	coremon.Init(mon)

	s := &Service{cfg: cfg, log: logger.New("service"), bus: eventbus.NewTyped[events.Event]()}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if s.store, err = corestore.NewStore(cfg.Store); err != nil {
		return nil, fmt.Errorf("store %s: %w", cfg.Store.Type, err)
	}
	if s.locks, err = dispatch.NewLockManager(cfg.Lock); err != nil {
		return nil, fmt.Errorf("locks %s: %w", cfg.Lock.Type, err)
	}
	if s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics sinks: %w", err)
	}
	s.Coordinator, err = dispatch.NewCoordinator(s.store, s.locks, cfg.Dispatch, logger.New("coordinator"), s.sink, s.bus)
	if err != nil {
		return nil, err
	}
	if cfg.MQTT.Enabled {
		if s.mqtt, err = mqtt.NewPahoClient(cfg.MQTT); err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		if cfg.Telemetry.Enabled {
			s.telemetry, err = telemetry.NewManager(cfg.MQTT, cfg.Telemetry, s.Coordinator, s.Coordinator)
			if err != nil {
				return nil, fmt.Errorf("telemetry: %w", err)
			}
		}
	}
	if cfg.AMQP.Enabled {
		if s.kitchen, err = amqp.Dial(cfg.AMQP); err != nil {
			return nil, err
		}
	}
	if !cfg.Seed.Empty() {
		if err := Seed(ctx, s.Coordinator, cfg.Seed, s.log); err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
	}
	s.http = api.NewServer(s.Coordinator, cfg.HTTP, logger.New("http"))
	return s, nil
}

// Run starts the background workers and serves HTTP until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	metrics.StartEventCollector(ctx, s.bus, s.sink, logger.New("metrics"))
	if fr, ok := s.sink.(coremetrics.FleetRecorder); ok {
		interval := time.Duration(s.cfg.Metrics.FleetInterval) * time.Second
		metrics.StartFleetReporter(ctx, s.Coordinator, fr, interval, logger.New("metrics"))
	}
	if s.mqtt != nil {
		ack := time.Duration(s.cfg.MQTT.AckTimeoutMS) * time.Millisecond
		mqtt.StartCommandForwarder(ctx, s.bus, s.mqtt, ack, logger.New("commands"))
	}
	if s.kitchen != nil {
		amqp.StartKitchenNotifier(ctx, s.bus, s.kitchen, logger.New("kitchen"))
	}
	if s.telemetry != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer coremon.Recover()
			s.telemetry.Start(ctx)
		}()
	}
	if port := s.cfg.Metrics.PrometheusPort; port != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.StartPromServer(ctx, promAddr(port), prometheus.DefaultGatherer, logger.New("metrics")); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	err := api.Serve(ctx, s.http, s.cfg.HTTP.Addr, s.log)
	wg.Wait()
	return err
}

func promAddr(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// Close releases every connection held by the service.
func (s *Service) Close() error {
	var errs []error
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if s.kitchen != nil {
		errs = append(errs, s.kitchen.Close())
	}
	if c, ok := s.locks.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	s.bus.Close()
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
