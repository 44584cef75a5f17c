package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	coremetrics "github.com/kilianp07/tablebot/core/metrics"
	"github.com/kilianp07/tablebot/infra/logger"
	"github.com/kilianp07/tablebot/infra/metrics"
)

func main() {
	cfg := parseFlags()
	log := logger.New("simulator")
	if err := cfg.Validate(); err != nil {
		log.Errorf("invalid config: %v", err)
		os.Exit(2)
	}
	if !cfg.Verbose {
		_ = logger.SetLevel("warn")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	refs := ParseRobots(cfg.Robots)
	if len(refs) == 0 {
		fctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		var err error
		refs, err = FetchRobots(fctx, cfg.APIURL, cfg.APIToken)
		cancel()
		if err != nil {
			log.Errorf("fetch robots: %v", err)
			os.Exit(1)
		}
	}

	var sink coremetrics.RobotStateRecorder = coremetrics.NopSink{}
	if cfg.InfluxURL != "" {
		s := metrics.NewInfluxSinkWithFallback(metrics.InfluxConfig{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		if rec, ok := s.(coremetrics.RobotStateRecorder); ok {
			sink = rec
		}
	}

	strat := RandomAck{Delay: cfg.AckLatency, DropRate: cfg.DropRate}
	fleet := BuildFleet(refs, cfg, strat, sink)
	log.Infof("simulating %d robots against %s", len(fleet), cfg.Broker)
	runFleet(ctx, fleet, log)
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&cfg.Robots, "robots", "", "comma separated robot ids (id or id=name)")
	flag.StringVar(&cfg.APIURL, "api", "", "coordinator base URL used to list robots when -robots is empty")
	flag.StringVar(&cfg.APIToken, "api-token", "", "bearer token for the coordinator API")
	flag.StringVar(&cfg.StatePrefix, "state-prefix", "robots/state", "telemetry push topic prefix")
	flag.StringVar(&cfg.CommandPrefix, "command-prefix", "robots", "command topic prefix")
	flag.StringVar(&cfg.AckPrefix, "ack-prefix", "robots", "ack topic prefix")
	flag.StringVar(&cfg.RequestTopic, "request-topic", "robots/telemetry/request", "telemetry poll request topic, empty to ignore polls")
	flag.StringVar(&cfg.ResponsePrefix, "response-prefix", "robots/telemetry/response", "telemetry poll response prefix")
	flag.DurationVar(&cfg.Interval, "interval", 5*time.Second, "state publish interval")
	flag.DurationVar(&cfg.AckLatency, "ack-latency", 0, "ack latency")
	flag.Float64Var(&cfg.DropRate, "drop-rate", 0, "ack drop rate")
	flag.Float64Var(&cfg.ChargeRate, "charge-rate", 5, "battery percent gained per minute while charging")
	flag.Float64Var(&cfg.DrainRate, "drain-rate", 2, "battery percent lost per minute while working")
	flag.Float64Var(&cfg.StartBattery, "battery", 80, "initial battery percentage")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "enable verbose logging")
	flag.StringVar(&cfg.InfluxURL, "influx-url", "", "InfluxDB URL")
	flag.StringVar(&cfg.InfluxToken, "influx-token", "", "InfluxDB token")
	flag.StringVar(&cfg.InfluxOrg, "influx-org", "", "InfluxDB organization")
	flag.StringVar(&cfg.InfluxBucket, "influx-bucket", "", "InfluxDB bucket")
	flag.Parse()
	return cfg
}

func runFleet(ctx context.Context, fleet []*SimulatedRobot, log logger.Logger) {
	var wg sync.WaitGroup
	for _, r := range fleet {
		wg.Add(1)
		go func(r *SimulatedRobot) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				log.Errorf("%s: %v", r.ID, err)
			}
		}(r)
	}
	wg.Wait()
}
