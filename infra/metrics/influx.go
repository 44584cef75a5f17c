package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/tablebot/core/metrics"
	"github.com/kilianp07/tablebot/infra/logger"
)

// InfluxConfig locates the bucket receiving robot and seating points.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes coordinator events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the HTTP client.
func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordSeating writes one seat request outcome.
func (s *InfluxSink) RecordSeating(ev coremetrics.SeatingEvent) error {
	p := write.NewPointWithMeasurement("table_seating").
		AddTag("table_id", ev.TableID).
		AddTag("outcome", ev.Outcome).
		AddTag("component", "coordinator")
	if ev.RobotID != "" {
		p = p.AddTag("robot_id", ev.RobotID)
	}
	p = p.AddField("table_number", ev.TableNumber).
		AddField("head_count", ev.HeadCount).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordRobotState writes a snapshot of a robot.
func (s *InfluxSink) RecordRobotState(ev coremetrics.RobotStateEvent) error {
	p := write.NewPointWithMeasurement("robot_state").
		AddTag("robot_id", ev.RobotID).
		AddTag("name", ev.Name).
		AddTag("reason", ev.Reason).
		AddField("action", ev.Action).
		AddField("battery", round3(ev.Battery)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordPromotion writes a pending assignment turned into service.
func (s *InfluxSink) RecordPromotion(ev coremetrics.PromotionEvent) error {
	p := write.NewPointWithMeasurement("robot_promotion").
		AddTag("robot_id", ev.RobotID).
		AddTag("table_id", ev.TableID).
		AddTag("order_id", ev.OrderID).
		AddField("battery", round3(ev.Battery)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordOrderStatus writes an order transition.
func (s *InfluxSink) RecordOrderStatus(ev coremetrics.OrderStatusEvent) error {
	p := write.NewPointWithMeasurement("order_status").
		AddTag("order_id", ev.OrderID).
		AddTag("table_id", ev.TableID).
		AddTag("status", ev.Status).
		AddTag("previous", ev.Previous)
	if ev.WaiterID != "" {
		p = p.AddTag("robot_id", ev.WaiterID)
	}
	p = p.AddField("items", ev.Items).
		AddField("total", round3(ev.Total)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordFleet writes how many robots perform each action.
func (s *InfluxSink) RecordFleet(byAction map[string]int) error {
	p := write.NewPointWithMeasurement("fleet_snapshot").
		AddTag("component", "coordinator").
		SetTime(time.Now())
	total := 0
	for action, n := range byAction {
		p = p.AddField(strings.ReplaceAll(action, " ", "_"), n)
		total += n
	}
	p = p.AddField("total", total)
	return s.write(p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
