// Package telemetry receives robot state over MQTT and feeds it to the
// coordinator. Robots either push state on <state_prefix>/<robot id> or
// answer poll requests on <response_prefix>/<robot id>.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/tablebot/config"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/infra/logger"
	"github.com/kilianp07/tablebot/infra/metrics"
	infmqtt "github.com/kilianp07/tablebot/infra/mqtt"
)

const handleTimeout = 5 * time.Second

// Handler stores a telemetry report for a robot.
type Handler interface {
	UpdateRobotTelemetry(ctx context.Context, id string, tel model.Telemetry) (model.Robot, error)
}

// RobotLister enumerates the robots expected to answer a poll.
type RobotLister interface {
	ListRobots(ctx context.Context) ([]model.Robot, error)
}

type mqttClient interface {
	IsConnected() bool
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// Manager collects telemetry from robots either via push or polling.
type Manager struct {
	cfg     config.TelemetryConfig
	cli     mqttClient
	handler Handler
	robots  RobotLister
	log     logger.Logger
	ctx     context.Context

	respCh chan telemetryMessage

	received    *prometheus.CounterVec
	pollReq     prometheus.Counter
	pollResp    prometheus.Counter
	pollTimeout prometheus.Counter
	lastCollect prometheus.Gauge
	latency     prometheus.Histogram
}

type telemetryMessage struct {
	RobotID string
	Payload []byte
	Arrived time.Time
}

// stateMessage is the JSON document robots publish.
type stateMessage struct {
	RobotID string `json:"robot_id"`
	Battery *struct {
		Percentage *float64 `json:"percentage"`
	} `json:"battery"`
	Pose              *model.Pose     `json:"pose"`
	Velocity          *model.Velocity `json:"velocity"`
	GoalStatus        string          `json:"goal_status"`
	DistanceTravelled float64         `json:"distance_travelled"`
	TS                *int64          `json:"ts"`
}

// NewManager connects to MQTT and prepares telemetry collection.
func NewManager(mqttCfg infmqtt.Config, cfg config.TelemetryConfig, h Handler, robots RobotLister) (*Manager, error) {
	opts, err := infmqtt.NewClientOptions(mqttCfg)
	if err != nil {
		return nil, err
	}
	id := mqttCfg.ClientID
	if id != "" {
		id += "-telemetry"
	} else {
		id = "telemetry-" + uuid.NewString()
	}
	opts.SetClientID(id)
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return newManager(cli, cfg, h, robots, prometheus.DefaultRegisterer)
}

func newManager(cli mqttClient, cfg config.TelemetryConfig, h Handler, robots RobotLister, reg prometheus.Registerer) (*Manager, error) {
	cfg.SetDefaults()
	m := &Manager{
		cfg:         cfg,
		cli:         cli,
		handler:     h,
		robots:      robots,
		log:         logger.New("telemetry"),
		ctx:         context.Background(),
		respCh:      make(chan telemetryMessage, 100),
		received:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "telemetry_messages_total", Help: "Telemetry messages by source and result"}, []string{"source", "result"}),
		pollReq:     prometheus.NewCounter(prometheus.CounterOpts{Name: "telemetry_poll_requests_total", Help: "Number of telemetry poll requests"}),
		pollResp:    prometheus.NewCounter(prometheus.CounterOpts{Name: "telemetry_poll_responses_total", Help: "Number of telemetry poll responses"}),
		pollTimeout: prometheus.NewCounter(prometheus.CounterOpts{Name: "telemetry_poll_timeout_total", Help: "Number of robots that missed a poll"}),
		lastCollect: prometheus.NewGauge(prometheus.GaugeOpts{Name: "telemetry_last_collect_timestamp_seconds", Help: "Unix timestamp of last telemetry collection"}),
		latency:     prometheus.NewHistogram(prometheus.HistogramOpts{Name: "telemetry_collect_latency_seconds", Help: "Latency of telemetry collection", Buckets: prometheus.DefBuckets}),
	}
	var err error
	if m.received, err = metrics.Register(reg, m.received); err != nil {
		return nil, err
	}
	if m.pollReq, err = metrics.Register(reg, m.pollReq); err != nil {
		return nil, err
	}
	if m.pollResp, err = metrics.Register(reg, m.pollResp); err != nil {
		return nil, err
	}
	if m.pollTimeout, err = metrics.Register(reg, m.pollTimeout); err != nil {
		return nil, err
	}
	if m.lastCollect, err = metrics.Register(reg, m.lastCollect); err != nil {
		return nil, err
	}
	if m.latency, err = metrics.Register(reg, m.latency); err != nil {
		return nil, err
	}
	return m, nil
}

// Start runs telemetry collection until context is done.
func (m *Manager) Start(ctx context.Context) {
	m.ctx = ctx
	mode := strings.ToLower(m.cfg.Mode)
	if mode == "push" || mode == "hybrid" {
		topic := strings.TrimSuffix(m.cfg.StatePrefix, "/") + "/+"
		if token := m.cli.Subscribe(topic, 0, m.onPush); token.Wait() && token.Error() != nil {
			m.log.Errorf("subscribe state: %v", token.Error())
		}
	}
	if mode == "pull" || mode == "hybrid" {
		topic := strings.TrimSuffix(m.cfg.ResponsePrefix, "/") + "/+"
		if token := m.cli.Subscribe(topic, 0, m.onResponse); token.Wait() && token.Error() != nil {
			m.log.Errorf("subscribe response: %v", token.Error())
		}
		go m.pollLoop(ctx)
	}
	<-ctx.Done()
	if m.cli.IsConnected() {
		m.cli.Disconnect(250)
	}
}

func (m *Manager) onPush(_ paho.Client, msg paho.Message) {
	if err := m.process(m.ctx, msg.Payload(), msg.Topic(), "push"); err != nil {
		m.log.Errorf("push from %s: %v", msg.Topic(), err)
	}
}

func (m *Manager) onResponse(_ paho.Client, msg paho.Message) {
	select {
	case m.respCh <- telemetryMessage{RobotID: extractID(msg.Topic()), Payload: msg.Payload(), Arrived: time.Now()}:
	default:
		m.log.Warnf("dropping poll response from %s", msg.Topic())
	}
}

func extractID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return ""
}

func (m *Manager) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(m.cfg.Interval()) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.doPoll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) doPoll(ctx context.Context) {
	start := time.Now()
	expected := map[string]struct{}{}
	if m.robots != nil {
		robots, err := m.robots.ListRobots(ctx)
		if err != nil {
			m.log.Warnf("list robots for poll: %v", err)
		}
		for _, r := range robots {
			expected[r.ID] = struct{}{}
		}
	}
	m.pollReq.Inc()
	token := m.cli.Publish(m.cfg.RequestTopic, 0, false, []byte("poll"))
	token.Wait()
	timeout := time.NewTimer(time.Duration(m.cfg.Timeout()) * time.Second)
	defer timeout.Stop()
	for {
		select {
		case resp := <-m.respCh:
			if err := m.process(ctx, resp.Payload, resp.RobotID, "poll"); err != nil {
				m.log.Errorf("poll response from %s: %v", resp.RobotID, err)
				continue
			}
			m.pollResp.Inc()
			m.latency.Observe(time.Since(start).Seconds())
			m.lastCollect.SetToCurrentTime()
			delete(expected, resp.RobotID)
			if len(expected) == 0 && m.robots != nil {
				return
			}
		case <-timeout.C:
			for range expected {
				m.pollTimeout.Inc()
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// Decode parses a robot state document. The robot id falls back to the last
// segment of topic.
func Decode(payload []byte, topic string) (string, model.Telemetry, error) {
	var msg stateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", model.Telemetry{}, fmt.Errorf("%w: %v", model.ErrInvalidArgument, err)
	}
	if msg.RobotID == "" {
		msg.RobotID = extractID(topic)
	}
	if msg.RobotID == "" {
		return "", model.Telemetry{}, fmt.Errorf("%w: telemetry without robot id", model.ErrInvalidArgument)
	}
	tel := model.Telemetry{
		Pose:              msg.Pose,
		Velocity:          msg.Velocity,
		GoalStatus:        msg.GoalStatus,
		DistanceTravelled: msg.DistanceTravelled,
		ReportedAt:        time.Now().UTC(),
	}
	if msg.Battery != nil && msg.Battery.Percentage != nil {
		b := *msg.Battery.Percentage
		tel.Battery = &b
	}
	if msg.TS != nil {
		tel.ReportedAt = time.Unix(*msg.TS, 0).UTC()
	}
	return msg.RobotID, tel, nil
}

func (m *Manager) process(ctx context.Context, payload []byte, topic, source string) error {
	id, tel, err := Decode(payload, topic)
	if err != nil {
		m.received.WithLabelValues(source, "invalid").Inc()
		return err
	}
	if m.handler == nil {
		m.received.WithLabelValues(source, "ignored").Inc()
		return nil
	}
	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()
	if _, err := m.handler.UpdateRobotTelemetry(hctx, id, tel); err != nil {
		result := "error"
		if errors.Is(err, model.ErrNotFound) {
			result = "unknown_robot"
		}
		m.received.WithLabelValues(source, result).Inc()
		return fmt.Errorf("robot %s: %w", id, err)
	}
	m.received.WithLabelValues(source, "ok").Inc()
	return nil
}
