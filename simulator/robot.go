package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	coremetrics "github.com/kilianp07/tablebot/core/metrics"
	"github.com/kilianp07/tablebot/core/model"
	coremqtt "github.com/kilianp07/tablebot/core/mqtt"
	"github.com/kilianp07/tablebot/infra/logger"
)

// Topics are the MQTT topic roots shared with the coordinator.
type Topics struct {
	State    string // <state>/<robot id>
	Command  string // <command>/<robot id>/command
	Ack      string // <ack>/<robot id>/ack
	Request  string
	Response string // <response>/<robot id>
}

// SimulatedRobot follows coordinator commands and reports its state.
type SimulatedRobot struct {
	ID       string
	Name     string
	Broker   string
	Topics   Topics
	Strategy AckStrategy
	Interval time.Duration
	Battery  *Battery
	Metrics  coremetrics.RobotStateRecorder

	mu       sync.Mutex
	action   string
	pose     model.Pose
	distance float64
	client   paho.Client
	log      logger.Logger
}

// Action returns the action of the last command received.
func (r *SimulatedRobot) Action() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.action
}

// Run connects to the broker and serves commands and telemetry until ctx is
// done.
func (r *SimulatedRobot) Run(ctx context.Context) error {
	if r.log == nil {
		r.log = logger.New("simulator")
	}
	cli, err := mqttClientFactory(r.Broker, "sim-"+r.ID)
	if err != nil {
		return err
	}
	r.client = cli
	defer cli.Disconnect(250)

	if token := cli.Subscribe(r.commandTopic(), 1, r.onCommand(ctx)); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	if r.Topics.Request != "" {
		if token := cli.Subscribe(r.Topics.Request, 0, r.onPoll); token.Wait() && token.Error() != nil {
			return token.Error()
		}
	}

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			r.tick(now.Sub(last))
			last = now
			r.publish(r.stateTopic())
		}
	}
}

func (r *SimulatedRobot) commandTopic() string {
	return fmt.Sprintf("%s/%s/command", strings.TrimSuffix(r.Topics.Command, "/"), r.ID)
}

func (r *SimulatedRobot) ackTopic() string {
	return fmt.Sprintf("%s/%s/ack", strings.TrimSuffix(r.Topics.Ack, "/"), r.ID)
}

func (r *SimulatedRobot) stateTopic() string {
	return strings.TrimSuffix(r.Topics.State, "/") + "/" + r.ID
}

func (r *SimulatedRobot) onCommand(ctx context.Context) paho.MessageHandler {
	return func(cli paho.Client, msg paho.Message) {
		var cmd coremqtt.Command
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			r.log.Warnf("%s: decode command: %v", r.ID, err)
			return
		}
		r.mu.Lock()
		prev := r.action
		r.action = cmd.Action
		r.mu.Unlock()
		r.log.Infof("%s: %s -> %s (%s, table %s)", r.ID, prev, cmd.Action, cmd.Reason, cmd.TableID)
		r.record(cmd.Reason)
		if cmd.CommandID != "" && r.Strategy != nil {
			go r.Strategy.Ack(ctx, cli, r.ackTopic(), cmd.CommandID)
		}
	}
}

func (r *SimulatedRobot) onPoll(_ paho.Client, _ paho.Message) {
	r.publish(strings.TrimSuffix(r.Topics.Response, "/") + "/" + r.ID)
}

// tick moves the robot while it works and updates its battery.
func (r *SimulatedRobot) tick(dt time.Duration) {
	action := r.Action()
	r.Battery.Step(action, dt)
	if action == "" || action == "awaiting instruction" || action == "charging" {
		return
	}
	const speed = 0.5 // m/s
	d := speed * dt.Seconds()
	r.mu.Lock()
	r.pose.Yaw = math.Mod(r.pose.Yaw+0.3, 2*math.Pi)
	r.pose.X += d * math.Cos(r.pose.Yaw)
	r.pose.Y += d * math.Sin(r.pose.Yaw)
	r.distance += d
	r.mu.Unlock()
}

// StateMessage is the telemetry document robots publish.
type StateMessage struct {
	RobotID string `json:"robot_id"`
	Battery struct {
		Percentage float64 `json:"percentage"`
	} `json:"battery"`
	Pose              model.Pose     `json:"pose"`
	Velocity          model.Velocity `json:"velocity"`
	GoalStatus        string         `json:"goal_status"`
	DistanceTravelled float64        `json:"distance_travelled"`
	TS                int64          `json:"ts"`
}

// State returns the document published on the state topic.
func (r *SimulatedRobot) State(now time.Time) StateMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := StateMessage{
		RobotID:           r.ID,
		Pose:              r.pose,
		DistanceTravelled: r.distance,
		GoalStatus:        "idle",
		TS:                now.Unix(),
	}
	msg.Battery.Percentage = math.Round(r.Battery.Level()*10) / 10
	if r.action != "" && r.action != "awaiting instruction" && r.action != "charging" {
		msg.Velocity = model.Velocity{LinearX: 0.5, AngularZ: 0.3}
		msg.GoalStatus = "active"
	}
	return msg
}

func (r *SimulatedRobot) publish(topic string) {
	payload, err := json.Marshal(r.State(time.Now()))
	if err != nil {
		r.log.Errorf("%s: marshal state: %v", r.ID, err)
		return
	}
	token := r.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		r.log.Warnf("%s: state publish timeout", r.ID)
		return
	}
	if err := token.Error(); err != nil {
		r.log.Errorf("%s: publish state: %v", r.ID, err)
	}
}

func (r *SimulatedRobot) record(reason string) {
	if r.Metrics == nil {
		return
	}
	if err := r.Metrics.RecordRobotState(coremetrics.RobotStateEvent{
		RobotID: r.ID,
		Name:    r.Name,
		Action:  r.Action(),
		Battery: r.Battery.Level(),
		Reason:  reason,
		Time:    time.Now(),
	}); err != nil {
		r.log.Warnf("%s: record state: %v", r.ID, err)
	}
}
