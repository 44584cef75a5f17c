package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/tablebot/infra/logger"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

// AckStrategy defines how a robot acknowledges commands.
type AckStrategy interface {
	Ack(ctx context.Context, cli paho.Client, topic, commandID string)
}

// AutoAck sends an ack after an optional fixed delay.
type AutoAck struct {
	Delay time.Duration
}

// Ack implements AckStrategy.
func (a AutoAck) Ack(ctx context.Context, cli paho.Client, topic, commandID string) {
	if !wait(ctx, a.Delay) {
		return
	}
	publishAck(cli, topic, commandID)
}

// RandomAck drops acks with probability DropRate and delays the rest.
type RandomAck struct {
	Delay    time.Duration
	DropRate float64
}

// Ack implements AckStrategy.
func (r RandomAck) Ack(ctx context.Context, cli paho.Client, topic, commandID string) {
	if r.DropRate > 0 && rng.Float64() < r.DropRate {
		return
	}
	if !wait(ctx, r.Delay) {
		return
	}
	publishAck(cli, topic, commandID)
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

var ackLog = logger.New("simulator")

func publishAck(cli paho.Client, topic, commandID string) {
	payload, err := json.Marshal(struct {
		CommandID string `json:"command_id"`
	}{CommandID: commandID})
	if err != nil {
		ackLog.Errorf("marshal ack: %v", err)
		return
	}
	token := cli.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		ackLog.Warnf("ack publish timeout on %s", topic)
		return
	}
	if err := token.Error(); err != nil {
		ackLog.Errorf("publish ack on %s: %v", topic, err)
	}
}
