package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	coremetrics "github.com/kilianp07/tablebot/core/metrics"
)

// RobotRef identifies a robot registered in the coordinator.
type RobotRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ParseRobots reads a comma separated list of "id" or "id=name" entries.
func ParseRobots(s string) []RobotRef {
	var refs []RobotRef
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, ok := strings.Cut(part, "=")
		if !ok {
			name = id
		}
		refs = append(refs, RobotRef{ID: strings.TrimSpace(id), Name: strings.TrimSpace(name)})
	}
	return refs
}

// FetchRobots lists the robots known to the coordinator HTTP API.
func FetchRobots(ctx context.Context, baseURL, token string) ([]RobotRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/api/robots", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list robots: %s", resp.Status)
	}
	var refs []RobotRef
	if err := json.NewDecoder(resp.Body).Decode(&refs); err != nil {
		return nil, fmt.Errorf("decode robots: %w", err)
	}
	return refs, nil
}

// BuildFleet creates one simulated robot per ref, each with its own battery.
func BuildFleet(refs []RobotRef, cfg Config, strat AckStrategy, sink coremetrics.RobotStateRecorder) []*SimulatedRobot {
	topics := Topics{
		State:    cfg.StatePrefix,
		Command:  cfg.CommandPrefix,
		Ack:      cfg.AckPrefix,
		Request:  cfg.RequestTopic,
		Response: cfg.ResponsePrefix,
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	fleet := make([]*SimulatedRobot, 0, len(refs))
	for _, ref := range refs {
		fleet = append(fleet, &SimulatedRobot{
			ID:       ref.ID,
			Name:     ref.Name,
			Broker:   cfg.Broker,
			Topics:   topics,
			Strategy: strat,
			Interval: interval,
			Battery:  &Battery{Percentage: cfg.StartBattery, ChargeRate: cfg.ChargeRate, DrainRate: cfg.DrainRate},
			Metrics:  sink,
		})
	}
	return fleet
}
