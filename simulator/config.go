package main

import (
	"errors"
	"time"
)

// Config holds parameters for the simulator.
type Config struct {
	Broker         string
	Robots         string
	APIURL         string
	APIToken       string
	StatePrefix    string
	CommandPrefix  string
	AckPrefix      string
	RequestTopic   string
	ResponsePrefix string
	Interval       time.Duration
	AckLatency     time.Duration
	DropRate       float64
	ChargeRate     float64
	DrainRate      float64
	StartBattery   float64
	Verbose        bool
	InfluxURL      string
	InfluxToken    string
	InfluxOrg      string
	InfluxBucket   string
}

// Validate checks the flag combination.
func (c Config) Validate() error {
	if c.Broker == "" {
		return errors.New("broker required")
	}
	if c.Robots == "" && c.APIURL == "" {
		return errors.New("either -robots or -api is required")
	}
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if c.DropRate < 0 || c.DropRate > 1 {
		return errors.New("drop-rate must be in [0,1]")
	}
	if c.StartBattery < 0 || c.StartBattery > 100 {
		return errors.New("battery must be in [0,100]")
	}
	return nil
}
