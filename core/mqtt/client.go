package mqtt

import (
	"context"
	"time"
)

// Command tells a robot what to do next. Action is the robot action name,
// Reason the coordinator event that caused it.
type Command struct {
	CommandID string `json:"command_id"`
	RobotID   string `json:"robot_id"`
	Action    string `json:"action"`
	Reason    string `json:"reason"`
	TableID   string `json:"table_id,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Client sends commands to robots and tracks their acknowledgments.
type Client interface {
	// SendCommand publishes cmd to the robot and returns the command
	// identifier used to track the acknowledgment. An empty
	// cmd.CommandID is filled in.
	SendCommand(ctx context.Context, cmd Command) (commandID string, err error)

	// WaitForAck waits for an acknowledgment for the provided command
	// identifier or until the timeout expires.
	WaitForAck(commandID string, timeout time.Duration) (bool, error)
}
