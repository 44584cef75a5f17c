package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	coremqtt "github.com/kilianp07/tablebot/core/mqtt"
)

// Client mirrors the core mqtt.Client interface.
type Client = coremqtt.Client

// MockPublisher records commands in memory. Used in tests and when no broker
// is configured.
type MockPublisher struct {
	Commands   []coremqtt.Command
	FailIDs    map[string]bool
	AckResults map[string]bool
	mu         sync.Mutex
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		FailIDs:    make(map[string]bool),
		AckResults: make(map[string]bool),
	}
}

// SendCommand records the command or returns an error if the robot is
// configured to fail.
func (m *MockPublisher) SendCommand(_ context.Context, cmd coremqtt.Command) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIDs[cmd.RobotID] {
		return "", fmt.Errorf("publish failed")
	}
	if cmd.CommandID == "" {
		cmd.CommandID = fmt.Sprintf("cmd-%s-%d", cmd.RobotID, len(m.Commands)+1)
	}
	m.Commands = append(m.Commands, cmd)
	m.AckResults[cmd.CommandID] = true
	return cmd.CommandID, nil
}

// WaitForAck simulates an immediate acknowledgment based on the stored result.
func (m *MockPublisher) WaitForAck(commandID string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	ok, exists := m.AckResults[commandID]
	m.mu.Unlock()
	if !exists {
		return false, fmt.Errorf("unknown command %s", commandID)
	}
	return ok, nil
}

// Sent returns a copy of the recorded commands.
func (m *MockPublisher) Sent() []coremqtt.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]coremqtt.Command(nil), m.Commands...)
}
