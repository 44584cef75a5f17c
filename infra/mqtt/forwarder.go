package mqtt

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/tablebot/core/events"
	coremqtt "github.com/kilianp07/tablebot/core/mqtt"
	"github.com/kilianp07/tablebot/infra/logger"
	"github.com/kilianp07/tablebot/internal/eventbus"
)

// CommandFor maps a robot event to the command the robot must execute. Only
// events that change what the robot does physically produce a command.
func CommandFor(e events.RobotEvent) (coremqtt.Command, bool) {
	switch e.Kind {
	case events.RobotAssigned, events.RobotPromoted, events.RobotServing, events.RobotReleased, events.RobotOverridden:
	default:
		return coremqtt.Command{}, false
	}
	return coremqtt.Command{
		RobotID:   e.Robot.ID,
		Action:    e.Robot.Action.String(),
		Reason:    e.Kind.String(),
		TableID:   e.TableID,
		OrderID:   e.OrderID,
		Timestamp: e.At.UnixMilli(),
	}, true
}

// StartCommandForwarder publishes a command for every relevant robot event
// on the bus. With a positive ackTimeout each command's acknowledgment is
// awaited in the background and a missing ack is logged.
func StartCommandForwarder(ctx context.Context, bus *eventbus.TypedBus[events.Event], cli Client, ackTimeout time.Duration, log logger.Logger) {
	if bus == nil || cli == nil {
		return
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				re, isRobot := ev.(events.RobotEvent)
				if !isRobot {
					continue
				}
				cmd, send := CommandFor(re)
				if !send {
					continue
				}
				id, err := cli.SendCommand(ctx, cmd)
				if err != nil {
					log.Errorf("command %s for robot %s: %v", cmd.Action, cmd.RobotID, err)
					continue
				}
				if ackTimeout > 0 {
					go awaitAck(cli, id, cmd.RobotID, ackTimeout, log)
				}
			}
		}
	}()
}

func awaitAck(cli Client, id, robotID string, timeout time.Duration, log logger.Logger) {
	ok, err := cli.WaitForAck(id, timeout)
	switch {
	case errors.Is(err, coremqtt.ErrAckTimeout):
		log.Warnf("robot %s did not acknowledge command %s within %s", robotID, id, timeout)
	case err != nil:
		log.Warnf("ack for command %s: %v", id, err)
	case !ok:
		log.Warnf("robot %s rejected command %s", robotID, id)
	}
}
