package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
)

// Command payloads.
const (
	CommandArmHome     = "ARM_HOME"
	CommandArmAway     = "ARM_AWAY"
	CommandArmNight    = "ARM_NIGHT"
	CommandArmVacation = "ARM_VACATION"
	CommandDisarm      = "DISARM"
	CommandTrigger     = "TRIGGER"
)

var errEmptyCommand = errors.New("empty command")

// Command is a decoded command message.
type Command struct {
	Action string `json:"action"`
	Code   string `json:"code,omitempty"`
}

// ParseCommand accepts a bare action or a JSON object with action and code.
func ParseCommand(payload []byte) (Command, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return Command{}, errEmptyCommand
	}

	var cmd Command

	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal([]byte(text), &cmd); err != nil {
			return Command{}, fmt.Errorf("decode command: %w", err)
		}
	} else {
		cmd.Action = text
	}

	cmd.Action = strings.ToUpper(strings.TrimSpace(cmd.Action))

	switch cmd.Action {
	case CommandArmHome, CommandArmAway, CommandArmNight, CommandArmVacation, CommandDisarm, CommandTrigger:
		return cmd, nil
	case "":
		return Command{}, errEmptyCommand
	default:
		return Command{}, fmt.Errorf("unknown command %q", cmd.Action)
	}
}

// ArmMode returns the armed mode of an ARM_* command.
func (c Command) ArmMode() (alarm.State, bool) {
	switch c.Action {
	case CommandArmHome:
		return alarm.StateArmedHome, true
	case CommandArmAway:
		return alarm.StateArmedAway, true
	case CommandArmNight:
		return alarm.StateArmedNight, true
	case CommandArmVacation:
		return alarm.StateArmedVacation, true
	default:
		return "", false
	}
}
