package mqtt

import (
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/version"
)

const componentAlarmPanel = "alarm_control_panel"

// DiscoveryConfig is the Home Assistant discovery payload of the panel.
func (g *Gateway) DiscoveryConfig() map[string]any {
	slug := Slugify(g.topics.Prefix())

	config := map[string]any{
		"name":                  g.opts.Name,
		"unique_id":             slug + "_panel",
		"state_topic":           g.topics.State(),
		"command_topic":         g.topics.Command(),
		"availability_topic":    g.topics.Availability(),
		"json_attributes_topic": g.topics.Attributes(),
		"payload_available":     onlinePayload,
		"payload_not_available": offlinePayload,
		"payload_arm_home":      CommandArmHome,
		"payload_arm_away":      CommandArmAway,
		"payload_arm_night":     CommandArmNight,
		"payload_arm_vacation":  CommandArmVacation,
		"payload_disarm":        CommandDisarm,
		"payload_trigger":       CommandTrigger,
		"supported_features":    []string{"arm_home", "arm_away", "arm_night", "arm_vacation", "trigger"},
		"device": map[string]any{
			"name":         g.opts.Name,
			"identifiers":  []string{slug},
			"manufacturer": version.Name,
			"sw_version":   version.Short(),
		},
	}

	if g.opts.CodeRequired {
		config["code"] = "REMOTE_CODE"
		config["code_arm_required"] = true
		config["code_disarm_required"] = true
		config["command_template"] = `{"action":"{{ action }}","code":"{{ code }}"}`
	}

	return config
}

func (g *Gateway) publishDiscovery() {
	topic := g.topics.Discovery(g.opts.DiscoveryPrefix, componentAlarmPanel, "panel")

	if err := g.Publish(g.ctx, topic, g.DiscoveryConfig(), true); err != nil {
		logger.ErrorKV(g.ctx, "Failed to publish Home Assistant discovery", "error", err)
	}
}
