package rules

import (
	"fmt"
	"strings"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/settings"
)

// Action type names used in rule definitions.
const (
	ActionAlarmArm            = "alarm_arm"
	ActionAlarmDisarm         = "alarm_disarm"
	ActionAlarmTrigger        = "alarm_trigger"
	ActionExternalCallService = "external_call_service"
	ActionExternalSetValue    = "external_set_value"
)

// Action is one step of a rule's then-list.
type Action interface {
	// Type returns the action type name.
	Type() string
	isAction()
}

// AlarmArm arms the panel in Mode.
type AlarmArm struct {
	Mode alarm.State
}

// AlarmDisarm disarms the panel.
type AlarmDisarm struct{}

// AlarmTrigger triggers the panel immediately.
type AlarmTrigger struct{}

// CallService calls an external home automation service.
type CallService struct {
	Domain  string
	Service string
	Target  map[string]any
	Data    map[string]any
}

// NodeRef addresses one value of a Z-Wave node.
type NodeRef struct {
	NodeID       int `json:"node_id"`
	CommandClass int `json:"command_class"`
	Endpoint     int `json:"endpoint"`
	Property     any `json:"property"`
	PropertyKey  any `json:"property_key,omitempty"`
}

// SetValue writes a device value.
type SetValue struct {
	Node  NodeRef
	Value any
}

// Unsupported is an action that could not be parsed. Executing it reports an error.
type Unsupported struct {
	Kind   string
	Reason string
}

func (AlarmArm) Type() string     { return ActionAlarmArm }
func (AlarmDisarm) Type() string  { return ActionAlarmDisarm }
func (AlarmTrigger) Type() string { return ActionAlarmTrigger }
func (CallService) Type() string  { return ActionExternalCallService }
func (SetValue) Type() string     { return ActionExternalSetValue }
func (u Unsupported) Type() string {
	if u.Kind == "" {
		return "unsupported"
	}

	return u.Kind
}

func (AlarmArm) isAction()     {}
func (AlarmDisarm) isAction()  {}
func (AlarmTrigger) isAction() {}
func (CallService) isAction()  {}
func (SetValue) isAction()     {}
func (Unsupported) isAction()  {}

// ParseActions converts a decoded then-list.
func ParseActions(raw any) []Action {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}

	actions := make([]Action, 0, len(list))
	for _, item := range list {
		actions = append(actions, ParseAction(item))
	}

	return actions
}

// ParseAction converts one decoded action object.
//
//nolint:cyclop // One case per variant.
func ParseAction(raw any) Action {
	node := settings.AsMap(raw)
	if node == nil {
		return Unsupported{Reason: fmt.Sprintf("action is %T, not an object", raw)}
	}

	kind, _ := node["type"].(string)

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case ActionAlarmArm:
		mode, _ := node["mode"].(string)

		state, err := alarm.ParseArmedState(mode)
		if err != nil {
			return Unsupported{Kind: kind, Reason: err.Error()}
		}

		return AlarmArm{Mode: state}
	case ActionAlarmDisarm:
		return AlarmDisarm{}
	case ActionAlarmTrigger:
		return AlarmTrigger{}
	case ActionExternalCallService, "ha_call_service":
		domain, service := splitService(node)
		if domain == "" || service == "" {
			return Unsupported{Kind: kind, Reason: "call_service needs domain and service"}
		}

		data := settings.AsMap(node["data"])
		if data == nil {
			data = settings.AsMap(node["service_data"])
		}

		return CallService{
			Domain:  domain,
			Service: service,
			Target:  settings.AsMap(node["target"]),
			Data:    data,
		}
	case ActionExternalSetValue, "zwavejs_set_value":
		ref, ok := parseNodeRef(node)
		if !ok {
			return Unsupported{Kind: kind, Reason: "set_value needs node_id, command_class and property"}
		}

		return SetValue{Node: ref, Value: node["value"]}
	default:
		return Unsupported{Kind: kind, Reason: fmt.Sprintf("unknown action type %q", kind)}
	}
}

// splitService accepts either domain+service or a dotted "action" string.
func splitService(node map[string]any) (string, string) {
	domain, _ := node["domain"].(string)
	service, _ := node["service"].(string)

	if domain != "" && service != "" {
		return domain, service
	}

	if dotted, ok := node["action"].(string); ok {
		if d, s, found := strings.Cut(dotted, "."); found {
			return d, s
		}
	}

	return domain, service
}

func parseNodeRef(node map[string]any) (NodeRef, bool) {
	valueID := settings.AsMap(node["value_id"])
	if valueID == nil {
		valueID = node
	}

	nodeID, ok := settings.AsInt(node["node_id"])
	if !ok || nodeID <= 0 {
		return NodeRef{}, false
	}

	commandClass, ok := settings.AsInt(valueID["command_class"])
	if !ok {
		return NodeRef{}, false
	}

	property, ok := valueID["property"]
	if !ok || property == nil {
		return NodeRef{}, false
	}

	endpoint, _ := settings.AsInt(valueID["endpoint"])

	return NodeRef{
		NodeID:       nodeID,
		CommandClass: commandClass,
		Endpoint:     endpoint,
		Property:     property,
		PropertyKey:  valueID["property_key"],
	}, true
}
