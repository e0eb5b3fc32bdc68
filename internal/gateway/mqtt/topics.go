package mqtt

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonSlug = regexp.MustCompile("[^a-z0-9]+")

// Slugify lowercases s, strips accents and joins the remaining words with hyphens.
func Slugify(s string) string {
	s = strings.ToLower(s)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, _ = transform.String(t, s)

	s = nonSlug.ReplaceAllString(s, "-")

	return strings.Trim(s, "-")
}

// Topics builds the topic names under one prefix.
type Topics struct {
	prefix string
}

// NewTopics creates the topic builder.
func NewTopics(prefix string) *Topics {
	return &Topics{prefix: strings.TrimRight(prefix, "/")}
}

// Prefix returns the topic prefix.
func (t *Topics) Prefix() string {
	return t.prefix
}

// Availability carries online/offline, including the will message.
func (t *Topics) Availability() string {
	return t.prefix + "/availability"
}

// State carries the retained alarm state.
func (t *Topics) State() string {
	return t.prefix + "/state"
}

// Attributes carries the retained snapshot details.
func (t *Topics) Attributes() string {
	return t.prefix + "/attributes"
}

// Command receives arm/disarm/trigger commands.
func (t *Topics) Command() string {
	return t.prefix + "/command"
}

// Events carries every recorded alarm event.
func (t *Topics) Events() string {
	return t.prefix + "/events"
}

// Entities is the wildcard for entity state updates.
func (t *Topics) Entities() string {
	return t.prefix + "/entity/+"
}

// Entity is the state topic of one entity.
func (t *Topics) Entity(entityID string) string {
	return t.prefix + "/entity/" + entityID
}

// EntityID extracts the entity id from an entity topic.
func (t *Topics) EntityID(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, t.prefix+"/entity/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}

	return id, true
}

// Discovery is the Home Assistant discovery config topic of a component.
func (t *Topics) Discovery(discoveryPrefix, component, objectID string) string {
	return strings.TrimRight(discoveryPrefix, "/") + "/" + component + "/" + Slugify(t.prefix) + "/" + objectID + "/config"
}
