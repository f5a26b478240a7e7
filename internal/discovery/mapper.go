package discovery

import (
	"strings"

	"github.com/Dmxmj/ha-163-plug/internal/hastate"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/config"
)

// SuffixRule maps one entity-id suffix to a property name.
type SuffixRule struct {
	Suffix   string
	Property string
}

// DefaultSuffixRules returns the entity-suffix rule list for the smart
// sockets this bridge was built around.
//
// The list is ORDERED: resolution walks it front to back, first with exact
// matching and then with substring matching, and stops at the first hit.
// More specific suffixes must come before the broader ones they contain or
// the broad rule shadows them. Do not sort or reorder.
func DefaultSuffixRules() []SuffixRule {
	return []SuffixRule{
		{Suffix: "on_p_2_1", Property: "all_switch"},
		{Suffix: "on_p_7_1", Property: "jack_1"},
		{Suffix: "on_p_8_1", Property: "jack_2"},
		{Suffix: "on_p_9_1", Property: "jack_3"},
		{Suffix: "on_p_10_1", Property: "jack_4"},
		{Suffix: "on_p_11_1", Property: "jack_5"},
		{Suffix: "on_p_12_1", Property: "jack_6"},
		{Suffix: "default_power_on_state_p_2_2", Property: "default_power_on_state"},
		{Suffix: "electric_power_p_2_3", Property: "electric_power"},
		{Suffix: "electric_current_p_2_4", Property: "electric_current"},
		{Suffix: "voltage_p_2_5", Property: "voltage"},
		{Suffix: "power_consumption_p_2_6", Property: "power_consumption"},
		{Suffix: "electric_power", Property: "electric_power"},
		{Suffix: "electric_current", Property: "electric_current"},
		{Suffix: "voltage", Property: "voltage"},
		{Suffix: "power_consumption", Property: "power_consumption"},
	}
}

// eligibleDomains are the entity domains discovery considers.
var eligibleDomains = map[string]bool{
	hastate.DomainSwitch: true,
	hastate.DomainSelect: true,
	hastate.DomainSensor: true,
}

// Mapper resolves local store entities to device properties.
type Mapper struct {
	rules []SuffixRule
}

// NewMapper creates a mapper with the given ordered rule list.
// Pass DefaultSuffixRules() unless the deployment overrides them.
func NewMapper(rules []SuffixRule) *Mapper {
	return &Mapper{rules: rules}
}

// MapDevice maps entity ids onto a device's properties.
//
// An entity is a candidate when its domain is eligible and the device's
// entity prefix occurs in the local part of its id. The part after the
// prefix resolves through the suffix rules; resolved properties outside the
// device's supported set are discarded. The first entity to claim a
// property keeps it.
//
// Returns nil when no property resolves, which callers treat as a
// discovery failure for this device.
func (m *Mapper) MapDevice(dev config.DeviceConfig, entityIDs []string) map[string]string {
	supported := make(map[string]bool, len(dev.Properties))
	for _, p := range dev.Properties {
		supported[p] = true
	}

	var out map[string]string
	for _, id := range entityIDs {
		if !eligibleDomains[hastate.Domain(id)] {
			continue
		}

		local := hastate.LocalPart(id)
		idx := strings.Index(local, dev.EntityPrefix)
		if idx < 0 {
			continue
		}

		leftover := strings.Trim(local[idx+len(dev.EntityPrefix):], "_")
		property, ok := m.resolve(leftover)
		if !ok || !supported[property] {
			continue
		}

		if out == nil {
			out = make(map[string]string)
		}
		if _, taken := out[property]; !taken {
			out[property] = id
		}
	}

	return out
}

// resolve finds the property for an entity-id leftover: first rule with an
// exact suffix match, then first rule whose suffix occurs in the leftover.
//
// The substring pass means a leftover like "on_p_12_1_backup" still maps,
// but also that an unrelated entity containing a rule suffix can mis-map.
// Keeping rules ordered most-specific-first is what holds that in check.
func (m *Mapper) resolve(leftover string) (string, bool) {
	if leftover == "" {
		return "", false
	}

	for _, r := range m.rules {
		if leftover == r.Suffix {
			return r.Property, true
		}
	}

	for _, r := range m.rules {
		if strings.Contains(leftover, r.Suffix) {
			return r.Property, true
		}
	}

	return "", false
}
