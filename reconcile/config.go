// Package reconcile computes and applies the difference between a
// declarative NetworkConfig and the kernel's observed networking state
//: links, addresses, routes, and root/ingress qdiscs.
//
// The default diff never removes anything the kernel has that the config
// does not mention; removal of observed-but-undesired objects requires
// the explicit purge mode, and physical links are never created or
// deleted under any mode.
package reconcile

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/m-lab/netlinkctl/rtmsg"
	"gopkg.in/yaml.v3"
)

// Link is one desired link entry. A link with an empty Kind describes a
// physical interface: it is configured when present but never created or
// deleted, because its existence is a property of the host.
type Link struct {
	Name string `yaml:"name" json:"name"`
	// Kind is the virtual link kind ("dummy", "veth", "bridge", ...);
	// empty means physical.
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty"`
	Up   *bool  `yaml:"up,omitempty" json:"up,omitempty"`
	MTU  uint32 `yaml:"mtu,omitempty" json:"mtu,omitempty"`
	// Master is the name of the bridge/bond this link should be enslaved
	// to. nil leaves enslavement unmanaged; an empty string clears it.
	Master *string `yaml:"master,omitempty" json:"master,omitempty"`
}

// IsPhysical reports whether the entry describes a physical interface.
func (l *Link) IsPhysical() bool { return l.Kind == "" }

// Address is one desired address entry, matched against observed state by
// (dev, address, prefix_len).
type Address struct {
	Dev       string `yaml:"dev" json:"dev"`
	Address   string `yaml:"address" json:"address"`
	PrefixLen uint8  `yaml:"prefix_len" json:"prefix_len"`
	Broadcast string `yaml:"broadcast,omitempty" json:"broadcast,omitempty"`
	Label     string `yaml:"label,omitempty" json:"label,omitempty"`
}

// IP parses the address field.
func (a *Address) IP() net.IP { return net.ParseIP(a.Address) }

// Route is one desired route entry, matched by (destination, prefix_len,
// table) with an absent table defaulting to main (254).
type Route struct {
	Destination string `yaml:"destination" json:"destination"`
	PrefixLen   uint8  `yaml:"prefix_len" json:"prefix_len"`
	Gateway     string `yaml:"gateway,omitempty" json:"gateway,omitempty"`
	Dev         string `yaml:"dev,omitempty" json:"dev,omitempty"`
	Table       uint32 `yaml:"table,omitempty" json:"table,omitempty"`
	// Type is "unicast" (default), "blackhole", "unreachable", or
	// "prohibit"; these are the only types the diff considers.
	Type string `yaml:"type,omitempty" json:"type,omitempty"`
}

// EffectiveTable returns the route's table, defaulting to main.
func (r *Route) EffectiveTable() uint32 {
	if r.Table == 0 {
		return rtmsg.RT_TABLE_MAIN
	}
	return r.Table
}

// TypeCode maps the route's type name to its RTN_* value, or false when
// the name is not one the reconciler manages.
func (r *Route) TypeCode() (uint8, bool) {
	switch strings.ToLower(r.Type) {
	case "", "unicast":
		return rtmsg.RTN_UNICAST, true
	case "blackhole":
		return rtmsg.RTN_BLACKHOLE, true
	case "unreachable":
		return rtmsg.RTN_UNREACHABLE, true
	case "prohibit":
		return rtmsg.RTN_PROHIBIT, true
	}
	return 0, false
}

// Rule is one desired policy-routing rule entry. Rules are carried in the
// config for completeness of the serialized record but are not diffed;
// priority is their stable identity.
type Rule struct {
	Priority uint32 `yaml:"priority" json:"priority"`
	Table    uint32 `yaml:"table,omitempty" json:"table,omitempty"`
	Src      string `yaml:"src,omitempty" json:"src,omitempty"`
	Dst      string `yaml:"dst,omitempty" json:"dst,omitempty"`
	FwMark   uint32 `yaml:"fwmark,omitempty" json:"fwmark,omitempty"`
}

// Qdisc is one desired qdisc entry. Only the root and ingress positions
// per device are tracked; deeper hierarchies are out of the
// reconciler's scope and must be managed directly.
type Qdisc struct {
	Dev  string `yaml:"dev" json:"dev"`
	Kind string `yaml:"kind" json:"kind"`
	// Parent is "root" (default) or "ingress".
	Parent string `yaml:"parent,omitempty" json:"parent,omitempty"`
}

// IsIngress reports whether the entry targets the ingress position.
func (q *Qdisc) IsIngress() bool { return q.Parent == "ingress" }

// NetworkConfig is the declarative record of desired networking state
//: ordered lists of links, addresses, routes, rules, and qdiscs.
type NetworkConfig struct {
	Links     []Link    `yaml:"links,omitempty" json:"links,omitempty"`
	Addresses []Address `yaml:"addresses,omitempty" json:"addresses,omitempty"`
	Routes    []Route   `yaml:"routes,omitempty" json:"routes,omitempty"`
	Rules     []Rule    `yaml:"rules,omitempty" json:"rules,omitempty"`
	Qdiscs    []Qdisc   `yaml:"qdiscs,omitempty" json:"qdiscs,omitempty"`
}

// LoadYAML reads a NetworkConfig from a YAML document. Unknown keys are
// ignored; missing keys take their field defaults.
func LoadYAML(data []byte) (*NetworkConfig, error) {
	cfg := &NetworkConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("reconcile: parsing yaml config: %w", err)
	}
	return cfg, nil
}

// LoadJSON reads a NetworkConfig from a JSON document.
func LoadJSON(data []byte) (*NetworkConfig, error) {
	cfg := &NetworkConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("reconcile: parsing json config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a config file, choosing the decoder by extension
// (.json decodes as JSON, anything else as YAML).
func LoadFile(path string) (*NetworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reconcile: reading %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".json") {
		return LoadJSON(data)
	}
	return LoadYAML(data)
}

// ToYAML renders the config as a YAML document.
func (c *NetworkConfig) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
