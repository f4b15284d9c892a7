package neighbordb

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/HerbHall/ztpserver/pkg/models"
)

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid pattern")

var validate = validator.New()

// PatternSpec is the on-disk form of a pattern, as found in neighbordb and
// in a node's persisted pattern file.
type PatternSpec struct {
	Name       string            `yaml:"name" json:"name" validate:"required"`
	Definition string            `yaml:"definition" json:"definition" validate:"required"`
	Node       string            `yaml:"node,omitempty" json:"node,omitempty"`
	Variables  map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
	Interfaces []map[string]any  `yaml:"interfaces,omitempty" json:"interfaces,omitempty"`
}

type ruleKind int

const (
	// ruleInterfaces constrains the named local interfaces.
	ruleInterfaces ruleKind = iota
	// ruleAnyInterface requires some local interface to satisfy the rule.
	ruleAnyInterface
	// ruleNoInterface requires that no local interface satisfies the rule.
	ruleNoInterface
)

type rule struct {
	key        string
	kind       ruleKind
	interfaces []string
	// noNeighbor means the interfaces must have no neighbors at all.
	noNeighbor bool
	device     Matcher
	port       Matcher
}

func (r rule) neighborMatches(nb models.Neighbor) bool {
	return r.device.Match(nb.Device) && r.port.Match(nb.Port)
}

func (r rule) match(node *models.Node) bool {
	switch r.kind {
	case ruleInterfaces:
		for _, intf := range r.interfaces {
			if r.noNeighbor {
				if node.HasNeighbors(intf) {
					return false
				}
				continue
			}
			found := false
			for _, nb := range node.Neighbors[intf] {
				if r.neighborMatches(nb) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case ruleAnyInterface, ruleNoInterface:
		hit := false
		for _, intf := range node.Interfaces() {
			for _, nb := range node.Neighbors[intf] {
				if r.neighborMatches(nb) {
					hit = true
					break
				}
			}
			if hit {
				break
			}
		}
		return hit == (r.kind == ruleAnyInterface)
	}
	return false
}

// Pattern is a compiled topology pattern.
type Pattern struct {
	spec  PatternSpec
	rules []rule
}

// Name returns the pattern name.
func (p *Pattern) Name() string { return p.spec.Name }

// Definition returns the definition file name the pattern points to.
func (p *Pattern) Definition() string { return p.spec.Definition }

// Spec returns a self-contained copy of the pattern. Global variables the
// pattern was compiled against are folded into Variables, so the result can
// be recompiled later without neighbordb.
func (p *Pattern) Spec() PatternSpec {
	out := p.spec
	out.Variables = make(map[string]string, len(p.spec.Variables))
	for k, v := range p.spec.Variables {
		out.Variables[k] = v
	}
	out.Interfaces = append([]map[string]any(nil), p.spec.Interfaces...)
	return out
}

// Match reports whether node satisfies every rule of the pattern.
func (p *Pattern) Match(node *models.Node) bool {
	if p.spec.Node != "" && !identifies(p.spec.Node, node) {
		return false
	}
	for _, r := range p.rules {
		if !r.match(node) {
			return false
		}
	}
	return true
}

func identifies(id string, node *models.Node) bool {
	if id == node.Identifier || id == node.SerialNumber {
		return true
	}
	return node.SystemMAC != "" && strings.EqualFold(normalizeMAC(id), normalizeMAC(node.SystemMAC))
}

func normalizeMAC(s string) string {
	return strings.NewReplacer(":", "", "-", "", ".", "").Replace(s)
}

// Compile validates spec and compiles its interface rules. Pattern-level
// variables shadow globals.
func Compile(spec PatternSpec, globals map[string]string) (*Pattern, error) {
	if err := validate.Struct(spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	if spec.Node == "" && len(spec.Interfaces) == 0 {
		return nil, fmt.Errorf("%w: pattern %q needs a node or interfaces", ErrInvalidPattern, spec.Name)
	}

	vars := make(map[string]string, len(globals)+len(spec.Variables))
	for k, v := range globals {
		vars[k] = v
	}
	for k, v := range spec.Variables {
		vars[k] = v
	}

	p := &Pattern{spec: spec}
	p.spec.Variables = vars

	for _, entry := range spec.Interfaces {
		keys := make([]string, 0, len(entry))
		for k := range entry {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			r, err := compileRule(key, entry[key], vars)
			if err != nil {
				return nil, fmt.Errorf("%w: pattern %q interface %q: %v", ErrInvalidPattern, spec.Name, key, err)
			}
			p.rules = append(p.rules, r)
		}
	}
	return p, nil
}

func compileRule(key string, value any, vars map[string]string) (rule, error) {
	r := rule{key: key}
	switch strings.TrimSpace(key) {
	case "any":
		r.kind = ruleAnyInterface
	case "none":
		r.kind = ruleNoInterface
	default:
		intfs, err := expandInterfaces(key)
		if err != nil {
			return r, err
		}
		r.kind = ruleInterfaces
		r.interfaces = intfs
	}

	var device, port string
	switch v := value.(type) {
	case nil:
		device, port = "any", "any"
	case string:
		s := strings.TrimSpace(v)
		if s == "none" {
			if r.kind != ruleInterfaces {
				return r, fmt.Errorf("%q cannot be paired with none", key)
			}
			r.noNeighbor = true
			return r, nil
		}
		if s == "any" {
			device, port = "any", "any"
		} else {
			device, port = splitEndpoint(s)
		}
	case map[string]any:
		device, port = "any", "any"
		for k, raw := range v {
			s, ok := raw.(string)
			if !ok {
				return r, fmt.Errorf("%s must be a string, got %T", k, raw)
			}
			switch k {
			case "device":
				device = s
			case "port":
				port = s
			default:
				return r, fmt.Errorf("unknown neighbor field %q", k)
			}
		}
	default:
		return r, fmt.Errorf("unsupported neighbor value %T", value)
	}

	var err error
	if r.device, err = parseMatcher(device, vars); err != nil {
		return r, fmt.Errorf("device: %w", err)
	}
	if r.port, err = parseMatcher(port, vars); err != nil {
		return r, fmt.Errorf("port: %w", err)
	}
	return r, nil
}

// expandInterfaces turns "Ethernet1-3,7" into Ethernet1, Ethernet2,
// Ethernet3 and Ethernet7. Names without a numeric range are returned as is.
func expandInterfaces(key string) ([]string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("empty interface name")
	}

	split := len(key)
	for split > 0 {
		c := key[split-1]
		if (c >= '0' && c <= '9') || c == '-' || c == ',' {
			split--
			continue
		}
		break
	}
	prefix, suffix := key[:split], key[split:]
	if !strings.ContainsAny(suffix, "-,") {
		return []string{key}, nil
	}
	// Port-Channel10: the dash belongs to the name, not a range.
	suffix = strings.TrimLeft(suffix, "-")
	if prefix == "" || suffix == "" {
		return nil, fmt.Errorf("malformed interface range %q", key)
	}
	if len(suffix) < len(key[split:]) {
		prefix = key[:len(key)-len(suffix)]
		if !strings.ContainsAny(suffix, "-,") {
			return []string{key}, nil
		}
	}

	var out []string
	for _, part := range strings.Split(suffix, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("malformed interface range %q", key)
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("malformed interface range %q", key)
			}
		}
		if end < start {
			return nil, fmt.Errorf("descending interface range %q", key)
		}
		for i := start; i <= end; i++ {
			out = append(out, prefix+strconv.Itoa(i))
		}
	}
	return out, nil
}
