package neighbordb

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher tests a neighbor device name or port against a pattern expression.
type Matcher interface {
	Match(value string) bool
	String() string
}

type anyMatcher struct{}

func (anyMatcher) Match(string) bool { return true }
func (anyMatcher) String() string    { return "any" }

type exactMatcher struct{ want string }

func (m exactMatcher) Match(v string) bool { return v == m.want }
func (m exactMatcher) String() string      { return fmt.Sprintf("exact('%s')", m.want) }

type includesMatcher struct{ sub string }

func (m includesMatcher) Match(v string) bool { return strings.Contains(v, m.sub) }
func (m includesMatcher) String() string      { return fmt.Sprintf("includes('%s')", m.sub) }

type excludesMatcher struct{ sub string }

func (m excludesMatcher) Match(v string) bool { return !strings.Contains(v, m.sub) }
func (m excludesMatcher) String() string      { return fmt.Sprintf("excludes('%s')", m.sub) }

// regexMatcher is anchored at the start of the value, not the end.
type regexMatcher struct {
	src string
	re  *regexp.Regexp
}

func (m regexMatcher) Match(v string) bool { return m.re.MatchString(v) }
func (m regexMatcher) String() string      { return fmt.Sprintf("regex('%s')", m.src) }

var funcCall = regexp.MustCompile(`^(\w+)\(\s*(?:'([^']*)'|"([^"]*)")\s*\)$`)

// parseMatcher compiles a single device or port expression. "$name"
// references are resolved through vars first.
func parseMatcher(expr string, vars map[string]string) (Matcher, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "$") {
		name := expr[1:]
		v, ok := vars[name]
		if !ok {
			return nil, fmt.Errorf("undefined variable %q", name)
		}
		// Variables hold expressions, not further references.
		if strings.HasPrefix(strings.TrimSpace(v), "$") {
			return nil, fmt.Errorf("variable %q refers to another variable", name)
		}
		expr = strings.TrimSpace(v)
	}

	switch expr {
	case "", "any":
		return anyMatcher{}, nil
	case "none":
		return nil, fmt.Errorf("none is only valid as a whole neighbor expression")
	}

	m := funcCall.FindStringSubmatch(expr)
	if m == nil {
		if strings.ContainsAny(expr, "()'\"") {
			return nil, fmt.Errorf("malformed expression %q", expr)
		}
		return exactMatcher{want: expr}, nil
	}

	arg := m[2]
	if arg == "" {
		arg = m[3]
	}
	switch m[1] {
	case "exact":
		return exactMatcher{want: arg}, nil
	case "includes":
		return includesMatcher{sub: arg}, nil
	case "excludes":
		return excludesMatcher{sub: arg}, nil
	case "regex":
		re, err := regexp.Compile("^(?:" + arg + ")")
		if err != nil {
			return nil, fmt.Errorf("regex %q: %w", arg, err)
		}
		return regexMatcher{src: arg, re: re}, nil
	default:
		return nil, fmt.Errorf("unknown function %q", m[1])
	}
}

// splitEndpoint splits "device:port" on the first colon that is not inside
// quotes or parentheses, so regex('a:b'):Ethernet1 splits correctly.
// A missing port means any port.
func splitEndpoint(s string) (device, port string) {
	depth := 0
	var quote rune
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case r == ':' && depth == 0:
			return s[:i], s[i+1:]
		}
	}
	return s, "any"
}
