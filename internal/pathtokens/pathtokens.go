// Package pathtokens parses dotted property paths such as
// "Order.Customer<Acme.Person>.Name" into ordered steps.
package pathtokens

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is returned for paths that cannot be tokenized.
var ErrInvalidPath = errors.New("invalid property path")

// castDot replaces "." inside a cast expression while the path is split.
const castDot = "$_$"

// Step is a single property hop with an optional type cast.
type Step struct {
	Property string
	Cast     string
}

func (s Step) String() string {
	if s.Cast == "" {
		return s.Property
	}
	return s.Property + "<" + s.Cast + ">"
}

// PathTokens is the parsed form of a property path.
type PathTokens struct {
	Expression string
	Steps      []Step
}

// Parse tokenizes expression. An empty expression yields zero steps.
func Parse(expression string) (*PathTokens, error) {
	p := &PathTokens{Expression: expression}
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return p, nil
	}

	escaped, err := escapeCasts(expr)
	if err != nil {
		return nil, err
	}

	for _, raw := range strings.Split(escaped, ".") {
		step, err := parseStep(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPath, expression, err)
		}
		p.Steps = append(p.Steps, step)
	}
	return p, nil
}

// MustParse is like Parse but panics on error. Intended for static paths.
func MustParse(expression string) *PathTokens {
	p, err := Parse(expression)
	if err != nil {
		panic(err)
	}
	return p
}

func escapeCasts(expr string) (string, error) {
	var b strings.Builder
	inCast := false
	for _, r := range expr {
		switch {
		case r == '<':
			if inCast {
				return "", fmt.Errorf("%w %q: nested cast", ErrInvalidPath, expr)
			}
			inCast = true
			b.WriteRune(r)
		case r == '>':
			if !inCast {
				return "", fmt.Errorf("%w %q: unexpected '>'", ErrInvalidPath, expr)
			}
			inCast = false
			b.WriteRune(r)
		case r == '.' && inCast:
			b.WriteString(castDot)
		default:
			b.WriteRune(r)
		}
	}
	if inCast {
		return "", fmt.Errorf("%w %q: unterminated cast", ErrInvalidPath, expr)
	}
	return b.String(), nil
}

func parseStep(raw string) (Step, error) {
	name, cast := raw, ""
	if i := strings.IndexByte(raw, '<'); i >= 0 {
		if !strings.HasSuffix(raw, ">") {
			return Step{}, fmt.Errorf("malformed cast in step %q", raw)
		}
		name = raw[:i]
		cast = strings.ReplaceAll(raw[i+1:len(raw)-1], castDot, ".")
		if cast == "" {
			return Step{}, fmt.Errorf("empty cast in step %q", raw)
		}
	}
	if !isIdent(name) {
		return Step{}, fmt.Errorf("bad property name %q", name)
	}
	return Step{Property: name, Cast: cast}, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r != '_' && (r < '0' || r > '9') && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// String rebuilds the path text from the steps.
func (p *PathTokens) String() string {
	parts := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// Clone returns a copy whose steps can be modified independently.
func (p *PathTokens) Clone() *PathTokens {
	steps := make([]Step, len(p.Steps))
	copy(steps, p.Steps)
	return &PathTokens{Expression: p.Expression, Steps: steps}
}

// Append adds the steps of other to the end of p.
func (p *PathTokens) Append(other *PathTokens) {
	p.Steps = append(p.Steps, other.Steps...)
	p.Expression = p.String()
}

// NormalizePaths expands brace-grouped shorthand, so "A{B,C{D,E}}" becomes
// "A.B", "A.C.D" and "A.C.E". Paths without braces pass through unchanged.
func NormalizePaths(paths []string) ([]string, error) {
	var result []string
	for _, path := range paths {
		if !strings.ContainsAny(path, "{},") {
			if p := strings.TrimSpace(path); p != "" {
				result = append(result, p)
			}
			continue
		}
		expanded, err := expand(path)
		if err != nil {
			return nil, err
		}
		result = append(result, expanded...)
	}
	return result, nil
}

func expand(path string) ([]string, error) {
	var (
		out   []string
		stack []string
		token strings.Builder
	)
	prefix := func() string {
		if len(stack) == 0 {
			return ""
		}
		return stack[len(stack)-1]
	}
	emit := func() {
		t := strings.Trim(strings.TrimSpace(token.String()), ".")
		token.Reset()
		if t != "" {
			out = append(out, prefix()+t)
		}
	}

	for _, r := range path {
		switch r {
		case '{':
			t := strings.Trim(strings.TrimSpace(token.String()), ".")
			token.Reset()
			if t == "" {
				stack = append(stack, prefix())
			} else {
				stack = append(stack, prefix()+t+".")
			}
		case ',':
			emit()
		case '}':
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w %q: unbalanced '}'", ErrInvalidPath, path)
			}
			emit()
			stack = stack[:len(stack)-1]
		default:
			token.WriteRune(r)
		}
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("%w %q: unbalanced '{'", ErrInvalidPath, path)
	}
	emit()
	return out, nil
}
