package permission

import (
	"regexp"
	"strings"
)

type patternKind int

const (
	patternExact patternKind = iota
	patternPrefix
	patternRegex
	patternGlob
)

// pathPattern is a rule path compiled once at registration, never
// re-parsed per request.
type pathPattern struct {
	kind    patternKind
	literal string
	re      *regexp.Regexp
}

// compilePattern classifies a rule path. A trailing "*" is a prefix
// match, "^...$" is a regular expression, any other "*" or "?" is a glob.
// Patterns that fail to compile fall back to exact matching on the
// literal text.
func compilePattern(path string) pathPattern {
	if strings.HasSuffix(path, "*") && !strings.HasPrefix(path, "^") &&
		strings.Count(path, "*") == 1 && !strings.Contains(path, "?") {
		return pathPattern{kind: patternPrefix, literal: strings.TrimSuffix(path, "*")}
	}
	if strings.HasPrefix(path, "^") && strings.HasSuffix(path, "$") {
		re, err := regexp.Compile(path)
		if err != nil {
			return pathPattern{kind: patternExact, literal: path}
		}
		return pathPattern{kind: patternRegex, literal: path, re: re}
	}
	if strings.ContainsAny(path, "*?") {
		re, err := regexp.Compile("^" + globToRegexp(path) + "$")
		if err != nil {
			return pathPattern{kind: patternExact, literal: path}
		}
		return pathPattern{kind: patternGlob, literal: path, re: re}
	}
	return pathPattern{kind: patternExact, literal: path}
}

// match reports whether requestPath satisfies the pattern, returning
// named captures for regex patterns.
func (p pathPattern) match(requestPath string) (bool, map[string]string) {
	switch p.kind {
	case patternExact:
		return requestPath == p.literal, nil
	case patternPrefix:
		return strings.HasPrefix(requestPath, p.literal), nil
	default:
		m := p.re.FindStringSubmatch(requestPath)
		if m == nil {
			return false, nil
		}
		var params map[string]string
		for i, name := range p.re.SubexpNames() {
			if i == 0 || name == "" {
				continue
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[name] = m[i]
		}
		return true, params
	}
}

func globToRegexp(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '.', '+', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			b.WriteString(`\`)
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
