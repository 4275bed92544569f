package permission

import "testing"

func TestCompilePatternKinds(t *testing.T) {
	cases := []struct {
		path string
		kind patternKind
	}{
		{"/api/music", patternExact},
		{"/api/music/*", patternPrefix},
		{"^/api/music/[0-9]+$", patternRegex},
		{"/api/*/detail", patternGlob},
		{"/api/item?", patternGlob},
	}
	for _, tc := range cases {
		if got := compilePattern(tc.path); got.kind != tc.kind {
			t.Errorf("compilePattern(%q).kind = %d, want %d", tc.path, got.kind, tc.kind)
		}
	}
}

func TestPatternMatch(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/api/music", "/api/music", true},
		{"/api/music", "/api/music/1", false},
		{"/api/music/*", "/api/music/1", true},
		{"/api/music/*", "/api/music/", true},
		{"/api/music/*", "/api/other", false},
		{"^/api/music/[0-9]+$", "/api/music/42", true},
		{"^/api/music/[0-9]+$", "/api/music/abc", false},
		{"/api/*/detail", "/api/music/detail", true},
		{"/api/*/detail", "/api/music/list", false},
		{"/api/item?", "/api/item1", true},
		{"/api/item?", "/api/item12", false},
	}
	for _, tc := range cases {
		p := compilePattern(tc.pattern)
		got, _ := p.match(tc.path)
		if got != tc.want {
			t.Errorf("pattern %q match %q = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

func TestPatternNamedCaptures(t *testing.T) {
	p := compilePattern(`^/api/music/(?P<id>[0-9]+)$`)
	ok, params := p.match("/api/music/42")
	if !ok {
		t.Fatal("expected match")
	}
	if params["id"] != "42" {
		t.Fatalf("params = %v", params)
	}
}

func TestPatternBadRegexFallsBackToExact(t *testing.T) {
	p := compilePattern("^/api/([$")
	if p.kind != patternExact {
		t.Fatalf("kind = %d, want exact fallback", p.kind)
	}
	if ok, _ := p.match("^/api/([$"); !ok {
		t.Fatal("exact fallback should match the literal text")
	}
}
