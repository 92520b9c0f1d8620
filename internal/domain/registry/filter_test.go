package registry

import "testing"

func TestParseFilterRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"(",
		"()",
		"(key)",
		"(=value)",
		"(&)",
		"(key=value",
		"(key=value))",
		"(&(a=1)(b=2)",
	}
	for _, expr := range bad {
		if _, err := ParseFilter(expr); err == nil {
			t.Errorf("expected parse error for %q", expr)
		}
	}
}

func TestFilterMatching(t *testing.T) {
	cap := Capability{
		Type: "whiteboard.application",
		Properties: Properties{
			"whiteboard.application.base": "/app",
			"whiteboard.extension.select": []string{"(name=a)", "(name=b)"},
			"whiteboard.resource":         true,
			"rank":                        3,
		},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{"(whiteboard.application.base=/app)", true},
		{"(whiteboard.application.base=/other)", false},
		{"(whiteboard.application.base=*)", true},
		{"(missing=*)", false},
		{"(whiteboard.resource=true)", true},
		{"(rank=3)", true},
		{"(type=whiteboard.application)", true},
		{"(type=whiteboard.extension)", false},
		{"(whiteboard.extension.select=(name=b))", true},
		{"(whiteboard.application.base=/a*)", true},
		{"(whiteboard.application.base=*pp)", true},
		{"(whiteboard.application.base=/x*)", false},
		{"(&(type=whiteboard.application)(whiteboard.application.base=*))", true},
		{"(&(type=whiteboard.application)(missing=*))", false},
		{"(|(missing=*)(rank=3))", true},
		{"(!(rank=3))", false},
		{"(!(missing=*))", true},
	}

	for _, tc := range cases {
		f, err := ParseFilter(tc.expr)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.expr, err)
		}
		if got := f.Matches(cap); got != tc.want {
			t.Errorf("%q: expected %v, got %v", tc.expr, tc.want, got)
		}
	}
}

func TestAndComposesFilters(t *testing.T) {
	f := And(MustFilter("(a=1)"), MustFilter("(b=*)"))
	if !f.Matches(Capability{Properties: Properties{"a": "1", "b": "x"}}) {
		t.Error("expected conjunction to match")
	}
	if f.Matches(Capability{Properties: Properties{"a": "1"}}) {
		t.Error("expected conjunction to fail on missing b")
	}
	if f.String() != "(&(a=1)(b=*))" {
		t.Errorf("unexpected rendering %q", f.String())
	}
}
