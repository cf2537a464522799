package modspec

import "testing"

func TestBuildParseRoundTrip(t *testing.T) {
	cases := []Ref{
		{"tree", 1, "index.js"},
		{"tree", 42, "lib/math.js"},
		{"odd@id", 3, "a/b/c.js"},
	}
	for _, c := range cases {
		spec := Build(c.BlueprintID, c.Version, c.RelPath)
		got, ok := Parse(spec)
		if !ok {
			t.Fatalf("parse %q failed", spec)
		}
		if got != c {
			t.Fatalf("round trip %q: got %+v want %+v", spec, got, c)
		}
	}
}

func TestParseRejects(t *testing.T) {
	bad := []string{
		"",
		"app://",
		"app://tree",
		"app://tree@1",
		"app://tree@/index.js",
		"app://@1/index.js",
		"app://tree@x/index.js",
		"app://tree@1/",
		"http://tree@1/index.js",
	}
	for _, s := range bad {
		if _, ok := Parse(s); ok {
			t.Fatalf("expected parse to reject %q", s)
		}
	}
}

func TestIsRelative(t *testing.T) {
	if !IsRelative("./a.js") || !IsRelative("../a.js") {
		t.Fatalf("expected relative prefixes to be recognized")
	}
	if IsRelative("a.js") || IsRelative("@shared/a.js") || IsRelative("app://b@1/a.js") {
		t.Fatalf("expected non-relative specifiers to be rejected")
	}
}

func TestResolveRelative(t *testing.T) {
	referrer := Build("tree", 2, "lib/util/index.js")

	cases := []struct {
		imp  string
		want string
		ok   bool
	}{
		{"./math.js", "app://tree@2/lib/util/math.js", true},
		{"../math.js", "app://tree@2/lib/math.js", true},
		{"../../math.js", "app://tree@2/math.js", true},
		{"../../../math.js", "", false},
		{".\\math.js", "", false},
	}
	for _, c := range cases {
		got, ok := ResolveRelative(c.imp, referrer)
		if ok != c.ok {
			t.Fatalf("resolve %q: ok=%v want %v", c.imp, ok, c.ok)
		}
		if ok && got != c.want {
			t.Fatalf("resolve %q: got %q want %q", c.imp, got, c.want)
		}
	}
}

func TestResolveRelativeAppliesDotDotInOrder(t *testing.T) {
	// "./a/../b.js" pops "a" back off before appending "b.js".
	got, ok := ResolveRelative("./a/../b.js", Build("tree", 1, "index.js"))
	if !ok {
		t.Fatalf("expected resolve to succeed")
	}
	if got != "app://tree@1/b.js" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeSharedRelPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"@shared/util.js", "@shared/util.js", true},
		{"shared/util.js", "@shared/util.js", true},
		{"@shared/a/b.js", "@shared/a/b.js", true},
		{"@shared/", "", false},
		{"@shared/../x.js", "", false},
		{"lodash", "", false},
	}
	for _, c := range cases {
		got, ok := NormalizeSharedRelPath(c.in)
		if ok != c.ok {
			t.Fatalf("normalize %q: ok=%v want %v", c.in, ok, c.ok)
		}
		if ok && got != c.want {
			t.Fatalf("normalize %q: got %q want %q", c.in, got, c.want)
		}
	}
}

func TestValidRelPath(t *testing.T) {
	good := []string{"index.js", "a/b.js", "@shared/x.js", "deep/ly/nested/file.js"}
	for _, p := range good {
		if !ValidRelPath(p) {
			t.Fatalf("expected %q to validate", p)
		}
	}
	bad := []string{"", "/abs.js", "a//b.js", "./a.js", "../a.js", "a/./b.js", "a/../b.js", "a\\b.js", "a/"}
	for _, p := range bad {
		if ValidRelPath(p) {
			t.Fatalf("expected %q to be rejected", p)
		}
	}
}
