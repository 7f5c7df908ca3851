package normalize

import "testing"

func TestIRI(t *testing.T) {
	cases := map[string]string{
		"https://Example.TEST/Actors/alice/": "https://example.test/Actors/alice",
		"https://example.test/actors/alice":  "https://example.test/actors/alice",
		"HTTPS://EXAMPLE.TEST/":              "https://example.test/",
		"https://example.test/a%20b":         "https://example.test/a%20b",
		"https://example.test/x?q=1#frag":    "https://example.test/x?q=1#frag",
		"not a url at all":                   "not a url at all",
	}

	for in, want := range cases {
		if got := IRI(in); got != want {
			t.Errorf("IRI(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIRIIdempotent(t *testing.T) {
	inputs := []string{
		"https://Example.TEST/Actors/alice/",
		"https://example.test/a%20b/",
		"https://example.test/x?q=1#frag",
	}
	for _, in := range inputs {
		once := IRI(in)
		twice := IRI(once)
		if once != twice {
			t.Errorf("IRI not idempotent: IRI(%q)=%q, IRI(that)=%q", in, once, twice)
		}
	}
}
