package helpers

import "testing"

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"":                                  "",
		"plain  text\n here":                "plain text here",
		"Solar <strong>panels</strong> cut": "Solar panels cut",
		`a <span class="searchmatch">heat</span> pump &amp; more`: "a heat pump & more",
		"<script>alert(1)</script>safe":                           "safe",
	}
	for in, want := range cases {
		if got := PlainText(in); got != want {
			t.Fatalf("PlainText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"HTTPS://Example.COM:443/a/../b/?utm_source=x&z=2&a=1#frag", "https://example.com/b/?a=1&z=2"},
		{"http://example.com:80", "http://example.com/"},
		{"example.com/path?fbclid=abc", "https://example.com/path"},
		{"http://example.com:8080/x", "http://example.com:8080/x"},
	}
	for _, tc := range cases {
		got, err := CanonicalURL(tc.in)
		if err != nil {
			t.Fatalf("CanonicalURL(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("CanonicalURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if _, err := CanonicalURL("   "); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if got := SourceURL("::not a url"); got != "::not a url" {
		t.Fatalf("SourceURL should keep unparsable input, got %q", got)
	}
}
