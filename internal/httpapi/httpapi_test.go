package httpapi

import "testing"

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"/":       "",
		"api":     "/api",
		"/api":    "/api",
		"/api///": "/api",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Errorf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsSafeName(t *testing.T) {
	valid := []string{"web", "web:00", "worker-1", "a.b_c"}
	invalid := []string{"", "../etc", "a/b", "a\\b", "a b"}
	for _, s := range valid {
		if !isSafeName(s) {
			t.Errorf("isSafeName(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if isSafeName(s) {
			t.Errorf("isSafeName(%q) = true, want false", s)
		}
	}
}
