package export

import "testing"

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"http.server.requests": "http_server_requests",
		"queue-depth":          "queue_depth",
		"9lives":               "_9lives",
		"already_ok:sub":       "already_ok:sub",
	}
	for in, want := range tests {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithUnit(t *testing.T) {
	if got := WithUnit("latency", "seconds"); got != "latency_seconds" {
		t.Errorf("got %q", got)
	}
	if got := WithUnit("latency_seconds", "seconds"); got != "latency_seconds" {
		t.Errorf("unit suffix duplicated: %q", got)
	}
	if got := WithUnit("depth", ""); got != "depth" {
		t.Errorf("got %q", got)
	}
}

func TestSortedKeys(t *testing.T) {
	got := SortedKeys(map[string]string{"b": "1", "a": "2"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v", got)
	}
}
