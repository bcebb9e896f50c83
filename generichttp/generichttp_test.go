package generichttp

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSubMuxSanitize(t *testing.T) {
	cases := map[string]string{
		"":          "/",
		"/":         "/",
		"camera":    "/camera",
		"/camera/":  "/camera",
		" a/b/ ":    "/a/b",
		"//nested/": "/nested",
	}
	for in, expected := range cases {
		if got := SubMuxSanitize(in); got != expected {
			t.Errorf("SubMuxSanitize(%q) = %q, expected %q", in, got, expected)
		}
	}
}

func TestSetBool(t *testing.T) {
	var got bool
	h := SetBool(func(b bool) error {
		got = b
		return nil
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bool":true}`)))
	if rec.Code != http.StatusOK || !got {
		t.Errorf("expected 200 and true, got %d and %v", rec.Code, got)
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed json, got %d", rec.Code)
	}
}

func TestGetFloatError(t *testing.T) {
	h := GetFloat(func() (float64, error) { return 0, errors.New("sensor unplugged") })
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sensor unplugged") {
		t.Errorf("expected error text in body, got %q", rec.Body.String())
	}
}

func TestGetUint64(t *testing.T) {
	rec := httptest.NewRecorder()
	GetUint64(func() uint64 { return 42 })(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if body := strings.TrimSpace(rec.Body.String()); body != `{"uint64":42}` {
		t.Errorf("expected {\"uint64\":42} got %s", body)
	}
}
