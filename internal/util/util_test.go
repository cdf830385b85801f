package util

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJsonError(t *testing.T) {
	w := httptest.NewRecorder()
	JsonError(w, 404, "vehicle not found")
	if w.Code != 404 {
		t.Errorf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if body := strings.TrimSpace(w.Body.String()); body != `{"error":"vehicle not found"}` {
		t.Errorf("body = %s", body)
	}
}

func TestDecodeJson(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	if err := DecodeJson(strings.NewReader(`{"name":"x"}`), &v); err != nil || v.Name != "x" {
		t.Errorf("decode = %+v, %v", v, err)
	}
	if err := DecodeJson(strings.NewReader(`{"nam":"x"}`), &v); err == nil {
		t.Error("unknown field accepted")
	}
}

func TestGenUUID(t *testing.T) {
	a, b := GenUUID(), GenUUID()
	if len(a) != 36 || a == b {
		t.Errorf("uuids %q %q", a, b)
	}
}
