package sdk

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"kind":"validation","message":"invalid configuration","fields":[{"field":"rconPassword","message":"must not contain spaces"}]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	_, err := c.SaveConfig("c1", ServerConfig{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T %v", err, err)
	}
	if apiErr.Status != 400 || apiErr.Kind != "validation" || len(apiErr.Fields) != 1 {
		t.Errorf("Unexpected error %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "rconPassword") {
		t.Errorf("Expected field in message, got %q", apiErr.Error())
	}
}

func TestPlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "").Health()
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway || apiErr.Message != "boom" {
		t.Errorf("Expected plain text error to be wrapped, got %v", err)
	}
}

func TestResolveConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Connection{
			{ID: "a1", Name: "Alpha"},
			{ID: "b2", Name: "Bravo", IsDefault: true},
		})
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "")

	conn, err := c.ResolveConnection("")
	if err != nil || conn.ID != "b2" {
		t.Errorf("Expected default Bravo, got %+v %v", conn, err)
	}
	conn, err = c.ResolveConnection("Alpha")
	if err != nil || conn.ID != "a1" {
		t.Errorf("Expected Alpha by name, got %+v %v", conn, err)
	}
	_, err = c.ResolveConnection("Charlie")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != "not_found" {
		t.Errorf("Expected not_found, got %v", err)
	}
}

func TestWebSocketURL(t *testing.T) {
	c := NewClient("https://example.com:8420/", "abc")
	got, err := c.ConsoleURL("c1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "wss://example.com:8420/ws/connections/c1/console?token=abc" {
		t.Errorf("Unexpected url %s", got)
	}
}
