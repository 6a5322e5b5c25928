package util

import (
	"net/http"
	"testing"
)

func TestNewProxyFunc_Explicit(t *testing.T) {
	proxy := NewProxyFunc("http://proxy.local:3128", "", "internal.example")

	req, _ := http.NewRequest(http.MethodGet, "https://example.com/page", nil)
	u, err := proxy(req)
	if err != nil {
		t.Fatalf("proxy failed: %v", err)
	}
	if u == nil || u.Host != "proxy.local:3128" {
		t.Errorf("Expected https traffic to fall back to the http proxy, got %v", u)
	}

	req, _ = http.NewRequest(http.MethodGet, "http://internal.example/x", nil)
	u, err = proxy(req)
	if err != nil {
		t.Fatalf("proxy failed: %v", err)
	}
	if u != nil {
		t.Errorf("Expected NO_PROXY host to bypass the proxy, got %v", u)
	}
}

func TestNewTransport(t *testing.T) {
	tr := NewTransport("", "", "")
	if tr.Proxy == nil {
		t.Error("Expected environment proxy function")
	}
}
