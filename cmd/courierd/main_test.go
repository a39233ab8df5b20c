package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marcus-qen/courier/internal/config"
	"github.com/marcus-qen/courier/internal/discovery"
	"github.com/marcus-qen/courier/internal/header"
	"github.com/marcus-qen/courier/internal/session"
)

func startDaemon(t *testing.T, cfg config.Config) (*daemon, *httptest.Server) {
	t.Helper()
	d, err := build(cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.start(ctx); err != nil {
		cancel()
		t.Fatalf("start: %v", err)
	}
	srv := httptest.NewServer(d.handler)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		d.stop(context.Background())
	})
	return d, srv
}

func TestDaemonServesWidgets(t *testing.T) {
	d, srv := startDaemon(t, config.Default())

	perms := session.Permissions{Default: session.ResourcePermissions{Else: session.Allow}}
	sess, err := session.Create(context.Background(), d.sessions, "test", perms, time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/widget", strings.NewReader(`{"name":"sprocket"}`))
	req.Header.Set(header.SessionID, sess.ID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["name"] != "sprocket" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestDaemonEndpoints(t *testing.T) {
	_, srv := startDaemon(t, config.Default())

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/v1/widget", http.StatusUnauthorized},
		{"/v1/gadget", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("get %s: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.want, resp.StatusCode)
		}
	}
}

func TestMetricsCanBeDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	_, srv := startDaemon(t, cfg)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 with metrics disabled, got %d", resp.StatusCode)
	}
}

func TestDiscoveryModes(t *testing.T) {
	ctx := context.Background()

	registry := config.Default()
	d, err := build(registry, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.caller.Resolve(ctx, "Widget", 1)
	if err != nil || res.Kind != discovery.KindLocal {
		t.Errorf("Widget should be local, got %v (%v)", res, err)
	}
	res, _ = d.caller.Resolve(ctx, "PurchaseOrder", 2)
	if res.Kind != discovery.KindQueue || res.RoutingKey != "service.purchase_order.v2" {
		t.Errorf("unregistered resources go to the queue, got %v", res)
	}

	convention := config.Default()
	convention.Discovery.Mode = config.DiscoveryConvention
	convention.Discovery.BaseURI = "https://api.example.com"
	d, err = build(convention, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, _ = d.caller.Resolve(ctx, "PurchaseOrder", 2)
	if res.Kind != discovery.KindHTTP || res.BaseURI != "https://api.example.com/v2/purchase_order" {
		t.Errorf("unexpected convention result %v", res)
	}
}

func TestBuildRejectsBadSettings(t *testing.T) {
	flush := config.Default()
	flush.Discovery.CacheFlush = "every so often"
	if _, err := build(flush, nil); err == nil {
		t.Error("bad cache flush spec should fail")
	}

	headers := config.Default()
	headers.AutoTransferHeaders = []string{"no_such_header"}
	if _, err := build(headers, nil); err == nil {
		t.Error("unknown auto-transfer header should fail")
	}

	pg := config.Default()
	pg.Sessions.Backend = config.SessionsPostgres
	pg.Sessions.DSN = "postgres://courier@127.0.0.1:1/courier?connect_timeout=1"
	if _, err := build(pg, nil); err == nil {
		t.Error("unreachable sessions database should fail")
	}

	announce := config.Default()
	announce.Discovery.Mode = config.DiscoveryAnnouncement
	if _, err := build(announce, nil); err == nil {
		t.Error("announcement discovery without redis should fail")
	}
}

func TestLocateAnnouncedResources(t *testing.T) {
	cfg := config.Default()
	d, err := build(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	iface, _ := d.registry.Lookup("Widget", 1)

	if res := d.locate(iface); res.Kind != discovery.KindQueue || res.RoutingKey != "service.widget.v1" {
		t.Errorf("expected queue location, got %v", res)
	}
	d.cfg.Discovery.AnnounceURI = "http://courier-1:8080"
	if res := d.locate(iface); res.Kind != discovery.KindHTTP || res.BaseURI != "http://courier-1:8080/v1/widget" {
		t.Errorf("expected HTTP location, got %v", res)
	}
}

func TestVersionMetadataDefaults(t *testing.T) {
	if version != "dev" {
		t.Fatalf("expected default version %q, got %q", "dev", version)
	}
	if commit == "" || date == "" {
		t.Fatal("expected build metadata to be non-empty")
	}
}
