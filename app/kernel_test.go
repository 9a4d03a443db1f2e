package app_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/km-arc/modgraph/app"
	"github.com/km-arc/modgraph/framework/config"
	"github.com/km-arc/modgraph/framework/manifest"
)

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Name: "modgraph", Env: "testing"},
		Log:      config.LogConfig{Level: "debug", Format: "json"},
		Admin:    config.AdminConfig{Enabled: true, Addr: "127.0.0.1:0"},
		Modules:  config.ModulesConfig{SourceRoot: "../framework/manifest/testdata/app"},
		Manifest: config.ManifestConfig{Path: "../framework/manifest/testdata/modules.yaml"},
	}
}

func TestCheckPrintsSummary(t *testing.T) {
	var logs, out bytes.Buffer
	a := app.New(testConfig(), &logs)

	require.NoError(t, a.Check(context.Background(), &out))
	s := out.String()
	require.Contains(t, s, "MODULE")
	require.Contains(t, s, "users")
	require.Contains(t, s, "/users")
	require.Contains(t, s, "Mod:Repo")
	require.Contains(t, s, "routes=1")
	require.Contains(t, s, a.Boot.PassID())
	require.NotContains(t, s, "Extra")
	require.Contains(t, logs.String(), `"app":"modgraph"`)
}

func TestCheckMissingManifest(t *testing.T) {
	cfg := testConfig()
	cfg.Manifest.Path = "testdata/nope.yaml"
	err := app.New(cfg, &bytes.Buffer{}).Check(context.Background(), &bytes.Buffer{})
	require.ErrorContains(t, err, "load manifest")
}

func TestAdminUsesManifestRefs(t *testing.T) {
	a := app.New(testConfig(), &bytes.Buffer{})
	require.NoError(t, a.Bootstrap(context.Background()))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/modules/App/imports", strings.NewReader(`{"module":"Extra"}`))
	req.Header.Set("Content-Type", "application/json")
	a.Router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	_, ok := a.Boot.Metadata(manifest.ModuleRef("Extra"))
	require.True(t, ok)
}

func TestServeStopsOnCancel(t *testing.T) {
	a := app.New(testConfig(), &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	require.Eventually(t, func() bool { return a.Boot.PassID() != "" }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
