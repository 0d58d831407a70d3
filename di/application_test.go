package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KOMKZ/habitcache/admin"
)

func TestNewApp(t *testing.T) {
	app := NewApp()
	assert.Equal(t, StateInit, app.State())
	assert.Equal(t, "habitcache", app.name)
	assert.Equal(t, "dev", app.version)

	app = NewApp(WithName("svc"), WithVersion("1.2.3"), WithShutdownTimeout(time.Second))
	assert.Equal(t, "svc", app.name)
	assert.Equal(t, "1.2.3", app.version)
	assert.Equal(t, time.Second, app.shutdownTimeout)
}

func TestApp_Lifecycle(t *testing.T) {
	var setup, ready, shutdown bool
	app := NewApp(
		WithOptions(Options{Loader: testLoader(t, nil)}),
		WithOnSetup(func(a *App) error {
			setup = true
			assert.NotNil(t, a.ConfigLoader())
			assert.NotNil(t, a.Logger())
			return nil
		}),
		WithOnReady(func(*App) error { ready = true; return nil }),
		WithOnShutdown(func(context.Context) error { shutdown = true; return nil }),
	)

	require.NoError(t, app.Setup())
	assert.Equal(t, StateSetup, app.State())
	require.NoError(t, app.Start())
	assert.Equal(t, StateRunning, app.State())
	assert.True(t, setup)
	assert.True(t, ready)

	srv := do.MustInvoke[*admin.Server](app.Injector())
	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", srv.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, app.Shutdown(context.Background()))
	assert.True(t, shutdown)
	assert.Equal(t, StateStopped, app.State())
	assert.Error(t, app.Context().Err())

	// second call is a no-op
	require.NoError(t, app.Shutdown(context.Background()))
}

func TestApp_AdminDisabled(t *testing.T) {
	app := NewApp(WithOptions(Options{Loader: testLoader(t, map[string]interface{}{"admin.enabled": false})}))
	require.NoError(t, app.Setup())
	require.NoError(t, app.Start())
	defer app.Shutdown(context.Background())

	srv, err := do.Invoke[*admin.Server](app.Injector())
	require.NoError(t, err, "provider stays available for callers")
	assert.Empty(t, srv.Addr(), "disabled server never listens")
}

func TestApp_SetupHookError(t *testing.T) {
	boom := errors.New("boom")
	app := NewApp(
		WithOptions(Options{Loader: testLoader(t, nil)}),
		WithOnSetup(func(*App) error { return boom }),
	)
	err := app.Setup()
	assert.ErrorIs(t, err, boom)
}

func TestApp_StartFailure(t *testing.T) {
	app := NewApp(WithOptions(Options{Loader: testLoader(t, map[string]interface{}{"durable.type": "etcd"})}))
	require.NoError(t, app.Setup())
	assert.Error(t, app.Start())
	require.NoError(t, app.Shutdown(context.Background()))
}

func TestApp_RunStopsOnContext(t *testing.T) {
	app := NewApp(WithOptions(Options{Loader: testLoader(t, nil)}))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	require.Eventually(t, func() bool { return app.State() == StateRunning }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, StateStopped, app.State())
}
