//go:build integration

package executor_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/illmade-knight/go-tdbridge/pkg/executor"
	"github.com/illmade-knight/go-tdbridge/pkg/helpers/emulators"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutors_Integration_TDengine(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.InfoLevel)
	td := emulators.SetupTDengineContainer(t, ctx, emulators.GetDefaultTDengineImageContainer())

	t.Run("HTTP", func(t *testing.T) {
		h, err := executor.NewHTTPExecutor(executor.HTTPConfig{
			URL:   td.EmulatorAddress + "/rest/sql",
			Token: "root:taosdata",
		}, logger)
		require.NoError(t, err)
		defer h.Close()

		require.NoError(t, h.Execute(ctx, "create database if not exists bridge_http"))
		require.NoError(t, h.Execute(ctx, "create table if not exists bridge_http.meters (ts timestamp, current float)"))
		require.NoError(t, h.Execute(ctx, "insert into bridge_http.meters values(now, 10.3)"))
	})

	t.Run("Pooled taosRestful", func(t *testing.T) {
		cfg := executor.DefaultPooledConfig()
		cfg.DSN = fmt.Sprintf("http(%s:%s)/", td.Host, td.Port)
		cfg.Username = "root"
		cfg.Password = "taosdata"

		p, err := executor.NewPooledExecutor(ctx, cfg, logger)
		require.NoError(t, err)
		defer p.Close()

		require.NoError(t, p.Execute(ctx, "create database if not exists bridge_pooled"))
		require.NoError(t, p.Execute(ctx, "create table if not exists bridge_pooled.meters (ts timestamp, current float)"))
		for i := 0; i < 10; i++ {
			require.NoError(t, p.Execute(ctx, fmt.Sprintf("insert into bridge_pooled.meters values(now+%da, %d.5)", i, i)))
		}
		assert.Equal(t, 0, p.Stats().InUse)
	})
}
