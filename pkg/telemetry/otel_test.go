package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_DisabledIsNoOp(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_EnabledWithoutEndpointIsNoOp(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: true, OTLPEndpoint: ""})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartTickSpan_EndFunctionDoesNotPanic(t *testing.T) {
	ctx, end := StartTickSpan(context.Background(), "worker-1")
	require.NotNil(t, ctx)
	assert.NotPanics(t, func() { end(nil) })
}
