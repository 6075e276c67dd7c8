package identify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"comlink-service/internal/eventloop"
)

func TestRegistry_BuiltinStrategies(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	assert.Equal(t, []string{StrategyBlocking, StrategyNonBlocking}, r.List())

	factory, err := r.Factory(StrategyNonBlocking, okConfig, &eventloop.ManualScheduler{})
	require.NoError(t, err)

	first, second := factory(), factory()
	assert.IsType(t, &NonBlocking{}, first)
	assert.NotSame(t, first, second, "every attempt needs a fresh identifier")

	factory, err = r.Factory(StrategyBlocking, okConfig, nil)
	require.NoError(t, err)
	assert.IsType(t, &Blocking{}, factory())
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	_, err := r.Factory("telepathy", okConfig, nil)
	assert.ErrorContains(t, err, "unknown identification strategy")

	_, err = r.Factory(StrategyBlocking, Config{}, nil)
	assert.ErrorContains(t, err, "invalid identifier config")
}
