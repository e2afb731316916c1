package module

import (
	"errors"
	"testing"

	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/health"
	"github.com/orgloop/orgloop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emptyInstance(name string) *Instance {
	return New(types.ModuleConfig{Name: name}, connector.Set{
		Sources:    map[string]connector.Source{},
		Actors:     map[string]connector.Actor{},
		Transforms: map[string]connector.Transform{},
	}, health.DefaultConfig())
}

func TestRegistrySingletonRule(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(emptyInstance("eng")))

	err := r.Register(emptyInstance("eng"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModuleAlreadyLoaded))

	// Never two instances under one name.
	names := map[string]int{}
	for _, inst := range r.List() {
		names[inst.Name()]++
	}
	assert.Equal(t, 1, names["eng"])
}

func TestRegistryGetAndRemove(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(emptyInstance("eng")))

	inst, err := r.Get("eng")
	require.NoError(t, err)
	assert.Equal(t, "eng", inst.Name())

	_, err = r.Get("nope")
	assert.True(t, errors.Is(err, ErrModuleNotFound))

	require.NoError(t, r.Remove("eng"))
	_, err = r.Get("eng")
	assert.True(t, errors.Is(err, ErrModuleNotFound))

	err = r.Remove("eng")
	assert.True(t, errors.Is(err, ErrModuleNotFound))
}

func TestRegistryReregisterAfterRemove(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(emptyInstance("eng")))
	require.NoError(t, r.Remove("eng"))
	assert.NoError(t, r.Register(emptyInstance("eng")))
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(emptyInstance("a")))
	require.NoError(t, r.Register(emptyInstance("b")))
	assert.Len(t, r.List(), 2)
}
