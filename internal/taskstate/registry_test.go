package taskstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjklaren/tism/internal/config"
)

func noop(TaskID) uint8 { return 0 }

func TestRegistry_RegisterAssignsDenseIDs(t *testing.T) {
	r := NewRegistry(config.DefaultConfig())
	a, err := r.Register(noop, "TaskA", 5000, 0)
	require.NoError(t, err)
	b, err := r.Register(noop, "TaskB", 5000, 0)
	require.NoError(t, err)

	assert.Equal(t, TaskID(0), a.ID)
	assert.Equal(t, TaskID(1), b.ID)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_RegisterFailsWhenFull(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxTasks = 2
	r := NewRegistry(cfg)
	_, err := r.Register(noop, "A", 5000, 0)
	require.NoError(t, err)
	_, err = r.Register(noop, "B", 5000, 0)
	require.NoError(t, err)
	_, err = r.Register(noop, "C", 5000, 0)
	assert.Error(t, err)
}

func TestRegistry_RegisterFailsAfterSeal(t *testing.T) {
	r := NewRegistry(config.DefaultConfig())
	r.Seal()
	_, err := r.Register(noop, "Late", 5000, 0)
	assert.Error(t, err)
}

func TestRegistry_FindByName(t *testing.T) {
	r := NewRegistry(config.DefaultConfig())
	_, err := r.Register(noop, "TISM_TaskManager", 5000, 0)
	require.NoError(t, err)

	found := r.Find("TISM_TaskManager")
	require.NotNil(t, found)
	assert.True(t, found.IsSystemTask())

	assert.Nil(t, r.Find("missing"))
}

func TestDescriptor_DefaultsAndSetters(t *testing.T) {
	r := NewRegistry(config.DefaultConfig())
	d, err := r.Register(noop, "TaskA", 5000, 0)
	require.NoError(t, err)

	assert.Equal(t, StateInit, d.State())
	assert.Equal(t, int32(NoCore), d.RunningOnCore())
	assert.False(t, d.Sleeping())

	d.SetSleeping(true)
	d.SetWakeAtMicros(123)
	d.SetState(StateRun)
	d.SetPriority(2500)
	d.SetDebugLevel(2)
	d.SetRunningOnCore(1)

	assert.True(t, d.Sleeping())
	assert.Equal(t, uint64(123), d.WakeAtMicros())
	assert.Equal(t, StateRun, d.State())
	assert.Equal(t, uint32(2500), d.Priority())
	assert.Equal(t, int32(2), d.DebugLevel())
	assert.Equal(t, int32(1), d.RunningOnCore())
}
