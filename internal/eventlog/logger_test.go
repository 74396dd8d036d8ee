package eventlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/message"
	"github.com/mjklaren/tism/internal/ringbuf"
	"github.com/mjklaren/tism/internal/taskstate"
)

func noop(taskstate.TaskID) uint8 { return 0 }

func TestLogger_NotifyRoundTripWritesFormattedLine(t *testing.T) {
	cfg := config.DefaultConfig()
	reg := taskstate.NewRegistry(cfg)
	pool := NewTextPool()
	var buf bytes.Buffer

	logger := New(reg, cfg, Config{Level: LevelAll, Output: &buf}, pool)
	loggerDesc, err := reg.Register(logger.Run, "TISM_EventLogger", cfg.PriorityNormal, 0)
	require.NoError(t, err)
	loggerDesc.Outbound = ringbuf.New[message.Message](cfg.MaxMessagesPerRing)

	taskMgrDesc, err := reg.Register(noop, "TISM_TaskManager", cfg.PriorityHigh, 0)
	require.NoError(t, err)
	taskMgrDesc.Outbound = ringbuf.New[message.Message](cfg.MaxMessagesPerRing)

	appDesc, err := reg.Register(noop, "App", cfg.PriorityNormal, 0)
	require.NoError(t, err)
	appDesc.Outbound = ringbuf.New[message.Message](cfg.MaxMessagesPerRing)

	logger.Run(loggerDesc.ID) // INIT: queues a self-sleep request to task-manager
	loggerDesc.SetState(taskstate.StateRun)

	ok := Notify(pool, cfg.EventLogEntryLength, appDesc, loggerDesc.ID, "value is %d", 42)
	require.True(t, ok)
	// Deliver manually, standing in for postman.
	rec, _ := appDesc.Outbound.Peek()
	appDesc.Outbound.Pop()
	loggerDesc.Inbound.Write(rec)

	logger.Run(loggerDesc.ID)

	assert.Contains(t, buf.String(), "App (ID")
	assert.Contains(t, buf.String(), "value is 42")
}

func TestLogger_ErrorLevelAlwaysWritesRegardlessOfLevel(t *testing.T) {
	cfg := config.DefaultConfig()
	reg := taskstate.NewRegistry(cfg)
	pool := NewTextPool()
	var buf bytes.Buffer

	logger := New(reg, cfg, Config{Level: LevelErrorOnly, Output: &buf}, pool)
	loggerDesc, err := reg.Register(logger.Run, "TISM_EventLogger", cfg.PriorityNormal, 0)
	require.NoError(t, err)
	loggerDesc.Outbound = ringbuf.New[message.Message](cfg.MaxMessagesPerRing)

	_, err = reg.Register(noop, "TISM_TaskManager", cfg.PriorityHigh, 0)
	require.NoError(t, err)

	appDesc, err := reg.Register(noop, "App", cfg.PriorityNormal, 0)
	require.NoError(t, err)
	appDesc.Outbound = ringbuf.New[message.Message](cfg.MaxMessagesPerRing)

	logger.Run(loggerDesc.ID)
	loggerDesc.SetState(taskstate.StateRun)

	Error(pool, cfg.EventLogEntryLength, appDesc, loggerDesc.ID, "disk on fire")
	rec, _ := appDesc.Outbound.Peek()
	appDesc.Outbound.Pop()
	loggerDesc.Inbound.Write(rec)
	logger.Run(loggerDesc.ID)

	assert.True(t, strings.Contains(buf.String(), "ERROR: disk on fire"))
}

func TestTextPool_StoreTruncatesToMaxLen(t *testing.T) {
	pool := NewTextPool()
	seq := pool.Store("0123456789", 4)
	text, ok := pool.Take(seq)
	require.True(t, ok)
	assert.Equal(t, "0123", text)

	_, ok = pool.Take(seq)
	assert.False(t, ok, "a taken entry must not be retrievable twice")
}
