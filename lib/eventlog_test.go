package lib

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventLogWriteRead(t *testing.T) {
	dir := t.TempDir()
	log, err := NewEventLog(dir, 3)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "da_proc_3.out"), log.Path())
	require.NoError(t, log.Broadcast(1))
	require.NoError(t, log.Deliver(3, 1))
	require.NoError(t, log.Deliver(1, 1))
	require.NoError(t, log.Close())
	// closing twice and writing after close are no-ops
	require.NoError(t, log.Close())
	require.NoError(t, log.Broadcast(2))
	bz, e := os.ReadFile(log.Path())
	require.NoError(t, e)
	require.Equal(t, "b 1\nd 3 1\nd 1 1\n", string(bz))
	events, err := ReadEventLog(log.Path(), 3)
	require.NoError(t, err)
	require.Equal(t, []Event{
		{Kind: EventBroadcast, Origin: 3, Seq: 1},
		{Kind: EventDeliver, Origin: 3, Seq: 1},
		{Kind: EventDeliver, Origin: 1, Seq: 1},
	}, events)
}

func TestEventLogConcurrent(t *testing.T) {
	log, err := NewEventLog(t.TempDir(), 1)
	require.NoError(t, err)
	wg := sync.WaitGroup{}
	for origin := ProcessID(1); origin <= 4; origin++ {
		wg.Add(1)
		go func(origin ProcessID) {
			defer wg.Done()
			for seq := int32(1); seq <= 250; seq++ {
				require.NoError(t, log.Deliver(origin, seq))
			}
		}(origin)
	}
	wg.Wait()
	require.NoError(t, log.Close())
	events, err := ReadEventLog(log.Path(), 1)
	require.NoError(t, err)
	require.Len(t, events, 1000)
	// each writer's lines stay in its own order
	last := map[ProcessID]int32{}
	for _, ev := range events {
		require.Equal(t, last[ev.Origin]+1, ev.Seq)
		last[ev.Origin] = ev.Seq
	}
}

func TestReadEventLogInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown kind", content: "x 1\n"},
		{name: "broadcast missing seq", content: "b\n"},
		{name: "deliver missing seq", content: "d 1\n"},
		{name: "non numeric", content: "d one 1\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "da_proc_1.out")
			require.NoError(t, os.WriteFile(path, []byte(test.content), 0644))
			_, err := ReadEventLog(path, 1)
			require.Error(t, err)
			require.Equal(t, CodeInvalidEventLog, err.Code())
		})
	}
}
