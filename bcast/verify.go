package bcast

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/canopy-network/layercast/lib"
)

/* This file implements offline checks of the event logs written by a run of the group */

// Logs maps each process to its parsed event log
type Logs map[lib.ProcessID][]lib.Event

// broadcastID identifies a broadcast across the group
type broadcastID struct {
	Origin lib.ProcessID
	Seq    int32
}

// Summary is an overview of a set of logs
type Summary struct {
	Processes  int `json:"processes"`
	Broadcasts int `json:"broadcasts"`
	Deliveries int `json:"deliveries"`
}

// ReadLogs() parses the event log of each of the n processes in dir; missing logs are treated as empty
func ReadLogs(dir string, n int) (Logs, lib.ErrorI) {
	logs := make(Logs, n)
	for id := lib.ProcessID(1); int(id) <= n; id++ {
		path := filepath.Join(dir, lib.EventLogFileName(id))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logs[id] = nil
			continue
		}
		events, err := lib.ReadEventLog(path, id)
		if err != nil {
			return nil, err
		}
		logs[id] = events
	}
	return logs, nil
}

// Summarize() counts the events of the logs
func (l Logs) Summarize() (s Summary) {
	s.Processes = len(l)
	for _, events := range l {
		for _, ev := range events {
			if ev.Kind == lib.EventBroadcast {
				s.Broadcasts++
			} else {
				s.Deliveries++
			}
		}
	}
	return
}

// VerifyFIFO() checks every process delivered each origin's messages as 1, 2, ... k with no duplicate, no gap and
// nothing that was never broadcast
func VerifyFIFO(logs Logs) lib.ErrorI {
	broadcasts := logs.broadcasts()
	for _, id := range logs.ids() {
		next := make(map[lib.ProcessID]int32)
		for _, ev := range logs[id] {
			if ev.Kind != lib.EventDeliver {
				continue
			}
			if err := logs.checkBroadcast(broadcasts, id, ev); err != nil {
				return err
			}
			expected := next[ev.Origin] + 1
			switch {
			case ev.Seq < expected:
				return ErrDuplicateDelivery(id, ev.Origin, ev.Seq)
			case ev.Seq > expected:
				return ErrFIFOViolation(id, ev.Origin, expected, ev.Seq)
			}
			next[ev.Origin] = ev.Seq
		}
	}
	return nil
}

// VerifyCausal() checks no process delivered a message before its dependencies, the dependencies of broadcast
// (p, s) being the deliveries at p, before it broadcast s, of messages originated by p or by p's dependencies
func VerifyCausal(logs Logs, membership *lib.Membership) lib.ErrorI {
	broadcasts := logs.broadcasts()
	// collect the dependencies of every broadcast from the log of its origin
	dependencies := make(map[broadcastID][]broadcastID)
	for _, id := range logs.ids() {
		view, err := membership.View(id)
		if err != nil {
			return err
		}
		var history []broadcastID
		for _, ev := range logs[id] {
			switch ev.Kind {
			case lib.EventDeliver:
				if ev.Origin == id || view.DependsOn(ev.Origin) {
					history = append(history, broadcastID{ev.Origin, ev.Seq})
				}
			case lib.EventBroadcast:
				dependencies[broadcastID{id, ev.Seq}] = append([]broadcastID{}, history...)
			}
		}
	}
	// replay every log against them
	for _, id := range logs.ids() {
		delivered := make(map[broadcastID]struct{})
		for _, ev := range logs[id] {
			if ev.Kind != lib.EventDeliver {
				continue
			}
			if err := logs.checkBroadcast(broadcasts, id, ev); err != nil {
				return err
			}
			b := broadcastID{ev.Origin, ev.Seq}
			if _, found := delivered[b]; found {
				return ErrDuplicateDelivery(id, ev.Origin, ev.Seq)
			}
			for _, dep := range dependencies[b] {
				if _, found := delivered[dep]; !found {
					return ErrCausalViolation(id, ev.Origin, ev.Seq, dep.Origin, dep.Seq)
				}
			}
			delivered[b] = struct{}{}
		}
	}
	return nil
}

// broadcasts() indexes every 'b' event of every log
func (l Logs) broadcasts() map[broadcastID]struct{} {
	out := make(map[broadcastID]struct{})
	for id, events := range l {
		for _, ev := range events {
			if ev.Kind == lib.EventBroadcast {
				out[broadcastID{id, ev.Seq}] = struct{}{}
			}
		}
	}
	return out
}

// checkBroadcast() ensures a delivery matches a broadcast when the log of its origin is known
func (l Logs) checkBroadcast(broadcasts map[broadcastID]struct{}, id lib.ProcessID, ev lib.Event) lib.ErrorI {
	if _, known := l[ev.Origin]; !known {
		return ErrUnknownBroadcast(id, ev.Origin, ev.Seq)
	}
	if _, found := broadcasts[broadcastID{ev.Origin, ev.Seq}]; !found {
		return ErrUnknownBroadcast(id, ev.Origin, ev.Seq)
	}
	return nil
}

// ids() returns the process ids of the logs in increasing order
func (l Logs) ids() (ids []lib.ProcessID) {
	for id := range l {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return
}
