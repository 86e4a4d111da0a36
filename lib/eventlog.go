package lib

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

/*
	The event log is the machine-readable record of a process' run, one event per line:

	b <seq>             : this process broadcast its message number <seq>
	d <origin> <seq>    : this process delivered message number <seq> of process <origin>
*/

// EventLogFileName() is the name of the event log of a process within its output directory
func EventLogFileName(id ProcessID) string { return fmt.Sprintf("da_proc_%d.out", id) }

// EventKind distinguishes broadcast from delivery events
type EventKind byte

const (
	EventBroadcast EventKind = 'b'
	EventDeliver   EventKind = 'd'
)

// Event is a single parsed line of an event log
type Event struct {
	Kind   EventKind `json:"kind"`
	Origin ProcessID `json:"origin"` // the broadcasting process; the owner of the log for 'b' events
	Seq    int32     `json:"seq"`
}

// EventLog is a buffered, concurrency-safe writer of broadcast and delivery events
type EventLog struct {
	id     ProcessID
	path   string
	file   *os.File
	writer *bufio.Writer
	closed bool
	mux    sync.Mutex
}

// NewEventLog() creates (truncating) the event log of process id under dir
func NewEventLog(dir string, id ProcessID) (*EventLog, ErrorI) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ErrWriteFile(err)
	}
	path := filepath.Join(dir, EventLogFileName(id))
	f, err := os.Create(path)
	if err != nil {
		return nil, ErrWriteFile(err)
	}
	return &EventLog{id: id, path: path, file: f, writer: bufio.NewWriter(f)}, nil
}

// Path() is the file the log writes to
func (e *EventLog) Path() string { return e.path }

// Broadcast() records a local broadcast
func (e *EventLog) Broadcast(seq int32) ErrorI {
	return e.write(fmt.Sprintf("b %d\n", seq))
}

// Deliver() records a delivery
func (e *EventLog) Deliver(origin ProcessID, seq int32) ErrorI {
	return e.write(fmt.Sprintf("d %d %d\n", origin, seq))
}

func (e *EventLog) write(line string) ErrorI {
	e.mux.Lock()
	defer e.mux.Unlock()
	// events racing with shutdown are discarded
	if e.closed {
		return nil
	}
	if _, err := e.writer.WriteString(line); err != nil {
		return ErrWriteFile(err)
	}
	return nil
}

// Flush() forces buffered events to the file
func (e *EventLog) Flush() ErrorI {
	e.mux.Lock()
	defer e.mux.Unlock()
	if e.closed {
		return nil
	}
	if err := e.writer.Flush(); err != nil {
		return ErrWriteFile(err)
	}
	return nil
}

// Close() flushes and closes the log; safe to call more than once
func (e *EventLog) Close() ErrorI {
	e.mux.Lock()
	defer e.mux.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.writer.Flush(); err != nil {
		_ = e.file.Close()
		return ErrWriteFile(err)
	}
	if err := e.file.Close(); err != nil {
		return ErrWriteFile(err)
	}
	return nil
}

// ReadEventLog() parses the event log of process id at path
func ReadEventLog(path string, id ProcessID) ([]Event, ErrorI) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ErrReadFile(err)
	}
	defer f.Close()
	var events []Event
	scanner := bufio.NewScanner(f)
	for n := 1; scanner.Scan(); n++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		ev, e := parseEvent(text, id)
		if e != nil {
			return nil, ErrInvalidEventLog(n, text)
		}
		events = append(events, ev)
	}
	if err = scanner.Err(); err != nil {
		return nil, ErrReadFile(err)
	}
	return events, nil
}

func parseEvent(text string, id ProcessID) (Event, error) {
	fields := strings.Fields(text)
	switch {
	case fields[0] == "b" && len(fields) == 2:
		seq, err := strconv.ParseInt(fields[1], 10, 32)
		return Event{Kind: EventBroadcast, Origin: id, Seq: int32(seq)}, err
	case fields[0] == "d" && len(fields) == 3:
		origin, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			return Event{}, err
		}
		seq, err := strconv.ParseInt(fields[2], 10, 32)
		return Event{Kind: EventDeliver, Origin: ProcessID(origin), Seq: int32(seq)}, err
	default:
		return Event{}, fmt.Errorf("unrecognized event")
	}
}
