package bcast

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/canopy-network/layercast/lib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memNetwork is an in-memory reliable network that reorders messages with random delays
type memNetwork struct {
	mux      sync.Mutex
	rand     *rand.Rand
	maxDelay time.Duration
	links    map[lib.ProcessID]*memLink
	drop     func(from, to lib.ProcessID, msg *lib.Message) bool // optional filter of sends
}

func newMemNetwork(maxDelay time.Duration, seed int64) *memNetwork {
	return &memNetwork{rand: rand.New(rand.NewSource(seed)), maxDelay: maxDelay, links: make(map[lib.ProcessID]*memLink)}
}

// factory() returns the link factory of process id
func (n *memNetwork) factory(id lib.ProcessID) LinkFactory {
	return func(deliver lib.DeliverFunc) (Link, lib.ErrorI) {
		l := &memLink{network: n, id: id, deliver: deliver, inbox: make(chan *lib.Message, 4096), quit: make(chan struct{})}
		n.mux.Lock()
		n.links[id] = l
		n.mux.Unlock()
		return l, nil
	}
}

// setDrop() installs a filter of sends; a dropped send never arrives
func (n *memNetwork) setDrop(drop func(from, to lib.ProcessID, msg *lib.Message) bool) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.drop = drop
}

func (n *memNetwork) route(from, to lib.ProcessID, msg *lib.Message) {
	n.mux.Lock()
	target, drop := n.links[to], n.drop
	var delay time.Duration
	if n.maxDelay > 0 {
		delay = time.Duration(n.rand.Int63n(int64(n.maxDelay)))
	}
	n.mux.Unlock()
	if target == nil || (drop != nil && drop(from, to, msg)) {
		return
	}
	go func() {
		time.Sleep(delay)
		select {
		case target.inbox <- msg:
		case <-target.quit:
		}
	}()
}

// memLink is a link of the in-memory network; it delivers from a single goroutine like the udp link
type memLink struct {
	network  *memNetwork
	id       lib.ProcessID
	deliver  lib.DeliverFunc
	inbox    chan *lib.Message
	quit     chan struct{}
	start    sync.Once
	stop     sync.Once
	wg       sync.WaitGroup
	sendMux  sync.Mutex
	sentByTo map[lib.ProcessID]int
}

func (l *memLink) Send(msg *lib.Message, target lib.ProcessID) lib.ErrorI {
	if msg == nil {
		return lib.ErrNilMessage()
	}
	l.sendMux.Lock()
	if l.sentByTo == nil {
		l.sentByTo = make(map[lib.ProcessID]int)
	}
	l.sentByTo[target]++
	l.sendMux.Unlock()
	cp := &lib.Message{Origin: msg.Origin, Sender: msg.Sender, Payload: append([]byte{}, msg.Payload...)}
	l.network.route(l.id, target, cp)
	return nil
}

func (l *memLink) Start() {
	l.start.Do(func() {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			for {
				select {
				case msg := <-l.inbox:
					l.deliver(msg)
				case <-l.quit:
					return
				}
			}
		}()
	})
}

func (l *memLink) Stop() {
	l.stop.Do(func() {
		close(l.quit)
		l.wg.Wait()
	})
}

func (l *memLink) sends(target lib.ProcessID) int {
	l.sendMux.Lock()
	defer l.sendMux.Unlock()
	return l.sentByTo[target]
}

// testViews() builds the views of n processes; deps maps a process to the processes affecting it
func testViews(t *testing.T, n int, deps map[lib.ProcessID][]lib.ProcessID) []*lib.ProcessView {
	t.Helper()
	addresses := make([]string, n)
	for i := range addresses {
		addresses[i] = fmt.Sprintf("127.0.0.1:%d", 11001+i)
	}
	views := make([]*lib.ProcessView, n)
	for i := range views {
		id := lib.ProcessID(i + 1)
		var affectedBy []lib.ProcessID
		if deps != nil {
			affectedBy = deps[id]
			if affectedBy == nil {
				affectedBy = []lib.ProcessID{}
			}
		}
		view, err := lib.NewProcessView(id, addresses, affectedBy)
		require.NoError(t, err)
		views[i] = view
	}
	return views
}

// recorder keeps an in-memory event log per process, in the format the verifiers check
type recorder struct {
	mux  sync.Mutex
	logs Logs
}

func newRecorder(n int) *recorder {
	r := &recorder{logs: make(Logs, n)}
	for i := 1; i <= n; i++ {
		r.logs[lib.ProcessID(i)] = nil
	}
	return r
}

func (r *recorder) broadcast(id lib.ProcessID, seq int32) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.logs[id] = append(r.logs[id], lib.Event{Kind: lib.EventBroadcast, Origin: id, Seq: seq})
}

func (r *recorder) deliver(id lib.ProcessID, origin lib.ProcessID, seq int32) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.logs[id] = append(r.logs[id], lib.Event{Kind: lib.EventDeliver, Origin: origin, Seq: seq})
}

// fifoDeliver() records deliveries whose payload is a fifo sequence number
func (r *recorder) fifoDeliver(t *testing.T, id lib.ProcessID) lib.DeliverFunc {
	return func(msg *lib.Message) {
		env, err := lib.NewFIFOEnvelope(msg)
		if !assert.NoError(t, err) {
			return
		}
		r.deliver(id, env.Origin, env.Seq)
	}
}

// causalDeliver() records deliveries whose payload is a vector clock
func (r *recorder) causalDeliver(t *testing.T, id lib.ProcessID, n int) lib.DeliverFunc {
	return func(msg *lib.Message) {
		env, err := lib.NewCausalEnvelope(msg, n)
		if !assert.NoError(t, err) {
			return
		}
		r.deliver(id, env.Origin, env.Seq())
	}
}

func (r *recorder) deliveries(id lib.ProcessID) (count int) {
	r.mux.Lock()
	defer r.mux.Unlock()
	for _, ev := range r.logs[id] {
		if ev.Kind == lib.EventDeliver {
			count++
		}
	}
	return
}

func (r *recorder) snapshot() Logs {
	r.mux.Lock()
	defer r.mux.Unlock()
	out := make(Logs, len(r.logs))
	for id, events := range r.logs {
		out[id] = append([]lib.Event{}, events...)
	}
	return out
}
