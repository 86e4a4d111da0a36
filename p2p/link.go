package p2p

import (
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canopy-network/layercast/lib"
	"github.com/cenkalti/backoff/v4"
	pool "github.com/libp2p/go-buffer-pool"
	limiter "github.com/mxk/go-flowrate/flowrate"
)

/*
	PerfectLink implements reliable, duplicate free, point-to-point delivery over a single unreliable datagram socket.

	- Every data frame carries a link sequence number; (sender, seq) identifies it at the receiving side
	- Every data frame is acknowledged, duplicates included, since the previous ack may have been lost
	- Unacknowledged frames are retransmitted by a periodic sweep (period = the minimum timeout)
	- Each peer has an adaptive timeout: doubled once per sweep that retransmitted to it, reset to the minimum once
	  anything is heard from it

	Two long-lived workers run per link: the receive worker, which invokes the deliver callback synchronously, and the
	retransmission worker. They share nothing but the pending table.
*/

// PerfectLink is the reliable point-to-point transport of a process
type PerfectLink struct {
	view    *lib.ProcessView // the membership as seen by this process
	conn    net.PacketConn   // the bound datagram socket
	config  lib.LinkConfig   // retransmission options
	deliver lib.DeliverFunc  // the upper layer callback
	metrics *lib.Metrics     // telemetry
	log     lib.LoggerI      // logging

	seq        atomic.Int32                           // the next link sequence number, starting at 0
	pending    map[int32]*pendingFrame                // frames awaiting acknowledgement keyed by link sequence
	pendingMux sync.Mutex                             // guards pending
	peers      []*peerState                           // index i <-> id i+1; nil for self
	delivered  *lib.DeDuplicator[lib.MessageIdentity] // identities already handed to the upper layer
	deliverMux sync.Mutex                             // guards delivered

	sendMonitor *limiter.Monitor // outbound byte rate
	recvMonitor *limiter.Monitor // inbound byte rate
	bytesSent   atomic.Int64     // outbound byte total
	bytesRecv   atomic.Int64     // inbound byte total

	quit      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool
}

// pendingFrame is an encoded data frame not yet acknowledged by its target
type pendingFrame struct {
	target   *lib.Peer
	bz       []byte
	lastSent time.Time
	attempts int
}

// peerState is the adaptive retransmission state of a single peer
type peerState struct {
	peer     *lib.Peer
	timeout  atomic.Int64  // current timeout in nanoseconds
	received atomic.Bool   // heard from the peer since the previous sweep
	backoffs atomic.Uint64 // number of times the timeout was doubled
}

// PeerStatus is a point in time snapshot of a peer's retransmission state
type PeerStatus struct {
	ID        lib.ProcessID `json:"id"`
	Address   string        `json:"address"`
	TimeoutMS int64         `json:"timeoutMS"`
	Backoffs  uint64        `json:"backoffs"`
	Pending   int           `json:"pending"`
}

// LinkStatus is a point in time snapshot of the link
type LinkStatus struct {
	LocalAddress string       `json:"localAddress"`
	Pending      int          `json:"pending"`
	Delivered    int          `json:"delivered"`
	Peers        []PeerStatus `json:"peers"`
	SendRate     int64        `json:"sendRate"` // bytes per second
	RecvRate     int64        `json:"recvRate"` // bytes per second
	BytesSent    int64        `json:"bytesSent"`
	BytesRecv    int64        `json:"bytesRecv"`
}

// NewPerfectLink() creates a link over an already bound socket; call Start() to run its workers
func NewPerfectLink(view *lib.ProcessView, conn net.PacketConn, config lib.LinkConfig, deliver lib.DeliverFunc, metrics *lib.Metrics, log lib.LoggerI) *PerfectLink {
	if deliver == nil {
		deliver = func(*lib.Message) {}
	}
	sample := time.Duration(config.MonitorSampleMS) * time.Millisecond
	p := &PerfectLink{
		view:        view,
		conn:        conn,
		config:      config,
		deliver:     deliver,
		metrics:     metrics,
		log:         log,
		pending:     make(map[int32]*pendingFrame),
		peers:       make([]*peerState, view.NumProcesses()),
		delivered:   lib.NewDeDuplicator[lib.MessageIdentity](),
		sendMonitor: limiter.New(sample, 0),
		recvMonitor: limiter.New(sample, 0),
		quit:        make(chan struct{}),
	}
	for _, peer := range view.Others() {
		ps := &peerState{peer: peer}
		ps.timeout.Store(int64(config.MinTimeout()))
		p.peers[peer.ID-1] = ps
		metrics.UpdatePeerTimeout(peer.ID, config.MinTimeout())
	}
	return p
}

// ListenUDP() binds the process' datagram endpoint, retrying with exponential backoff
func ListenUDP(addr *net.UDPAddr, config lib.LinkConfig, log lib.LoggerI) (net.PacketConn, lib.ErrorI) {
	var conn net.PacketConn
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = time.Duration(config.BindRetryMaxTimeS) * time.Second
	var retry backoff.BackOff = policy
	if config.BindRetryMaxTimeS <= 0 {
		// a zero elapsed time means 'forever' to the policy; make it a single attempt instead
		retry = backoff.WithMaxRetries(policy, 0)
	}
	err := backoff.Retry(func() error {
		c, e := net.ListenUDP("udp", addr)
		if e != nil {
			log.Warnf("Binding %s failed with err: %s", addr, e.Error())
			return e
		}
		conn = c
		return nil
	}, retry)
	if err != nil {
		return nil, ErrFailedListen(err)
	}
	return conn, nil
}

// Start() runs the receive and retransmission workers
func (p *PerfectLink) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(2)
		go p.receiveLoop()
		go p.retransmitLoop()
		p.log.Infof("Perfect link of %d listening on %s", p.view.ID, p.conn.LocalAddr())
	})
}

// Stop() closes the socket and waits for the workers to exit
// NOTE: must not be called from within the deliver callback
func (p *PerfectLink) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.quit)
		if err := p.conn.Close(); err != nil {
			p.log.Warnf("Closing link socket failed with err: %s", err.Error())
		}
		p.wg.Wait()
		p.sendMonitor.Done()
		p.recvMonitor.Done()
		p.log.Infof("Perfect link of %d stopped", p.view.ID)
	})
}

// Send() frames the message under the next link sequence number, registers it as pending and transmits it once
// Transmission failures are logged and left to the retransmission sweep
func (p *PerfectLink) Send(msg *lib.Message, target lib.ProcessID) lib.ErrorI {
	if p.stopped.Load() {
		return ErrLinkStopped()
	}
	if msg == nil {
		return lib.ErrNilMessage()
	}
	if target == p.view.ID {
		return ErrSendToSelf()
	}
	peer, err := p.view.Peer(target)
	if err != nil {
		return err
	}
	if size, limit := lib.DataFrameHeaderSize+len(msg.Payload), int(p.config.MaxDatagramSize); size > limit {
		return lib.ErrFrameTooLarge(size, limit)
	}
	seq := p.seq.Add(1) - 1
	bz, err := lib.NewDataFrame(seq, msg).Marshal()
	if err != nil {
		return err
	}
	// register before the first transmission so a fast ack always finds its entry
	unlock := lockWithTrace("pending", &p.pendingMux, p.log)
	p.pending[seq] = &pendingFrame{target: peer, bz: bz, lastSent: time.Now(), attempts: 1}
	count := len(p.pending)
	unlock()
	p.metrics.UpdatePending(count)
	p.metrics.UpdateFrameSent(false)
	if err = p.write(bz, peer.Address); err != nil {
		p.log.Warnf("Sending seq %d to %d failed, will retry: %s", seq, target, err.Error())
	}
	return nil
}

// receiveLoop() blocks on the socket and handles each datagram in-line until the socket is closed
func (p *PerfectLink) receiveLoop() {
	defer p.wg.Done()
	for {
		buffer := pool.Get(int(p.config.MaxDatagramSize))
		n, addr, err := p.conn.ReadFrom(buffer)
		if err != nil {
			pool.Put(buffer)
			if p.stopped.Load() || isClosedErr(err) {
				return
			}
			p.log.Warn(ErrFailedRead(err).Error())
			continue
		}
		p.recvMonitor.Update(n)
		p.bytesRecv.Add(int64(n))
		p.handleDatagram(buffer[:n], addr)
		pool.Put(buffer)
	}
}

// handleDatagram() processes a single datagram; a panic in the upper layer only aborts this datagram
func (p *PerfectLink) handleDatagram(bz []byte, addr net.Addr) {
	defer lib.CatchPanic(p.log)
	from, ok := p.view.PIDFromAddr(addr)
	if !ok || from == p.view.ID {
		p.drop(ErrUnknownPeer(addr))
		return
	}
	// anything heard from a peer proves it is reachable again
	p.peers[from-1].received.Store(true)
	frame, err := lib.UnmarshalFrame(bz)
	if err != nil {
		p.drop(err)
		return
	}
	switch frame.Kind {
	case lib.FrameData:
		p.onData(frame, from)
	case lib.FrameAck:
		p.onAck(frame, from)
	}
}

// onData() delivers a data frame at most once and acknowledges it every time
func (p *PerfectLink) onData(frame *lib.Frame, from lib.ProcessID) {
	msg := frame.Message
	if msg.Sender != from {
		p.drop(ErrUnknownSender(msg.Sender, from))
		return
	}
	if _, err := p.view.Peer(msg.Origin); err != nil {
		p.drop(err)
		return
	}
	id := lib.MessageIdentity{Sender: from, Seq: frame.Seq}
	unlock := lockWithTrace("delivered", &p.deliverMux, p.log)
	duplicate := p.delivered.Found(id)
	unlock()
	p.metrics.UpdateFrameReceived(duplicate)
	if duplicate {
		p.log.Debugf("Duplicate seq %d from %d", frame.Seq, from)
	} else {
		p.deliver(msg)
	}
	ack, _ := frame.Ack().Marshal()
	if err := p.write(ack, p.peers[from-1].peer.Address); err != nil {
		p.log.Warnf("Acknowledging seq %d to %d failed: %s", frame.Seq, from, err.Error())
	}
}

// onAck() clears the pending entry acknowledged by its target
func (p *PerfectLink) onAck(frame *lib.Frame, from lib.ProcessID) {
	unlock := lockWithTrace("pending", &p.pendingMux, p.log)
	pf, found := p.pending[frame.Seq]
	matched := found && pf.target.ID == from
	if matched {
		delete(p.pending, frame.Seq)
	}
	count := len(p.pending)
	unlock()
	if !matched {
		// most often the ack of a retransmission that raced the first ack
		p.log.Debug(ErrUnexpectedAck(frame.Seq, from).Error())
		return
	}
	p.metrics.UpdateAck()
	p.metrics.UpdatePending(count)
}

// retransmitLoop() sweeps the pending table every minimum timeout until stopped
func (p *PerfectLink) retransmitLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.MinTimeout())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep(time.Now())
		case <-p.quit:
			return
		}
	}
}

// sweep() resets the timeouts of peers heard from, retransmits every frame older than its peer's timeout and
// doubles the timeout of each peer that was retransmitted to
func (p *PerfectLink) sweep(now time.Time) {
	defer lib.CatchPanic(p.log)
	minTimeout := p.config.MinTimeout()
	for _, ps := range p.peers {
		if ps != nil && ps.received.Swap(false) {
			ps.timeout.Store(int64(minTimeout))
		}
	}
	// collect under the lock, transmit outside of it
	var due []*pendingFrame
	unlock := lockWithTrace("pending", &p.pendingMux, p.log)
	for _, pf := range p.pending {
		if now.Sub(pf.lastSent) >= p.peers[pf.target.ID-1].Timeout() {
			pf.lastSent = now
			pf.attempts++
			due = append(due, &pendingFrame{target: pf.target, bz: pf.bz})
		}
	}
	count := len(p.pending)
	unlock()
	retransmitted := make(map[lib.ProcessID]struct{})
	for _, pf := range due {
		if err := p.write(pf.bz, pf.target.Address); err != nil {
			p.log.Warnf("Retransmission to %d failed: %s", pf.target.ID, err.Error())
		}
		p.metrics.UpdateFrameSent(true)
		retransmitted[pf.target.ID] = struct{}{}
	}
	for id := range retransmitted {
		p.peers[id-1].backoff(p.config.MaxTimeout())
	}
	p.metrics.UpdatePending(count)
	for _, ps := range p.peers {
		if ps != nil {
			p.metrics.UpdatePeerTimeout(ps.peer.ID, ps.Timeout())
		}
	}
}

// write() transmits bytes to an address and updates the outbound monitor
func (p *PerfectLink) write(bz []byte, addr net.Addr) lib.ErrorI {
	n, err := p.conn.WriteTo(bz, addr)
	if err != nil {
		return ErrFailedWrite(err)
	}
	p.sendMonitor.Update(n)
	p.bytesSent.Add(int64(n))
	return nil
}

// drop() logs and counts a datagram that is ignored
func (p *PerfectLink) drop(err lib.ErrorI) {
	p.metrics.UpdateDropped()
	p.log.Warnf("Dropped datagram: %s", err.Error())
}

// PeerTimeout() returns the current retransmission timeout of a peer
func (p *PerfectLink) PeerTimeout(id lib.ProcessID) time.Duration {
	if id < 1 || int(id) > len(p.peers) || p.peers[id-1] == nil {
		return 0
	}
	return p.peers[id-1].Timeout()
}

// Pending() returns the number of unacknowledged frames
func (p *PerfectLink) Pending() int {
	unlock := lockWithTrace("pending", &p.pendingMux, p.log)
	defer unlock()
	return len(p.pending)
}

// Status() returns a snapshot of the link
func (p *PerfectLink) Status() *LinkStatus {
	perPeer := make(map[lib.ProcessID]int)
	unlock := lockWithTrace("pending", &p.pendingMux, p.log)
	for _, pf := range p.pending {
		perPeer[pf.target.ID]++
	}
	pending := len(p.pending)
	unlock()
	unlock = lockWithTrace("delivered", &p.deliverMux, p.log)
	delivered := p.delivered.Len()
	unlock()
	send, recv := p.sendMonitor.Status(), p.recvMonitor.Status()
	status := &LinkStatus{
		LocalAddress: p.conn.LocalAddr().String(),
		Pending:      pending,
		Delivered:    delivered,
		SendRate:     send.CurRate,
		RecvRate:     recv.CurRate,
		BytesSent:    p.bytesSent.Load(),
		BytesRecv:    p.bytesRecv.Load(),
	}
	for _, ps := range p.peers {
		if ps == nil {
			continue
		}
		status.Peers = append(status.Peers, PeerStatus{
			ID:        ps.peer.ID,
			Address:   ps.peer.Address.String(),
			TimeoutMS: ps.Timeout().Milliseconds(),
			Backoffs:  ps.backoffs.Load(),
			Pending:   perPeer[ps.peer.ID],
		})
	}
	return status
}

// Timeout() returns the current timeout of the peer
func (s *peerState) Timeout() time.Duration { return time.Duration(s.timeout.Load()) }

// backoff() doubles the timeout; only the retransmission worker writes it
func (s *peerState) backoff(ceiling time.Duration) {
	next := s.timeout.Load() * 2
	switch {
	case ceiling > 0 && (next > int64(ceiling) || next <= 0):
		next = int64(ceiling)
	case next <= 0:
		next = math.MaxInt64
	}
	s.timeout.Store(next)
	s.backoffs.Add(1)
}
