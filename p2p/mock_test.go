package p2p

import (
	"math/rand"
	"net"
	"sync"
	"testing"

	"github.com/canopy-network/layercast/lib"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

// lossyConn drops outbound datagrams, either at random or every other one
type lossyConn struct {
	net.PacketConn
	mux       sync.Mutex
	rand      *rand.Rand
	lossRate  float64
	alternate bool // drop the 1st, 3rd, 5th... write
	writes    int
	dropped   int
}

func newLossyConn(conn net.PacketConn, lossRate float64, seed int64) *lossyConn {
	return &lossyConn{PacketConn: conn, lossRate: lossRate, rand: rand.New(rand.NewSource(seed))}
}

func (c *lossyConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	c.mux.Lock()
	c.writes++
	drop := c.rand.Float64() < c.lossRate
	if c.alternate {
		drop = c.writes%2 == 1
	}
	if drop {
		c.dropped++
	}
	c.mux.Unlock()
	if drop {
		return len(b), nil
	}
	return c.PacketConn.WriteTo(b, addr)
}

func (c *lossyConn) stats() (writes, dropped int) {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.writes, c.dropped
}

// collector records every delivered message
type collector struct {
	mux  sync.Mutex
	msgs []*lib.Message
}

func (c *collector) deliver(m *lib.Message) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) snapshot() []*lib.Message {
	c.mux.Lock()
	defer c.mux.Unlock()
	return append([]*lib.Message{}, c.msgs...)
}

func (c *collector) count() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return len(c.msgs)
}

// newTestConns() binds n loopback sockets and returns them with their addresses
func newTestConns(t *testing.T, n int) (conns []net.PacketConn, addresses []string) {
	t.Helper()
	for i := 0; i < n; i++ {
		conn, err := nettest.NewLocalPacketListener("udp")
		require.NoError(t, err)
		conns = append(conns, conn)
		addresses = append(addresses, conn.LocalAddr().String())
	}
	return
}

// newTestLinks() starts n links on loopback; wrap may decorate each socket
func newTestLinks(t *testing.T, n int, config lib.LinkConfig, wrap func(id lib.ProcessID, conn net.PacketConn) net.PacketConn) ([]*PerfectLink, []*collector) {
	t.Helper()
	conns, addresses := newTestConns(t, n)
	links, collectors := make([]*PerfectLink, n), make([]*collector, n)
	for i := range conns {
		id := lib.ProcessID(i + 1)
		view, err := lib.NewProcessView(id, addresses, nil)
		require.NoError(t, err)
		conn := conns[i]
		if wrap != nil {
			conn = wrap(id, conn)
		}
		collectors[i] = new(collector)
		links[i] = NewPerfectLink(view, conn, config, collectors[i].deliver, nil, lib.NewNullLogger())
		links[i].Start()
		t.Cleanup(links[i].Stop)
	}
	return links, collectors
}

func testLinkConfig() lib.LinkConfig {
	config := lib.DefaultLinkConfig()
	config.MinTimeoutMS = 50
	return config
}
