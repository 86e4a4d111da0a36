package lib

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
)

/*
	This file implements the static membership of the broadcast group.

	Membership file format:
		<N>
		<id> <host> <port>      x N   (ids are dense, 1..N)
		<id> <dep> <dep> ...    x N   (optional: the processes whose broadcasts causally affect <id>)
*/

// Peer is a member of the broadcast group
type Peer struct {
	ID      ProcessID    `json:"id"`
	Address *net.UDPAddr `json:"address"`
}

// Membership is the parsed, validated membership of every process
type Membership struct {
	Peers        []*Peer                   // index i holds the peer with id i+1
	Dependencies map[ProcessID][]ProcessID // nil when the file declares no dependency section
}

// ProcessView is the membership as seen by one process; immutable after construction
type ProcessView struct {
	ID         ProcessID
	Address    *net.UDPAddr
	Peers      []*Peer     // ordered: index i <-> id i+1
	AffectedBy []ProcessID // nil means every process is a dependency
	byAddr     map[netip.AddrPort]ProcessID
}

// ParseMembershipFile() reads and validates a membership file
func ParseMembershipFile(path string) (*Membership, ErrorI) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ErrReadFile(err)
	}
	defer f.Close()
	return ParseMembership(f)
}

// ParseMembership() reads and validates a membership description
func ParseMembership(r io.Reader) (*Membership, ErrorI) {
	lines, err := readNonEmptyLines(r)
	if err != nil {
		return nil, ErrReadFile(err)
	}
	if len(lines) == 0 {
		return nil, ErrInvalidMembership("empty membership")
	}
	n, e := strconv.Atoi(lines[0])
	if e != nil || n <= 0 {
		return nil, ErrInvalidMembership(fmt.Sprintf("bad process count %q", lines[0]))
	}
	if len(lines) < 1+n {
		return nil, ErrInvalidMembership(fmt.Sprintf("expected %d processes, found %d", n, len(lines)-1))
	}
	m := &Membership{Peers: make([]*Peer, n)}
	for _, line := range lines[1 : 1+n] {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, ErrInvalidMembership(fmt.Sprintf("bad process line %q", line))
		}
		id, er := parseID(fields[0], n)
		if er != nil {
			return nil, er
		}
		if m.Peers[id-1] != nil {
			return nil, ErrInvalidMembership(fmt.Sprintf("duplicate process id %d", id))
		}
		port, e := strconv.Atoi(fields[2])
		if e != nil || port <= 0 || port > 65535 {
			return nil, ErrInvalidMembership(fmt.Sprintf("bad port %q", fields[2]))
		}
		hostPort := net.JoinHostPort(fields[1], fields[2])
		addr, e := net.ResolveUDPAddr("udp", hostPort)
		if e != nil {
			return nil, ErrInvalidAddress(hostPort, e)
		}
		m.Peers[id-1] = &Peer{ID: id, Address: addr}
	}
	// the dependency section is optional, but when present it must describe every process
	depLines := lines[1+n:]
	if len(depLines) == 0 {
		return m, nil
	}
	if len(depLines) != n {
		return nil, ErrInvalidMembership(fmt.Sprintf("expected %d dependency lines, found %d", n, len(depLines)))
	}
	m.Dependencies = make(map[ProcessID][]ProcessID, n)
	for _, line := range depLines {
		fields := strings.Fields(line)
		id, er := parseID(fields[0], n)
		if er != nil {
			return nil, er
		}
		if _, found := m.Dependencies[id]; found {
			return nil, ErrInvalidMembership(fmt.Sprintf("duplicate dependency line for %d", id))
		}
		deps := make([]ProcessID, 0, len(fields)-1)
		for _, f := range fields[1:] {
			dep, err := parseID(f, n)
			if err != nil {
				return nil, err
			}
			deps = append(deps, dep)
		}
		m.Dependencies[id] = deps
	}
	return m, nil
}

// View() returns the membership as seen by process id
func (m *Membership) View(id ProcessID) (*ProcessView, ErrorI) {
	if id < 1 || int(id) > len(m.Peers) {
		return nil, ErrInvalidProcessID(id)
	}
	var deps []ProcessID
	if m.Dependencies != nil {
		deps = append([]ProcessID{}, m.Dependencies[id]...)
	}
	return newProcessView(id, m.Peers, deps), nil
}

// NewProcessView() builds a view directly from an ordered list of 'host:port' addresses
func NewProcessView(id ProcessID, addresses []string, affectedBy []ProcessID) (*ProcessView, ErrorI) {
	peers := make([]*Peer, len(addresses))
	for i, a := range addresses {
		addr, err := net.ResolveUDPAddr("udp", a)
		if err != nil {
			return nil, ErrInvalidAddress(a, err)
		}
		peers[i] = &Peer{ID: ProcessID(i + 1), Address: addr}
	}
	if id < 1 || int(id) > len(peers) {
		return nil, ErrInvalidProcessID(id)
	}
	for _, dep := range affectedBy {
		if dep < 1 || int(dep) > len(peers) {
			return nil, ErrInvalidProcessID(dep)
		}
	}
	return newProcessView(id, peers, affectedBy), nil
}

func newProcessView(id ProcessID, peers []*Peer, affectedBy []ProcessID) *ProcessView {
	v := &ProcessView{
		ID:         id,
		Address:    peers[id-1].Address,
		Peers:      peers,
		AffectedBy: affectedBy,
		byAddr:     make(map[netip.AddrPort]ProcessID, len(peers)),
	}
	for _, p := range peers {
		v.byAddr[addrKey(p.Address.AddrPort())] = p.ID
	}
	return v
}

// NumProcesses() returns N, the size of the group
func (v *ProcessView) NumProcesses() int { return len(v.Peers) }

// Majority() returns ceil(N/2), the acknowledgement threshold of uniform reliable broadcast
func (v *ProcessView) Majority() int { return (len(v.Peers) + 1) / 2 }

// Others() returns every peer except this process, ordered by id
func (v *ProcessView) Others() (others []*Peer) {
	for _, p := range v.Peers {
		if p.ID != v.ID {
			others = append(others, p)
		}
	}
	return
}

// Peer() returns the peer with the given id
func (v *ProcessView) Peer(id ProcessID) (*Peer, ErrorI) {
	if id < 1 || int(id) > len(v.Peers) {
		return nil, ErrInvalidProcessID(id)
	}
	return v.Peers[id-1], nil
}

// PIDFromAddr() maps a network source address back to a process id
func (v *ProcessView) PIDFromAddr(addr net.Addr) (ProcessID, bool) {
	var ap netip.AddrPort
	switch a := addr.(type) {
	case *net.UDPAddr:
		ap = a.AddrPort()
	default:
		parsed, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return 0, false
		}
		ap = parsed
	}
	id, ok := v.byAddr[addrKey(ap)]
	return id, ok
}

// Dependencies() returns the processes whose broadcasts affect this process
func (v *ProcessView) Dependencies() []ProcessID {
	if v.AffectedBy != nil {
		return v.AffectedBy
	}
	all := make([]ProcessID, 0, len(v.Peers))
	for _, p := range v.Peers {
		all = append(all, p.ID)
	}
	return all
}

// DependsOn() returns true if broadcasts of process id causally affect this process
func (v *ProcessView) DependsOn(id ProcessID) bool {
	if v.AffectedBy == nil {
		return true
	}
	for _, dep := range v.AffectedBy {
		if dep == id {
			return true
		}
	}
	return false
}

// addrKey() normalizes ipv4-mapped ipv6 addresses so lookups match regardless of socket family
func addrKey(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func parseID(s string, n int) (ProcessID, ErrorI) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 1 || id > n {
		return 0, ErrInvalidMembership(fmt.Sprintf("bad process id %q", s))
	}
	return ProcessID(id), nil
}

func readNonEmptyLines(r io.Reader) (lines []string, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
