package tipc

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Socket option levels and numbers (SOL_TIPC and its TIPC_* options) are not
// re-derived from golang.org/x/sys/unix: that package only guarantees the
// sockaddr_tipc marshalling types (SockaddrTIPC and friends), not every
// TIPC_* getsockopt/setsockopt constant. The numeric values below are taken
// verbatim from spec.md §6, which in turn mirrors <linux/tipc.h>.
const (
	afTIPC = unix.AF_TIPC
	solTIPC = 271

	optImportance      = 127
	optSrcDroppable    = 128
	optDestDroppable   = 129
	optConnTimeout     = 130
	optNodeRecvqDepth  = 131
	optSockRecvqDepth  = 132
	optMcastBroadcast  = 133
	optMcastReplicast  = 134
	optGroupJoin       = 135
	optGroupLeave      = 136

	groupFlagLoopback   = 1
	groupFlagMemberEvts = 2

	addrTypeServiceRange = 1 // TIPC_SERVICE_RANGE / TIPC_ADDR_NAMESEQ / TIPC_ADDR_MCAST
	addrTypeServiceAddr  = 2 // TIPC_SERVICE_ADDR / TIPC_ADDR_NAME
	addrTypeSocketAddr   = 3 // TIPC_SOCKET_ADDR / TIPC_ADDR_ID

	visibilityZone    = 1
	visibilityCluster = 2
	visibilityNode    = 3
)

// Importance is a per-socket message priority affecting kernel queue
// admission under congestion.
type Importance uint32

const (
	Low Importance = iota
	Medium
	High
	Critical
)

func (i Importance) String() string {
	switch i {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("importance(%d)", uint32(i))
	}
}

// Visibility restricts which peers can discover a binding. Cluster is the
// default. Zone is accepted but newer kernels may collapse it to Cluster.
type Visibility int8

const (
	VisibilityZone    Visibility = visibilityZone
	VisibilityCluster Visibility = visibilityCluster
	VisibilityNode    Visibility = visibilityNode
)

// Scope selects the domain within which the kernel resolves a service name,
// used when connecting or sending.
type Scope struct {
	node uint32 // 0 means Global
}

// Global is the cluster-wide scope.
var Global = Scope{}

// NodeScope restricts resolution to a single node. n must not be 0; passing
// 0 is equivalent to Global.
func NodeScope(n uint32) Scope {
	return Scope{node: n}
}

func (s Scope) IsGlobal() bool { return s.node == 0 }

// Node returns the node identifier for a node-local scope, or 0 for Global.
func (s Scope) Node() uint32 { return s.node }

func (s Scope) domain() uint32 { return s.node }

// NetworkAddr is the 32-bit physical node identifier, partitioned as
// zone(8) | cluster(12) | node(12).
type NetworkAddr uint32

// NewNetworkAddr packs a zone/cluster/node triple into a NetworkAddr. Only
// the low 8, 12, and 12 bits of zone, cluster, and node are significant.
func NewNetworkAddr(zone, cluster, node uint32) NetworkAddr {
	return NetworkAddr((zone&0xff)<<24 | (cluster&0xfff)<<12 | (node & 0xfff))
}

func (a NetworkAddr) Zone() uint32    { return uint32(a) >> 24 & 0xff }
func (a NetworkAddr) Cluster() uint32 { return uint32(a) >> 12 & 0xfff }
func (a NetworkAddr) Node() uint32    { return uint32(a) & 0xfff }

func (a NetworkAddr) String() string {
	return fmt.Sprintf("<%d.%d.%d>", a.Zone(), a.Cluster(), a.Node())
}

// ParseNetworkAddr parses the "<zone.cluster.node>" form produced by
// NetworkAddr.String.
func ParseNetworkAddr(s string) (NetworkAddr, error) {
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")

	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return 0, &AddrParseError{Kind: InvalidType, Input: s}
	}

	var vals [3]uint64
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return 0, &AddrParseError{Kind: InvalidType, Input: s, Cause: err}
		}
		vals[i] = v
	}

	return NewNetworkAddr(uint32(vals[0]), uint32(vals[1]), uint32(vals[2])), nil
}

// SocketAddr references one specific socket in the cluster: (port, node).
// It is only valid for the lifetime of the referenced kernel socket.
type SocketAddr struct {
	Port uint32
	Node uint32
}

func (a SocketAddr) String() string {
	return fmt.Sprintf("0:%010d@%x", a.Port, a.Node)
}

// scope returns the node scope of this socket address's Node (which is
// Global when Node is 0). It does not compare Node with the own node.
func (a SocketAddr) scope() Scope { return NodeScope(a.Node) }

// ParseSocketAddr parses the "0:{port}@{node:x}" textual form.
func ParseSocketAddr(s string) (SocketAddr, error) {
	rest, ok := cutPrefixField(s, ':')
	if !ok {
		return SocketAddr{}, &AddrParseError{Kind: MissingRef, Input: s}
	}

	portStr, nodeStr, ok := strings.Cut(rest, "@")
	if !ok {
		return SocketAddr{}, &AddrParseError{Kind: MissingNode, Input: s}
	}

	port, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return SocketAddr{}, &AddrParseError{Kind: InvalidRef, Input: s, Cause: err}
	}

	node, err := strconv.ParseUint(nodeStr, 16, 32)
	if err != nil {
		return SocketAddr{}, &AddrParseError{Kind: InvalidNode, Input: s, Cause: err}
	}

	return SocketAddr{Port: uint32(port), Node: uint32(node)}, nil
}

// ServiceAddr is a logical endpoint name: a service type and instance.
type ServiceAddr struct {
	Type     uint32
	Instance uint32
}

func (a ServiceAddr) String() string {
	return fmt.Sprintf("%d:%d@0", a.Type, a.Instance)
}

// ParseServiceAddr parses the "{type}:{instance}@0" textual form.
func ParseServiceAddr(s string) (ServiceAddr, error) {
	typeStr, rest, ok := strings.Cut(s, ":")
	if !ok {
		return ServiceAddr{}, &AddrParseError{Kind: MissingInstance, Input: s}
	}

	ty, err := strconv.ParseUint(typeStr, 10, 32)
	if err != nil {
		return ServiceAddr{}, &AddrParseError{Kind: InvalidType, Input: s, Cause: err}
	}

	instStr, _, _ := strings.Cut(rest, "@")

	inst, err := strconv.ParseUint(instStr, 10, 32)
	if err != nil {
		return ServiceAddr{}, &AddrParseError{Kind: InvalidInstance, Input: s, Cause: err}
	}

	return ServiceAddr{Type: uint32(ty), Instance: uint32(inst)}, nil
}

// ServiceRange represents a closed interval of instances of the same
// service type, used for binding or multicast. lower must be <= upper.
type ServiceRange struct {
	Type  uint32
	Lower uint32
	Upper uint32
}

// NewServiceAddr is syntactic sugar for the degenerate range
// lower == upper == instance.
func NewServiceAddr(ty, instance uint32) ServiceAddr {
	return ServiceAddr{Type: ty, Instance: instance}
}

// Range converts a ServiceAddr to its degenerate ServiceRange.
func (a ServiceAddr) Range() ServiceRange {
	return ServiceRange{Type: a.Type, Lower: a.Instance, Upper: a.Instance}
}

// ServiceRangeFull returns the full instance interval [0, 2^32-1] for ty,
// the binding denoted by a bare type in spec.md §4.A.
func ServiceRangeFull(ty uint32) ServiceRange {
	return ServiceRange{Type: ty, Lower: 0, Upper: ^uint32(0)}
}

// ServiceRangeFrom returns [lower, 2^32-1].
func ServiceRangeFrom(ty, lower uint32) ServiceRange {
	return ServiceRange{Type: ty, Lower: lower, Upper: ^uint32(0)}
}

// ServiceRangeTo returns [0, upper].
func ServiceRangeTo(ty, upper uint32) ServiceRange {
	return ServiceRange{Type: ty, Lower: 0, Upper: upper}
}

func (r ServiceRange) String() string {
	return fmt.Sprintf("%d:%d:%d@0", r.Type, r.Lower, r.Upper)
}

// ParseServiceRange parses the "{type}:{lower}:{upper}@0" textual form.
func ParseServiceRange(s string) (ServiceRange, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return ServiceRange{}, &AddrParseError{Kind: MissingInstance, Input: s}
	}

	ty, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return ServiceRange{}, &AddrParseError{Kind: InvalidType, Input: s, Cause: err}
	}

	lower, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return ServiceRange{}, &AddrParseError{Kind: InvalidInstance, Input: s, Cause: err}
	}

	upperStr, _, _ := strings.Cut(parts[2], "@")

	upper, err := strconv.ParseUint(upperStr, 10, 32)
	if err != nil {
		return ServiceRange{}, &AddrParseError{Kind: InvalidInstance, Input: s, Cause: err}
	}

	return ServiceRange{Type: uint32(ty), Lower: uint32(lower), Upper: uint32(upper)}, nil
}

func cutPrefixField(s string, sep byte) (string, bool) {
	i := strings.IndexByte(s, sep)
	if i < 0 {
		return "", false
	}
	return s[i+1:], true
}

// sockaddrForSocket, sockaddrForService and sockaddrForRange marshal a
// logical address into the kernel sockaddr_tipc
// union, via golang.org/x/sys/unix's SockaddrTIPC family (the same types
// the teacher's topology.go uses). visibility/scope, when meaningful, must
// be applied by the caller afterwards (bind sets Scope to a Visibility;
// connect sets the name's Domain to a Scope).
func sockaddrForSocket(a SocketAddr) *unix.SockaddrTIPC {
	return &unix.SockaddrTIPC{
		Addr: &unix.SockaddrTIPCAddrID{
			AddrID: unix.TIPCSocketAddr{Ref: a.Port, Node: a.Node},
		},
	}
}

func sockaddrForService(a ServiceAddr) *unix.SockaddrTIPC {
	return &unix.SockaddrTIPC{
		Addr: &unix.SockaddrTIPCAddrName{
			Name: unix.TIPCServiceAddr{Type: a.Type, Instance: a.Instance},
		},
	}
}

func sockaddrForRange(r ServiceRange) *unix.SockaddrTIPC {
	return &unix.SockaddrTIPC{
		Addr: &unix.SockaddrTIPCAddrNameSeq{
			NameSeq: unix.TIPCServiceRange{Type: r.Type, Lower: r.Lower, Upper: r.Upper},
		},
	}
}
