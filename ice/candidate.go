package ice

import (
	"encoding/base32"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CandidateType classifies how a Candidate's address was discovered.
type CandidateType int

const (
	Host CandidateType = iota
	ServerReflexive
	PeerReflexive
	Relayed
)

func (t CandidateType) String() string {
	switch t {
	case Host:
		return "host"
	case ServerReflexive:
		return "srflx"
	case PeerReflexive:
		return "prflx"
	case Relayed:
		return "relay"
	default:
		return "unknown"
	}
}

func parseCandidateType(s string) (CandidateType, error) {
	switch s {
	case "host":
		return Host, nil
	case "srflx":
		return ServerReflexive, nil
	case "prflx":
		return PeerReflexive, nil
	case "relay":
		return Relayed, nil
	default:
		return 0, errors.Errorf("ice: unknown candidate type %q", s)
	}
}

// Candidate is a transport address usable by the agent, together with the
// bookkeeping the check-list engine needs to form pairs and compute
// priority. Both local and remote candidates share this representation;
// Base is only meaningful (and non-zero) for local candidates.
type Candidate struct {
	Address    TransportAddress
	Type       CandidateType
	Base       TransportAddress // self for Host candidates
	Priority   uint32
	Foundation string
	Component  int
	TCPType    string // optional, e.g. "active"/"passive"/"so"

	extensions []candidateAttribute
}

type candidateAttribute struct {
	name  string
	value string
}

func (c *Candidate) addExtension(name, value string) {
	c.extensions = append(c.extensions, candidateAttribute{name, value})
}

func (c Candidate) IsReflexive() bool {
	return c.Type == ServerReflexive || c.Type == PeerReflexive
}

// PeerReflexivePriority computes the priority this candidate would have if
// the peer learned it via a connectivity check, for use when constructing
// outgoing PRIORITY attributes.
func (c Candidate) PeerReflexivePriority() uint32 {
	return computePriority(PeerReflexive, c.Component)
}

// NewHostCandidate builds a Host candidate whose base is itself.
func NewHostCandidate(addr TransportAddress, component int) Candidate {
	return Candidate{
		Address:    addr,
		Type:       Host,
		Base:       addr,
		Priority:   computePriority(Host, component),
		Foundation: computeFoundation(Host, addr, ""),
		Component:  component,
	}
}

// NewServerReflexiveCandidate builds a server-reflexive candidate learned
// from a STUN Binding Request/Response exchange with stunServer.
func NewServerReflexiveCandidate(mapped TransportAddress, base TransportAddress, component int, stunServer string) Candidate {
	c := Candidate{
		Address:    mapped,
		Type:       ServerReflexive,
		Base:       base,
		Priority:   computePriority(ServerReflexive, component),
		Foundation: computeFoundation(ServerReflexive, base, stunServer),
		Component:  component,
	}
	// RFC 8445 §5.1.1 recommends raddr/rport for SDP interop with peers that
	// still expect the legacy (RFC 5245) attributes.
	c.addExtension("raddr", "0.0.0.0")
	c.addExtension("rport", "0")
	return c
}

// NewPeerReflexiveCandidate builds a peer-reflexive candidate learned during
// a connectivity check: its base is the local candidate bound to the
// address the check arrived on.
func NewPeerReflexiveCandidate(addr TransportAddress, base TransportAddress, component int, priority uint32) Candidate {
	c := Candidate{
		Address:    addr,
		Type:       PeerReflexive,
		Base:       base,
		Priority:   priority,
		Foundation: computeFoundation(PeerReflexive, addr, ""),
		Component:  component,
	}
	c.addExtension("raddr", "0.0.0.0")
	c.addExtension("rport", "0")
	return c
}

// NewRelayedCandidate builds a candidate for a TURN-allocated relayed
// transport address.
func NewRelayedCandidate(relayed TransportAddress, base TransportAddress, component int, turnServer string) Candidate {
	return Candidate{
		Address:    relayed,
		Type:       Relayed,
		Base:       base,
		Priority:   computePriority(Relayed, component),
		Foundation: computeFoundation(Relayed, base, turnServer),
		Component:  component,
	}
}

// computePriority implements the RFC 8445 §5.1.2 candidate priority
// formula: (2^24)*type_pref + (2^8)*local_pref + (256 - component_id).
func computePriority(typ CandidateType, component int) uint32 {
	var typePref int
	switch typ {
	case Host:
		typePref = 126
	case ServerReflexive, PeerReflexive:
		typePref = 110
	case Relayed:
		typePref = 0
	default:
		panic("ice: illegal candidate type")
	}

	const localPref = 65535 // single interface per base; no multihoming preference to rank.

	return uint32((typePref << 24) + (localPref << 8) + (256 - component))
}

// computeFoundation implements RFC 8445 §5.1.1.3: candidates of the same
// type, from the same base, using the same protocol, and learned (if at
// all) from the same STUN/TURN server, share a foundation.
func computeFoundation(typ CandidateType, base TransportAddress, server string) string {
	fingerprint := fmt.Sprintf("%s/%s/%s", typ, base.protocol, base.ip)
	if server != "" {
		fingerprint += "/" + server
	}
	hash := fnv.New64()
	hash.Write([]byte(fingerprint))
	return base32.StdEncoding.EncodeToString(hash.Sum(nil))[0:8]
}

func (c Candidate) sdpString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "candidate:%s %d %s %d %s %d typ %s",
		c.Foundation, c.Component, c.Address.protocol, c.Priority,
		c.Address.displayIP(), c.Address.port, c.Type)
	if c.TCPType != "" {
		fmt.Fprintf(&b, " tcptype %s", c.TCPType)
	}
	for _, a := range c.extensions {
		fmt.Fprintf(&b, " %s %s", a.name, a.value)
	}
	return b.String()
}

func (c Candidate) String() string { return c.sdpString() }

// ParseCandidateSDP parses an ICE candidate attribute line of the form:
//
//	candidate:{foundation} {component-id} {protocol} {priority} {address} {port} typ {type} ...
func ParseCandidateSDP(line string) (Candidate, error) {
	fields := strings.Fields(strings.TrimPrefix(line, "a="))
	if len(fields) < 8 || !strings.HasPrefix(fields[0], "candidate:") {
		return Candidate{}, errors.Errorf("ice: malformed candidate line: %q", line)
	}

	c := Candidate{Foundation: strings.TrimPrefix(fields[0], "candidate:")}

	component, err := strconv.Atoi(fields[1])
	if err != nil {
		return Candidate{}, errors.Wrap(err, "ice: bad component id")
	}
	if component < 1 || component > 256 {
		return Candidate{}, errors.Errorf("ice: component id out of range: %d", component)
	}
	c.Component = component

	protocol := Protocol(strings.ToLower(fields[2])).normalize()

	priority, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return Candidate{}, errors.Wrap(err, "ice: bad priority")
	}
	c.Priority = uint32(priority)

	port, err := strconv.Atoi(fields[5])
	if err != nil {
		return Candidate{}, errors.Wrap(err, "ice: bad port")
	}

	addr, err := resolveTransportAddress(protocol, fields[4], port)
	if err != nil {
		return Candidate{}, err
	}
	c.Address = addr
	c.Base = addr

	if fields[6] != "typ" {
		return Candidate{}, errors.Errorf("ice: expected \"typ\", got %q", fields[6])
	}
	typ, err := parseCandidateType(fields[7])
	if err != nil {
		return Candidate{}, err
	}
	c.Type = typ

	rest := fields[8:]
	for i := 0; i+1 < len(rest); i += 2 {
		switch rest[i] {
		case "tcptype":
			c.TCPType = rest[i+1]
		default:
			c.addExtension(rest[i], rest[i+1])
		}
	}

	return c, nil
}
