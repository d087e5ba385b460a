package config

import "github.com/pkg/errors"

// Resolved is the fully parsed, typed form of Registry.Relay, built by
// Resolve. Callers in cmd/satellite-relay wire sockets and goroutines
// off this rather than re-parsing raw config strings themselves.
type Resolved struct {
	Ports       []UDPPortConfig
	RXGroups    []UDPMulticastRXConfig
	TXGroups    []UDPMulticastTXConfig
	Peers       []UDPNodeConfig
	LogInterval int
}

// Resolve parses every raw relay.* config line in reg, returning a
// wrapped error naming the first line that fails to parse.
func Resolve(reg *Registry) (Resolved, error) {
	var out Resolved
	out.LogInterval = reg.Relay.UDPMulticastLogInterval

	for _, line := range reg.Relay.UDPPort {
		p, err := ParseUDPPort(line)
		if err != nil {
			return out, errors.Wrap(err, "config: resolve udpport")
		}
		out.Ports = append(out.Ports, p)
	}

	for _, line := range reg.Relay.UDPMulticast {
		rx, err := ParseUDPMulticastRX(line)
		if err != nil {
			return out, errors.Wrap(err, "config: resolve udpmulticast")
		}
		out.RXGroups = append(out.RXGroups, rx)
	}

	for _, line := range reg.Relay.UDPMulticastTx {
		tx, err := ParseUDPMulticastTX(line)
		if err != nil {
			return out, errors.Wrap(err, "config: resolve udpmulticasttx")
		}
		out.TXGroups = append(out.TXGroups, tx)
	}

	for _, line := range reg.Relay.AddUDPNode {
		n, err := ParseUDPNode(line, false)
		if err != nil {
			return out, errors.Wrap(err, "config: resolve addudpnode")
		}
		out.Peers = append(out.Peers, n)
	}

	for _, line := range reg.Relay.AddTrustedUDPNode {
		n, err := ParseUDPNode(line, true)
		if err != nil {
			return out, errors.Wrap(err, "config: resolve addtrustedudpnode")
		}
		out.Peers = append(out.Peers, n)
	}

	return out, nil
}
