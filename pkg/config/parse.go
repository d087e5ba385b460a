package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// UDPPortConfig is one parsed udpport=<port,group,mbps> line: a local
// listening port belonging to a rate-limited transmit group.
type UDPPortConfig struct {
	Port  string
	Group string
	Mbps  float64
}

// ParseUDPPort parses one udpport= value.
func ParseUDPPort(s string) (UDPPortConfig, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return UDPPortConfig{}, errors.Errorf("config: malformed udpport %q, want 3 fields got %d", s, len(parts))
	}
	mbps, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return UDPPortConfig{}, errors.Wrapf(err, "config: invalid mbps in udpport %q", s)
	}
	return UDPPortConfig{
		Port:  strings.TrimSpace(parts[0]),
		Group: strings.TrimSpace(parts[1]),
		Mbps:  mbps,
	}, nil
}

// UDPMulticastRXConfig is one parsed
// udpmulticast=<iface,mcastip:port,txip,trusted,label> line: a
// multicast group this process joins to receive FEC-coded traffic.
type UDPMulticastRXConfig struct {
	Iface     string
	McastAddr string
	TxIP      string
	Trusted   bool
	Label     string
}

// ParseUDPMulticastRX parses one udpmulticast= value. The label field
// may itself contain commas (free text), so only the first four fields
// are split strictly.
func ParseUDPMulticastRX(s string) (UDPMulticastRXConfig, error) {
	parts := strings.SplitN(s, ",", 5)
	if len(parts) != 5 {
		return UDPMulticastRXConfig{}, errors.Errorf("config: malformed udpmulticast %q, want 5 fields got %d", s, len(parts))
	}
	trusted, err := strconv.ParseBool(strings.TrimSpace(parts[3]))
	if err != nil {
		return UDPMulticastRXConfig{}, errors.Wrapf(err, "config: invalid trusted flag in udpmulticast %q", s)
	}
	return UDPMulticastRXConfig{
		Iface:     strings.TrimSpace(parts[0]),
		McastAddr: strings.TrimSpace(parts[1]),
		TxIP:      strings.TrimSpace(parts[2]),
		Trusted:   trusted,
		Label:     strings.TrimSpace(parts[4]),
	}, nil
}

// UDPMulticastTXConfig is one parsed udpmulticasttx=<iface,mcastip:port,
// bps,txn_per_sec,ttl,depth,offset,dscp,interleave> line: a transmit
// group's socket, rate limits, and FEC/interleave parameters.
type UDPMulticastTXConfig struct {
	Iface          string
	McastAddr      string
	Bps            uint64
	TxnPerSec      uint32
	TTL            int
	Depth          uint64
	Offset         uint64
	DSCP           int
	InterleaveSize int
}

// ParseUDPMulticastTX parses one udpmulticasttx= value.
func ParseUDPMulticastTX(s string) (UDPMulticastTXConfig, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 9 {
		return UDPMulticastTXConfig{}, errors.Errorf("config: malformed udpmulticasttx %q, want 9 fields got %d", s, len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	var cfg UDPMulticastTXConfig
	cfg.Iface = parts[0]
	cfg.McastAddr = parts[1]

	var err error
	if cfg.Bps, err = strconv.ParseUint(parts[2], 10, 64); err != nil {
		return cfg, errors.Wrapf(err, "config: invalid bps in udpmulticasttx %q", s)
	}
	txnPerSec, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return cfg, errors.Wrapf(err, "config: invalid txn_per_sec in udpmulticasttx %q", s)
	}
	cfg.TxnPerSec = uint32(txnPerSec)
	if cfg.TTL, err = strconv.Atoi(parts[4]); err != nil {
		return cfg, errors.Wrapf(err, "config: invalid ttl in udpmulticasttx %q", s)
	}
	if cfg.Depth, err = strconv.ParseUint(parts[5], 10, 64); err != nil {
		return cfg, errors.Wrapf(err, "config: invalid depth in udpmulticasttx %q", s)
	}
	if cfg.Offset, err = strconv.ParseUint(parts[6], 10, 64); err != nil {
		return cfg, errors.Wrapf(err, "config: invalid offset in udpmulticasttx %q", s)
	}
	if cfg.DSCP, err = strconv.Atoi(parts[7]); err != nil {
		return cfg, errors.Wrapf(err, "config: invalid dscp in udpmulticasttx %q", s)
	}
	if cfg.InterleaveSize, err = strconv.Atoi(parts[8]); err != nil {
		return cfg, errors.Wrapf(err, "config: invalid interleave in udpmulticasttx %q", s)
	}
	return cfg, nil
}

// UDPNodeConfig is one parsed addudpnode=<ip:port,local_pass,
// remote_pass[,group]> or addtrustedudpnode= line: a unicast relay
// peer and its shared authentication passphrases.
type UDPNodeConfig struct {
	Addr       string
	LocalPass  string
	RemotePass string
	Group      string
	Trusted    bool
}

// ParseUDPNode parses one addudpnode=/addtrustedudpnode= value; trusted
// records which key the line was read from, since the two keys differ
// only in the resulting peer's trust flag.
func ParseUDPNode(s string, trusted bool) (UDPNodeConfig, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 && len(parts) != 4 {
		return UDPNodeConfig{}, errors.Errorf("config: malformed udpnode %q, want 3 or 4 fields got %d", s, len(parts))
	}
	cfg := UDPNodeConfig{
		Addr:       strings.TrimSpace(parts[0]),
		LocalPass:  strings.TrimSpace(parts[1]),
		RemotePass: strings.TrimSpace(parts[2]),
		Trusted:    trusted,
	}
	if len(parts) == 4 {
		cfg.Group = strings.TrimSpace(parts[3])
	}
	return cfg, nil
}
