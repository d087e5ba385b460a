package config

// generalConfiguration holds process-wide settings.
type generalConfiguration struct {
	DataDir string
}

// loggerConfiguration configures pkg/log.
type loggerConfiguration struct {
	Level  string
	Output string
	Format string
}

// relayConfiguration holds every repeatable udp* config line, stored
// as raw strings: several of these keys
// (udpport, udpmulticast, udpmulticasttx, addudpnode,
// addtrustedudpnode) may appear more than once, one value per
// transmit/receive group or peer, the same shape bitcoind-style
// multi-value options take. Callers parse the typed form with
// ParseUDPPort/ParseUDPMulticastRX/ParseUDPMulticastTX/ParseUDPNode.
type relayConfiguration struct {
	UDPPort           []string
	UDPMulticast      []string
	UDPMulticastTx    []string
	AddUDPNode        []string
	AddTrustedUDPNode []string

	UDPMulticastLogInterval int

	PartialBlockTimeoutSeconds int
	ChecksumMagic              uint64

	StatsAddr string
}
