// Package config loads satellite-relay's configuration: the general
// and logger settings plus the repeatable udp* relay lines, with
// flag > env > config file > default precedence, a package-level
// Registry singleton reached through Load/Get, and Mock for tests.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	searchPathCwd  = "."
	searchPathHome = "$HOME/.satellite-relay"
	configFileName = "satellite-relay"
)

// Registry is the top-level configuration tree.
type Registry struct {
	UsedConfigFile string

	General generalConfiguration
	Logger  loggerConfiguration
	Relay   relayConfiguration
}

var r *Registry

// Load reads configuration from flags, environment, and config file
// (in that precedence order) into the package-level Registry.
func Load() error {
	r = new(Registry)
	return r.init()
}

// Get returns a copy of the currently loaded Registry.
func Get() Registry {
	return *r
}

// Mock replaces the package-level Registry outright. Test-only.
func Mock(m *Registry) {
	r = m
}

func (r *Registry) init() error {
	viper.SetConfigName(configFileName)
	viper.AddConfigPath(searchPathCwd)
	viper.AddConfigPath(searchPathHome)

	confFile, err := loadFlags()
	if err != nil {
		return err
	}
	if len(confFile) > 0 {
		viper.SetConfigFile(confFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: error reading config file: %w", err)
		}
	}

	defineENV()

	if err := viper.Unmarshal(r); err != nil {
		return fmt.Errorf("config: unable to decode into struct: %w", err)
	}

	r.UsedConfigFile = viper.ConfigFileUsed()
	return nil
}

func loadFlags() (string, error) {
	pflag.CommandLine.Init("satellite-relay", pflag.ExitOnError)
	pflag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of satellite-relay:\n")
		pflag.PrintDefaults()
	}

	defineFlags()
	configFile := pflag.String("config", "", "path to the config file")

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		return "", fmt.Errorf("config: unable to bind pflags: %w", err)
	}

	pflag.Parse()
	return *configFile, nil
}

func defineFlags() {
	_ = pflag.StringP("general.datadir", "d", ".", "data directory for partial blocks and the peer store")
	_ = pflag.StringP("logger.level", "l", "info", "log level")

	_ = pflag.StringSlice("relay.udpport", nil, "udpport=<port,group,mbps>")
	_ = pflag.StringSlice("relay.udpmulticast", nil, "udpmulticast=<iface,mcastip:port,txip,trusted,label>")
	_ = pflag.StringSlice("relay.udpmulticasttx", nil, "udpmulticasttx=<iface,mcastip:port,bps,txn_per_sec,ttl,depth,offset,dscp,interleave>")
	_ = pflag.StringSlice("relay.addudpnode", nil, "addudpnode=<ip:port,local_pass,remote_pass[,group]>")
	_ = pflag.StringSlice("relay.addtrustedudpnode", nil, "addtrustedudpnode=<ip:port,local_pass,remote_pass[,group]>")
	_ = pflag.Int("relay.udpmulticastloginterval", 60, "stats log cadence in seconds")
	_ = pflag.Int("relay.partialblocktimeoutseconds", 900, "partial block eviction timeout in seconds")
	_ = pflag.Uint64("relay.checksummagic", 0, "8-byte magic seeding the wire authentication key")
	_ = pflag.String("relay.statsaddr", ":9090", "listen address for the stats/health HTTP surface")
}

func defineENV() {
	bind := func(key, env string) {
		if err := viper.BindEnv(key, env); err != nil {
			fmt.Fprintf(os.Stderr, "config: defineENV %s: %v\n", key, err)
		}
	}
	bind("general.datadir", "SATRELAY_DATADIR")
	bind("logger.level", "SATRELAY_LOGGER_LEVEL")
	bind("relay.checksummagic", "SATRELAY_CHECKSUM_MAGIC")
}

func init() {
	r = new(Registry)
	r.General.DataDir = "."
	r.Logger.Level = "info"
	r.Logger.Format = "text"
	r.Relay.UDPMulticastLogInterval = 60
	r.Relay.PartialBlockTimeoutSeconds = 900
	r.Relay.StatsAddr = ":9090"
}
