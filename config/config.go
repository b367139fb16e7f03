// Package config declares the proxy's command-line option groups and loads
// them with go-flags, matching the teacher's CLI scaffolding.
package config

import (
	"time"

	"github.com/jessevdk/go-flags"
)

// Options is the full set of flags cmd/proxy accepts.
type Options struct {
	Listen  ListenOptions  `group:"Listen" namespace:"listen"`
	Log     LogOptions     `group:"Log" namespace:"log"`
	Pool    PoolOptions    `group:"Pool" namespace:"pool"`
	AES     AESOptions     `group:"AES" namespace:"aes"`
	Metrics MetricsOptions `group:"Metrics" namespace:"metrics"`
}

type ListenOptions struct {
	ClientAddr string   `long:"client-addr" default:":8102" description:"address the client-plane listener binds"`
	PeerAddr   string   `long:"peer-addr" default:":8103" description:"address the replication-plane listener binds"`
	Backends   []string `long:"backend" description:"backend address (repeatable)"`
}

type LogOptions struct {
	Level string `long:"level" default:"info" description:"log level: debug, info, warn, error"`
	JSON  bool   `long:"json" description:"emit structured JSON logs instead of text"`
}

type PoolOptions struct {
	SegmentBytes int           `long:"segment-bytes" default:"16384" description:"byte capacity of one buffer segment"`
	SoftCeiling  int           `long:"soft-ceiling" default:"8192" description:"soft ceiling on live Msg shells per loop"`
	HardCeiling  int           `long:"hard-ceiling" default:"16384" description:"hard ceiling on live Msg shells per loop"`
	Timeout      time.Duration `long:"timeout" default:"750ms" description:"per-request deadline recorded in the timeout index"`
}

type AESOptions struct {
	Key string `long:"key" description:"hex-encoded AES key for replication-plane envelopes; empty disables encryption"`
}

type MetricsOptions struct {
	Addr string `long:"addr" default:":9102" description:"address the Prometheus /metrics endpoint binds; empty disables it"`
}

// Parse parses os.Args-style arguments (excluding argv[0]) into Options.
func Parse(args []string) (*Options, error) {
	var opts Options
	var parser = flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return &opts, nil
}
