package main

import (
	"encoding/hex"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/kvmesh/kvmesh/config"
	"github.com/kvmesh/kvmesh/engine"
	"github.com/kvmesh/kvmesh/proto/protoa"
	"github.com/kvmesh/kvmesh/proto/protob"
	"github.com/kvmesh/kvmesh/proxyconn"
	"github.com/kvmesh/kvmesh/routing"
	"github.com/kvmesh/kvmesh/stats"
)

func main() {
	var opts = new(config.Options)
	var parser = flags.NewParser(opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		log.WithError(err).Fatal("failed to parse arguments")
	}

	configureLog(opts.Log)

	var eng = engine.New(engine.Options{
		SegmentCap: opts.Pool.SegmentBytes,
		SoftCeil:   opts.Pool.SoftCeiling,
		HardCeil:   opts.Pool.HardCeiling,
		Timeout:    opts.Pool.Timeout,
	}, log.WithField("component", "engine"))

	if opts.Metrics.Addr != "" {
		var reg = prometheus.NewRegistry()
		eng.SetSink(stats.New(reg))
		go serveMetrics(opts.Metrics.Addr, reg)
	}

	var ring = routing.New(opts.Listen.Backends)
	_ = ring // consulted by the routing hop of the event loop (external collaborator)

	var aesKey []byte
	if opts.AES.Key != "" {
		var k, err = hex.DecodeString(opts.AES.Key)
		if err != nil {
			log.WithError(err).Fatal("invalid --aes.key")
		}
		aesKey = k
	}

	var clientLn, err = net.Listen("tcp", opts.Listen.ClientAddr)
	if err != nil {
		log.WithError(err).Fatal("failed to bind client-plane listener")
	}
	var peerLn net.Listener
	if peerLn, err = net.Listen("tcp", opts.Listen.PeerAddr); err != nil {
		log.WithError(err).Fatal("failed to bind replication-plane listener")
	}

	log.WithFields(log.Fields{
		"client_addr": opts.Listen.ClientAddr,
		"peer_addr":   opts.Listen.PeerAddr,
		"backends":    opts.Listen.Backends,
	}).Info("proxy listening")

	go acceptLoop(clientLn, eng, engine.FamilyA, false, nil, opts.Pool.Timeout)
	go acceptLoop(peerLn, eng, engine.FamilyB, true, aesKey, opts.Pool.Timeout)

	select {}
}

// serveMetrics exposes addr's /metrics endpoint against reg, blocking for
// the lifetime of the process; a failure here is logged but never fatal --
// losing metrics is not a reason to stop proxying traffic.
func serveMetrics(addr string, reg *prometheus.Registry) {
	var mux = http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Warn("metrics listener exited")
	}
}

func configureLog(opts config.LogOptions) {
	if opts.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if lvl, err := log.ParseLevel(opts.Level); err == nil {
		log.SetLevel(lvl)
	}
}

// acceptLoop is the minimal connection-accept wiring demonstrating how a
// full event loop drives the engine; load balancing across many such loops,
// epoll-style readiness multiplexing, and graceful shutdown belong to the
// event-loop/server topology this module treats as an external
// collaborator.
func acceptLoop(ln net.Listener, eng *engine.Engine, family engine.Family, dynMode bool, aesKey []byte, timeout time.Duration) {
	for {
		var nc, err = ln.Accept()
		if err != nil {
			log.WithError(err).Warn("accept failed")
			continue
		}
		var entry = log.WithField("remote", nc.RemoteAddr().String())
		var conn = proxyconn.New(nc, eng.Pool, family, dynMode, aesKey, timeout, entry)
		go driveConn(eng, conn, family)
	}
}

func driveConn(eng *engine.Engine, conn *proxyconn.Conn, family engine.Family) {
	defer conn.Close()

	for conn.Err() == nil {
		var msg = conn.RecvNext(true)
		if msg == nil {
			eng.Log.Warn("message pool exhausted, dropping connection")
			return
		}
		msg.SetProtocol(requestProtocol(family))

		// engine.Recv drives msg (and, in the same call, any fragmentation
		// sibling or pipelined follow-on command already sitting in the
		// buffer) to completion and signals recv_done across the whole
		// chain itself; it returns the subset that finished parsing.
		var done, err = engine.Recv(eng.Pool, msg, eng.Log)
		if err != nil {
			if engine.IsTransient(err) {
				continue
			}
			// Parse errors on the client plane get a synthesized error
			// frame before the connection is torn down (spec 7, taxonomy
			// item 4); replication-plane peers are simply disconnected --
			// the engine already counted the failure via stats.Sink.
			if !conn.DynMode() {
				var frame = engine.FormatError(family, err, nil)
				conn.Sendv([][]byte{[]byte(frame)})
			}
			conn.SetErr(err)
			return
		}

		for _, m := range done {
			eng.Arm(m)
		}
	}
}

func requestProtocol(family engine.Family) engine.Protocol {
	if family == engine.FamilyA {
		return protoa.New(protoa.RoleRequest)
	}
	return protob.New(protob.RoleRequest)
}
