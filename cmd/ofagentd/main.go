// Command ofagentd is the thinnest possible composition root for the
// agent core: it wires a logger and an agent, then runs until
// signaled. It registers no datapath itself.
//
// ofagentd takes no configuration file and no datastore; that wiring
// is left to whatever embeds package agent.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netrack/ofagent/agent"
	"github.com/netrack/ofagent/channel"
)

func main() {
	var (
		bridge       = flag.String("bridge", "br0", "bridge name new controller connections are deduplicated under")
		dpid         = flag.Uint64("dpid", 1, "datapath id this agent serves")
		listen       = flag.String("listen", fmt.Sprintf(":%d", agent.DefaultPort), "address to listen on for controller connections")
		legacyListen = flag.String("legacy-listen", fmt.Sprintf(":%d", agent.LegacyPort), "additional address to listen on for pre-6653 controllers (empty to disable)")
		tlsCert      = flag.String("tls-cert", "", "PEM certificate file; enables TLS when set together with -tls-key")
		tlsKey       = flag.String("tls-key", "", "PEM key file; enables TLS when set together with -tls-cert")
		logLevel     = flag.String("log-level", "info", "logrus level: debug, info, warn, error")
	)
	flag.Parse()

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.WithError(err).Fatal("ofagentd: invalid -log-level")
	}
	log.SetLevel(level)
	entry := logrus.NewEntry(log)

	var tlsConfig *tls.Config
	transport := channel.TCP
	if *tlsCert != "" || *tlsKey != "" {
		cert, err := tls.LoadX509KeyPair(*tlsCert, *tlsKey)
		if err != nil {
			entry.WithError(err).Fatal("ofagentd: failed to load TLS certificate")
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		transport = channel.TLS
	}

	a := agent.New(*bridge, entry)

	if err := a.Listen(*dpid, transport, *listen, tlsConfig); err != nil {
		entry.WithError(err).Fatal("ofagentd: failed to listen")
	}
	if addr := strings.TrimSpace(*legacyListen); addr != "" {
		if err := a.Listen(*dpid, transport, addr, tlsConfig); err != nil {
			entry.WithError(err).Fatal("ofagentd: failed to listen on legacy address")
		}
	}

	entry.WithFields(logrus.Fields{
		"bridge": *bridge,
		"dpid":   strconv.FormatUint(*dpid, 10),
		"addrs":  addrStrings(a),
	}).Info("ofagentd: starting")

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		cancel()
		entry.WithError(err).Fatal("ofagentd: failed to start")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	<-sig
	entry.Info("ofagentd: shutdown signal received, draining")
	a.Shutdown(true)

	select {
	case <-a.DispatchDone():
	case <-time.After(10 * time.Second):
		entry.Warn("ofagentd: graceful drain timed out, forcing shutdown")
		a.Shutdown(false)
	}

	cancel()
	if err := a.Stop(); err != nil {
		entry.WithError(err).Error("ofagentd: error during shutdown")
	}
	a.Finalize()
}

func addrStrings(a *agent.Agent) []string {
	addrs := a.Addrs()
	out := make([]string, len(addrs))
	for i, addr := range addrs {
		out[i] = addr.String()
	}
	return out
}
