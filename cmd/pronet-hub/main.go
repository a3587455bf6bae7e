/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Command pronet-hub runs the listening/accepting process: it owns the
// public sockets and routes every accepted client, by serviceId, to
// whichever pronet-host process has registered for it.
package main

import (
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ginsdk "github.com/gin-gonic/gin"
	colorable "github.com/mattn/go-colorable"
	log "github.com/sirupsen/logrus"
	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pronet-go/pronet/admin"
	"github.com/pronet-go/pronet/internal/config"
	fdlimit "github.com/pronet-go/pronet/ioutils/fileDescriptor"
	"github.com/pronet-go/pronet/monitor"
	"github.com/pronet-go/pronet/netio"
	"github.com/pronet-go/pronet/reactor"
	"github.com/pronet-go/pronet/servicehub"
)

func main() {
	log.SetOutput(colorable.NewColorableStdout())

	v := spfvpr.New()
	root := &spfcbr.Command{
		Use:   "pronet-hub",
		Short: "Run the pronet listening/routing process",
		RunE: func(cmd *spfcbr.Command, args []string) error {
			return run(v)
		},
	}

	if err := config.RegisterFlags(root, v); err != nil {
		log.WithError(err).Fatal("failed to register flags")
	}

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("pronet-hub exited with error")
	}
}

type hubStatusAdapter struct {
	hub *servicehub.Hub
	col *monitor.TransportCollector
}

func (a *hubStatusAdapter) Hosts() []admin.HostSummary {
	var out []admin.HostSummary
	for id, pid := range a.hub.SnapshotHosts() {
		out = append(out, admin.HostSummary{ServiceId: id, ProcessId: pid})
	}
	return out
}

func (a *hubStatusAdapter) ActiveTransports() int {
	return int(a.hub.TotalActiveSockets())
}

func run(v *spfvpr.Viper) error {
	cfg, lerr := config.Load(v)
	if lerr != nil {
		log.WithError(lerr).Error("invalid configuration")
		return lerr
	}

	log.WithFields(log.Fields{
		"ioThreads":     cfg.Reactor.IoThreads,
		"ctlSocketPath": cfg.ServiceHub.CtlSocketPath,
	}).Info("starting pronet-hub")

	if cfg.Reactor.MaxFileDescriptors > 0 {
		cur, max, err := fdlimit.SystemFileDescriptor(cfg.Reactor.MaxFileDescriptors)
		if err != nil {
			log.WithError(err).Warn("failed to raise open-file descriptor limit")
		} else {
			log.WithFields(log.Fields{"current": cur, "max": max}).Info("open-file descriptor limit")
		}
	}

	r, lerr := reactor.New()
	if lerr != nil {
		return lerr
	}
	if lerr := r.Start(cfg.Reactor.IoThreads); lerr != nil {
		return lerr
	}
	defer r.Stop()

	col := monitor.NewTransportCollector("pronet")
	hub, lerr := servicehub.NewHub(cfg.ServiceHub.CtlSocketPath, col)
	if lerr != nil {
		return lerr
	}
	hub.Start()
	defer hub.Stop()

	routing := &acceptRouter{hub: hub}
	for i := range cfg.Listeners {
		l := cfg.Listeners[i]
		if l.Kind == "tls" {
			// Built eagerly, before the listener starts accepting, so a bad
			// certificate or root CA is caught at startup instead of on the
			// first connection. The data-plane TLS wrap itself happens once
			// a routed socket reaches its pronet-host.
			tlsCfg, err := l.TlsConfig(l.BindIp)
			if err != nil {
				log.WithError(err).WithField("listener", l.BindIp).Error("invalid tls listener configuration")
				return err
			}
			log.WithField("listener", l.BindIp).WithField("minVersion", tlsCfg.MinVersion).Info("tls listener configuration loaded")
		}
		ip := net.ParseIP(l.BindIp)
		a, err := netio.NewAcceptor(r, ip, l.Port, l.Backlog, routing, l.Extended, 5)
		if err != nil {
			log.WithError(err).WithField("listener", l).Error("failed to start listener")
			return err
		}
		a.Start()
		defer a.Stop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(col)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() { _ = http.ListenAndServe(":9101", mux) }()

	ginsdk.SetMode(ginsdk.ReleaseMode)
	engine := ginsdk.New()
	admin.NewRouter(&hubStatusAdapter{hub: hub, col: col}).Register(engine)
	go func() { _ = engine.Run(cfg.Admin.ListenAddr) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down pronet-hub")
	return nil
}

// acceptRouter hands every accepted client socket to the hub for routing by
// serviceId; raw (non-extended) listeners have no serviceId to route on, so
// OnAccept closes every socket they deliver.
type acceptRouter struct {
	hub *servicehub.Hub
}

func (a *acceptRouter) OnAccept(sock int, remote net.Addr) {
	log.WithField("remote", remote).Warn("raw accept on an extended-only routing path, closing")
	_ = syscall.Close(sock)
}

func (a *acceptRouter) OnAcceptEx(sock int, serviceId uint8, _ uint8, _ [32]byte, remote net.Addr) {
	if lerr := a.hub.RouteAccept(serviceId, sock, remote); lerr != nil {
		log.WithError(lerr).WithField("serviceId", serviceId).Warn("failed to route accepted socket")
	}
}

func (a *acceptRouter) OnAcceptExFailed(sock int, timedOut bool, err error) {
	log.WithField("timedOut", timedOut).WithError(err).Warn("extended handshake failed on accept")
}
