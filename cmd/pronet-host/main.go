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

// Command pronet-host runs a worker process: it registers with a
// pronet-hub's control channel for one serviceId and receives every client
// socket the hub routes to it.
package main

import (
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	colorable "github.com/mattn/go-colorable"
	log "github.com/sirupsen/logrus"
	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	liberr "github.com/pronet-go/pronet/errors"
	"github.com/pronet-go/pronet/internal/config"
	fdlimit "github.com/pronet-go/pronet/ioutils/fileDescriptor"
	"github.com/pronet-go/pronet/monitor"
	"github.com/pronet-go/pronet/reactor"
	"github.com/pronet-go/pronet/servicehub"
	"github.com/pronet-go/pronet/transport"
)

func main() {
	log.SetOutput(colorable.NewColorableStdout())

	v := spfvpr.New()
	root := &spfcbr.Command{
		Use:   "pronet-host",
		Short: "Register with a pronet-hub and process the sockets it routes here",
		RunE: func(cmd *spfcbr.Command, args []string) error {
			return run(v)
		},
	}

	if err := config.RegisterFlags(root, v); err != nil {
		log.WithError(err).Fatal("failed to register flags")
	}

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("pronet-host exited with error")
	}
}

func run(v *spfvpr.Viper) error {
	cfg, lerr := config.Load(v)
	if lerr != nil {
		log.WithError(lerr).Error("invalid configuration")
		return lerr
	}

	log.WithFields(log.Fields{
		"serviceId":     cfg.ServiceHub.ServiceId,
		"ctlSocketPath": cfg.ServiceHub.CtlSocketPath,
	}).Info("starting pronet-host")

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

	col := monitor.NewTransportCollector("pronet_host")
	sink := &socketSink{r: r, col: col}
	host := servicehub.NewHost(cfg.ServiceHub.CtlSocketPath, cfg.ServiceHub.ServiceId, uint64(os.Getpid()), sink)
	host.Start()
	defer host.Stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(col)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() { _ = http.ListenAndServe(":9102", mux) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down pronet-host")
	return nil
}

// socketSink registers every socket the hub routes here as a plain
// reactor-driven TCP transport, counted for the next heartbeat's advertised
// load.
type socketSink struct {
	r       *reactor.Reactor
	col     *monitor.TransportCollector
	current atomic.Int64
}

func (s *socketSink) OnSocketReceived(fd int, remoteAddr string) {
	s.current.Add(1)
	log.WithField("remote", remoteAddr).Debug("received routed client socket")
	s.col.Add(fd, monitor.TransportEntry{Kind: "tcp"})
	t := transport.NewTcp(s.r, fd, &droppingObserver{s: s}, false)
	t.Init()
}

func (s *socketSink) OnHubDisconnected(err error) {
	log.WithError(err).Warn("lost connection to hub, will retry")
}

func (s *socketSink) CurrentSocketCount() uint64 {
	return uint64(s.current.Load())
}

// droppingObserver is the placeholder session handler for a routed socket
// until the call site wires in the actual RTP/session logic. It still keeps
// the monitor collector's byte counters current, since those read straight
// off the transport's own cumulative counters regardless of who consumes
// the data.
type droppingObserver struct {
	s *socketSink

	mu        sync.Mutex
	lastSent  uint64
	lastRecv  uint64
}

func (o *droppingObserver) reportBytes(t transport.Transport) {
	sent, recv := t.BytesSent(), t.BytesRecv()
	o.mu.Lock()
	dSent, dRecv := sent-o.lastSent, recv-o.lastRecv
	o.lastSent, o.lastRecv = sent, recv
	o.mu.Unlock()
	if dSent > 0 || dRecv > 0 {
		o.s.col.AddBytes(t.Fd(), dSent, dRecv)
	}
}

func (o *droppingObserver) OnRecv(t transport.Transport, _ net.Addr)        { o.reportBytes(t) }
func (droppingObserver) OnRecvFd(transport.Transport, int, net.Addr)       {}
func (o *droppingObserver) OnSend(t transport.Transport, _ uint64)         { o.reportBytes(t) }
func (o *droppingObserver) OnClose(t transport.Transport, err liberr.Error) {
	o.s.current.Add(-1)
	o.s.col.Remove(t.Fd())
	if err != nil {
		log.WithError(err).WithField("fd", t.Fd()).WithField("code", err.GetCode()).Warn("routed socket closed with error")
	}
}
func (droppingObserver) OnHeartbeat(transport.Transport) {}
