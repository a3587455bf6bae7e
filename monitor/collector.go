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

// Package monitor exposes the runtime's live transport and service-hub state
// as a prometheus.Collector, pulled on scrape rather than pushed, the same
// shape as a TCP-info exporter watching a fixed set of registered sockets.
package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// TransportEntry is one socket tracked by the collector, keyed by fd.
type TransportEntry struct {
	Kind      string // "tcp", "udp", "mcast", "tls"
	ServiceId string
}

// TransportCollector tracks every live reactor-managed socket and the
// service-hub registration state, rendering both as prometheus metrics on
// each scrape.
type TransportCollector struct {
	mu sync.Mutex

	transports map[int]TransportEntry
	bytesSent  map[int]uint64
	bytesRecv  map[int]uint64

	hostsRegistered map[uint8]uint64 // serviceId -> processId
	evictions       uint64

	activeDesc    *prometheus.Desc
	bytesDesc     *prometheus.Desc
	hostsDesc     *prometheus.Desc
	evictionsDesc *prometheus.Desc
}

// NewTransportCollector creates a collector; register it with a
// prometheus.Registry to expose its metrics.
func NewTransportCollector(namespace string) *TransportCollector {
	return &TransportCollector{
		transports:      make(map[int]TransportEntry),
		bytesSent:       make(map[int]uint64),
		bytesRecv:       make(map[int]uint64),
		hostsRegistered: make(map[uint8]uint64),
		activeDesc: prometheus.NewDesc(
			namespace+"_transport_active",
			"Number of transports currently registered with the reactor.",
			[]string{"kind"}, nil,
		),
		bytesDesc: prometheus.NewDesc(
			namespace+"_transport_bytes_total",
			"Bytes moved per transport, by direction.",
			[]string{"kind", "direction"}, nil,
		),
		hostsDesc: prometheus.NewDesc(
			namespace+"_servicehub_hosts_registered",
			"Number of host processes currently registered with the hub.",
			nil, nil,
		),
		evictionsDesc: prometheus.NewDesc(
			namespace+"_servicehub_host_evictions_total",
			"Total number of host entries evicted for a missed heartbeat.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *TransportCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.activeDesc
	descs <- c.bytesDesc
	descs <- c.hostsDesc
	descs <- c.evictionsDesc
}

// Collect implements prometheus.Collector.
func (c *TransportCollector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int)
	for _, e := range c.transports {
		byKind[e.Kind]++
	}
	for kind, n := range byKind {
		metrics <- prometheus.MustNewConstMetric(c.activeDesc, prometheus.GaugeValue, float64(n), kind)
	}

	sentByKind := make(map[string]uint64)
	recvByKind := make(map[string]uint64)
	for fd, e := range c.transports {
		sentByKind[e.Kind] += c.bytesSent[fd]
		recvByKind[e.Kind] += c.bytesRecv[fd]
	}
	for kind, n := range sentByKind {
		metrics <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(n), kind, "sent")
	}
	for kind, n := range recvByKind {
		metrics <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(n), kind, "recv")
	}

	metrics <- prometheus.MustNewConstMetric(c.hostsDesc, prometheus.GaugeValue, float64(len(c.hostsRegistered)))
	metrics <- prometheus.MustNewConstMetric(c.evictionsDesc, prometheus.CounterValue, float64(c.evictions))
}

// Add registers fd as a live transport of the given kind.
func (c *TransportCollector) Add(fd int, entry TransportEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transports[fd] = entry
}

// Remove drops fd from the live-transport set, e.g. on Transport.Close.
func (c *TransportCollector) Remove(fd int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.transports, fd)
	delete(c.bytesSent, fd)
	delete(c.bytesRecv, fd)
}

// AddBytes accumulates the bytes moved on fd in the given direction.
func (c *TransportCollector) AddBytes(fd int, sent, recv uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesSent[fd] += sent
	c.bytesRecv[fd] += recv
}

// OnHostRegistered implements servicehub.HubObserver.
func (c *TransportCollector) OnHostRegistered(serviceId uint8, processId uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hostsRegistered[serviceId] = processId
}

// OnHostEvicted implements servicehub.HubObserver.
func (c *TransportCollector) OnHostEvicted(serviceId uint8, _ uint64, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hostsRegistered, serviceId)
	c.evictions++
}
