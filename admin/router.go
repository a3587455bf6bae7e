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

// Package admin exposes a small read-only HTTP surface (/healthz, /status)
// for operators and orchestrators, separate from the prometheus scrape
// endpoint in monitor.
package admin

import (
	"net/http"
	"time"

	ginsdk "github.com/gin-gonic/gin"

	liberr "github.com/pronet-go/pronet/errors"
)

// HostSummary is one registered host entry as surfaced to /status.
type HostSummary struct {
	ServiceId uint8  `json:"service_id"`
	ProcessId uint64 `json:"process_id"`
}

// StatusProvider supplies the live state rendered by /status; servicehub.Hub
// and monitor.TransportCollector together satisfy the data this needs.
type StatusProvider interface {
	Hosts() []HostSummary
	ActiveTransports() int
}

// StatusResponse is the JSON body returned by GET /status.
type StatusResponse struct {
	Healthy          bool          `json:"healthy"`
	Uptime           string        `json:"uptime"`
	ActiveTransports int           `json:"active_transports"`
	Hosts            []HostSummary `json:"hosts"`
}

// Router builds the admin HTTP surface.
type Router struct {
	startedAt time.Time
	provider  StatusProvider
}

// NewRouter creates an admin router backed by provider.
func NewRouter(provider StatusProvider) *Router {
	return &Router{startedAt: time.Now(), provider: provider}
}

// Register attaches /healthz and /status to an existing gin engine, so the
// caller can share one listener with other routes.
func (r *Router) Register(engine *ginsdk.Engine) {
	engine.GET("/healthz", r.handleHealthz)
	engine.GET("/status", r.handleStatus)
}

func (r *Router) handleHealthz(c *ginsdk.Context) {
	c.String(http.StatusOK, "ok")
}

func (r *Router) handleStatus(c *ginsdk.Context) {
	if r.provider == nil {
		e := liberr.New(uint16(liberr.MinPkgConfig+3), "admin status provider not configured")
		ret := liberr.NewDefaultReturn()
		e.Return(ret)
		ret.GinTonicAbort(c, http.StatusServiceUnavailable)
		return
	}

	resp := StatusResponse{
		Healthy:          true,
		Uptime:           time.Since(r.startedAt).String(),
		Hosts:            r.provider.Hosts(),
		ActiveTransports: r.provider.ActiveTransports(),
	}
	c.JSON(http.StatusOK, resp)
}
