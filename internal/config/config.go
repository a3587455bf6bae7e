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

// Package config loads and validates the runtime's configuration, bound
// from flags, environment and a config file through viper the same way the
// component layer this was distilled from does.
package config

import (
	"crypto/tls"
	"fmt"

	libval "github.com/go-playground/validator/v10"
	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"

	liberr "github.com/pronet-go/pronet/errors"
)

// Reactor configures the epoll worker pool shared by every listener.
// MaxFileDescriptors raises the process's open-file soft limit on startup;
// 0 leaves the inherited limit untouched.
type Reactor struct {
	IoThreads          int `mapstructure:"ioThreads" validate:"min=1"`
	MaxFileDescriptors int `mapstructure:"maxFileDescriptors" validate:"min=0"`
}

// Listener configures one accepting socket. TLS is only consulted when
// Kind is "tls"; it is otherwise left at its zero value.
type Listener struct {
	Kind     string      `mapstructure:"kind" validate:"oneof=tcp udp mcast tls"`
	BindIp   string      `mapstructure:"bindIp" validate:"required,ip"`
	Port     int         `mapstructure:"port" validate:"min=1,max=65535"`
	Backlog  int         `mapstructure:"backlog" validate:"min=1"`
	Extended bool        `mapstructure:"extended"`
	TLS      TLSMaterial `mapstructure:"tls"`
}

// ServiceHub configures the control-channel hub/host dispatcher.
type ServiceHub struct {
	CtlSocketPath string `mapstructure:"ctlSocketPath" validate:"required"`
	ServiceId     uint8  `mapstructure:"serviceId"`
}

// Admin configures the read-only HTTP surface.
type Admin struct {
	ListenAddr string `mapstructure:"listenAddr" validate:"required,hostname_port"`
}

// Config is the full set of settings needed to start either the hub or a
// host process.
type Config struct {
	Reactor    Reactor    `mapstructure:"reactor"`
	Listeners  []Listener `mapstructure:"listeners"`
	ServiceHub ServiceHub `mapstructure:"serviceHub"`
	Admin      Admin      `mapstructure:"admin"`
}

// Validate runs struct-tag validation, returning a liberr.Error carrying
// every field-level violation as a distinct parent.
func (c *Config) Validate() liberr.Error {
	if er := libval.New().Struct(c); er != nil {
		e := liberr.New(uint16(liberr.MinPkgConfig+1), "configuration validation failed")
		if verrs, ok := er.(libval.ValidationErrors); ok {
			for _, fe := range verrs {
				e.Add(fmt.Errorf("%s: failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return e
		}
		e.Add(er)
		return e
	}

	for i := range c.Listeners {
		l := &c.Listeners[i]
		if l.Kind != "tls" {
			continue
		}
		if l.TLS.CertFile == "" || l.TLS.KeyFile == "" {
			e := liberr.New(uint16(liberr.MinPkgConfig+1), fmt.Sprintf("tls listener %s:%d configuration invalid", l.BindIp, l.Port))
			e.Add(fmt.Errorf("certFile and keyFile are both required for a tls listener"))
			return e
		}
	}
	return nil
}

// TlsConfig loads and assembles the crypto/tls.Config for a "tls" kind
// listener. Callers must only invoke this after Validate has succeeded.
func (l *Listener) TlsConfig(serverName string) (*tls.Config, error) {
	return l.TLS.Build(serverName)
}

// RegisterFlags binds the configuration's command-line surface onto cmd and
// wires each flag to v, so CLI flags, env vars and a config file all
// resolve through the same viper instance.
func RegisterFlags(cmd *spfcbr.Command, v *spfvpr.Viper) error {
	cmd.PersistentFlags().Int("reactor.ioThreads", 4, "number of epoll worker goroutines")
	cmd.PersistentFlags().Int("reactor.maxFileDescriptors", 0, "raise the process open-file soft limit to this value (0 leaves it untouched)")
	cmd.PersistentFlags().String("serviceHub.ctlSocketPath", "/var/run/pronet/hub.sock", "UNIX-domain control-channel socket path")
	cmd.PersistentFlags().Uint8("serviceHub.serviceId", 0, "service id this process registers for (host mode only)")
	cmd.PersistentFlags().String("admin.listenAddr", "127.0.0.1:9100", "address for the read-only admin HTTP surface")

	for _, key := range []string{
		"reactor.ioThreads",
		"reactor.maxFileDescriptors",
		"serviceHub.ctlSocketPath",
		"serviceHub.serviceId",
		"admin.listenAddr",
	} {
		if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(key)); err != nil {
			return err
		}
	}
	return nil
}

// Load reads and validates the configuration out of v.
func Load(v *spfvpr.Viper) (*Config, liberr.Error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, liberr.New(uint16(liberr.MinPkgConfig+2), "unmarshal configuration: "+err.Error())
	}
	if lerr := c.Validate(); lerr != nil {
		return nil, lerr
	}
	return &c, nil
}
