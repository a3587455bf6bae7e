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

package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

var tlsVersionByName = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

var clientAuthByName = map[string]tls.ClientAuthType{
	"":        tls.NoClientCert,
	"none":    tls.NoClientCert,
	"request": tls.RequestClientCert,
	"require": tls.RequireAnyClientCert,
	"verify":  tls.RequireAndVerifyClientCert,
}

// TLSMaterial describes the certificate/trust material for one "tls" kind
// listener. The runtime treats TLS as an opaque engine behind transport.Tls
// (transport/tls.go bridges crypto/tls.Conn to the reactor's readiness
// model): this loader only resolves files into a *tls.Config and otherwise
// defers to the standard library's own cipher suite and curve defaults,
// rather than exposing a policy surface for them.
type TLSMaterial struct {
	CertFile    string   `mapstructure:"certFile" validate:"required_with=KeyFile"`
	KeyFile     string   `mapstructure:"keyFile" validate:"required_with=CertFile"`
	RootCAFiles []string `mapstructure:"rootCAFiles"`
	ClientAuth  string   `mapstructure:"clientAuth" validate:"omitempty,oneof=none request require verify"`
	MinVersion  string   `mapstructure:"minVersion" validate:"omitempty,oneof=1.0 1.1 1.2 1.3"`
}

// Build loads the certificate/key pair and root CA pool and assembles a
// *tls.Config for serverName. It is only valid to call once the owning
// Listener has passed Validate.
func (m *TLSMaterial) Build(serverName string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(m.CertFile, m.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls certificate %s: %w", m.CertFile, err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   serverName,
		ClientAuth:   clientAuthByName[m.ClientAuth],
		MinVersion:   tls.VersionTLS12,
	}
	if v, ok := tlsVersionByName[m.MinVersion]; ok {
		cfg.MinVersion = v
	}

	if len(m.RootCAFiles) > 0 {
		pool := x509.NewCertPool()
		for _, f := range m.RootCAFiles {
			pem, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("read root ca %s: %w", f, err)
			}
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("root ca %s: no certificate found", f)
			}
		}
		cfg.ClientCAs = pool
		cfg.RootCAs = pool
	}

	return cfg, nil
}
