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

package transport

import (
	stderrors "errors"
	"os"

	"golang.org/x/sys/unix"

	liberr "github.com/pronet-go/pronet/errors"
)

// Each close reason a transport can report gets its own code constant, so
// an observer can branch on OnClose's error without string-matching.
const (
	CodeTimeout           = uint16(liberr.MinPkgTransport + 50)
	CodeClosedPeer        = uint16(liberr.MinPkgTransport + 51)
	CodeIo                = uint16(liberr.MinPkgTransport + 52)
	CodeTls               = uint16(liberr.MinPkgTransport + 53)
	CodeProtocol          = uint16(liberr.MinPkgTransport + 54)
	CodeResourceExhausted = uint16(liberr.MinPkgTransport + 55)
)

// closeError classifies a raw syscall/stdlib error into the coded
// liberr.Error carried by Observer.OnClose. A nil input means the peer
// closed cleanly (EOF / orderly FIN), which is not itself an error.
func closeError(err error) liberr.Error {
	if err == nil {
		return nil
	}

	switch {
	case stderrors.Is(err, unix.ETIMEDOUT), os.IsTimeout(err):
		return liberr.New(CodeTimeout, err.Error(), err)
	case stderrors.Is(err, unix.ECONNRESET), stderrors.Is(err, unix.EPIPE):
		return liberr.New(CodeClosedPeer, err.Error(), err)
	case stderrors.Is(err, unix.ENOBUFS), stderrors.Is(err, unix.ENOMEM):
		return liberr.New(CodeResourceExhausted, err.Error(), err)
	default:
		return liberr.New(CodeIo, err.Error(), err)
	}
}

// tlsCloseError wraps a TLS handshake/record-layer failure with CodeTls
// instead of the generic CodeIo a raw socket error would get.
func tlsCloseError(err error) liberr.Error {
	if err == nil {
		return nil
	}
	return liberr.New(CodeTls, err.Error(), err)
}
