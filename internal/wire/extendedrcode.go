// Package wire holds small DNS wire-format helpers shared by the iterator,
// worker, and layer packages: extended error code mapping and the
// resolver-wide error taxonomy (spec §7).
package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/miekg/dns"
)

// Error taxonomy surfaced by the core (spec §7). Each Kind has a sentinel
// error so callers can test with errors.Is instead of string matching.
type Kind int

const (
	KindInvalid Kind = iota
	KindNoMem
	KindIllSeq
	KindProto
	KindMsgSize
	KindNoEnt
	KindStale
	KindLoop
	KindLimit
	KindIO
	KindNotConn
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "INVALID"
	case KindNoMem:
		return "NOMEM"
	case KindIllSeq:
		return "ILSEQ"
	case KindProto:
		return "PROTO"
	case KindMsgSize:
		return "MSGSIZE"
	case KindNoEnt:
		return "NOENT"
	case KindStale:
		return "STALE"
	case KindLoop:
		return "ELOOP"
	case KindLimit:
		return "ELIMIT"
	case KindIO:
		return "EIO"
	case KindNotConn:
		return "ENOTCONN"
	default:
		return "UNKNOWN"
	}
}

type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.kind.String() + ": " + e.msg }

func (e *kindError) Is(target error) bool {
	if k, ok := target.(*kindError); ok {
		return k.kind == e.kind
	}
	return false
}

// NewError builds a sentinel-compatible error of the given kind.
func NewError(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

var (
	ErrInvalid = NewError(KindInvalid, "invalid argument")
	ErrNoMem   = NewError(KindNoMem, "allocation exhausted")
	ErrIllSeq  = NewError(KindIllSeq, "illegal name or wire encoding")
	ErrProto   = NewError(KindProto, "protocol parse failure")
	ErrMsgSize = NewError(KindMsgSize, "truncated or oversize message")
	ErrNoEnt   = NewError(KindNoEnt, "no such cache entry")
	ErrStale   = NewError(KindStale, "cache entry expired")
	ErrLoop    = NewError(KindLoop, "resolution plan loop detected")
	ErrLimit   = NewError(KindLimit, "iteration limit reached")
	ErrIO      = NewError(KindIO, "i/o send or receive failure")
	ErrNotConn = NewError(KindNotConn, "origin handle closed before answer")
)

// extendedErrorCodeError represents a DNS Extended Error code as defined in RFC 8914.

type extendedErrorCodeError uint16

func (e extendedErrorCodeError) Error() string {
	return fmt.Sprintf("extended rcode %v", uint16(e))
}

func (e extendedErrorCodeError) Is(err error) bool {
	return err == ErrExtendedErrorCode
}

var ErrExtendedErrorCode = extendedErrorCodeError(0)

var rcodesToErrors = map[uint16]error{
	dns.ExtendedErrorCodeOther:                io.EOF,
	dns.ExtendedErrorCodeNotReady:             io.ErrNoProgress,
	dns.ExtendedErrorCodeProhibited:           os.ErrPermission,
	dns.ExtendedErrorCodeNoReachableAuthority: os.ErrDeadlineExceeded,
	dns.ExtendedErrorCodeNetworkError:         net.ErrClosed,
	dns.ExtendedErrorCodeInvalidData:          os.ErrInvalid,
}

// ExtendedErrorCodeFromError attempts to map a Go error to a DNS Extended Rcode.
// The function understands well-known errors from the os, io, and net packages
// (including their wrapper types) and returns dns.ExtendedErrorCodeOther if no mapping is known.
func ExtendedErrorCodeFromError(err error) (rcode uint16) {
	rcode = dns.ExtendedErrorCodeOther
	if err != nil {
		if rcodeErr, ok := err.(extendedErrorCodeError); ok {
			return uint16(rcodeErr)
		}

		if kindErr, ok := err.(*kindError); ok {
			return kindRcode(kindErr.kind)
		}

		for code, sample := range rcodesToErrors {
			if errors.Is(err, sample) {
				return code
			}
		}

		if errors.Is(err, os.ErrNotExist) {
			return dns.ExtendedErrorCodeNoReachableAuthority
		}
		if errors.Is(err, os.ErrExist) {
			return dns.ExtendedErrorCodeInvalidData
		}
		if errors.Is(err, os.ErrDeadlineExceeded) ||
			errors.Is(err, context.DeadlineExceeded) {
			return dns.ExtendedErrorCodeNoReachableAuthority
		}

		if errors.Is(err, io.ErrShortBuffer) || errors.Is(err, io.ErrShortWrite) {
			return dns.ExtendedErrorCodeInvalidData
		}
		if errors.Is(err, io.ErrClosedPipe) {
			return dns.ExtendedErrorCodeNetworkError
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return dns.ExtendedErrorCodeInvalidData
		}

		var unknownNet net.UnknownNetworkError
		if errors.As(err, &unknownNet) {
			return dns.ExtendedErrorCodeNetworkError
		}
		var addrErr *net.AddrError
		if errors.As(err, &addrErr) {
			return dns.ExtendedErrorCodeInvalidData
		}
		var invalidAddr net.InvalidAddrError
		if errors.As(err, &invalidAddr) {
			return dns.ExtendedErrorCodeInvalidData
		}
		var parseErr *net.ParseError
		if errors.As(err, &parseErr) {
			return dns.ExtendedErrorCodeInvalidData
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			switch {
			case dnsErr.IsTimeout, dnsErr.IsNotFound:
				return dns.ExtendedErrorCodeNoReachableAuthority
			case dnsErr.IsTemporary:
				return dns.ExtendedErrorCodeNotReady
			default:
				return dns.ExtendedErrorCodeNetworkError
			}
		}

		var netErr net.Error
		if errors.As(err, &netErr) {
			switch {
			case netErr.Timeout():
				return dns.ExtendedErrorCodeNoReachableAuthority
			default:
				return dns.ExtendedErrorCodeNetworkError
			}
		}
	}
	return
}

// kindRcode maps the resolver-wide error taxonomy onto RFC 8914 codes so
// SERVFAIL answers can carry an EDNS Extended Error option (spec §10).
func kindRcode(k Kind) uint16 {
	switch k {
	case KindLoop:
		return dns.ExtendedErrorCodeNetworkError
	case KindLimit:
		return dns.ExtendedErrorCodeNoReachableAuthority
	case KindIO, KindNotConn:
		return dns.ExtendedErrorCodeNetworkError
	case KindMsgSize, KindProto, KindIllSeq:
		return dns.ExtendedErrorCodeInvalidData
	case KindNoEnt, KindStale:
		return dns.ExtendedErrorCodeOther
	default:
		return dns.ExtendedErrorCodeOther
	}
}

// ErrorFromExtendedErrorCode returns the canonical Go error for the provided
// Extended Error Code. It returns ErrExtendedErrorCode if there is no known mapping.
func ErrorFromExtendedErrorCode(code uint16) (err error) {
	var ok bool
	if err, ok = rcodesToErrors[code]; !ok {
		err = extendedErrorCodeError(code)
	}
	return
}
