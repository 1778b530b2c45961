// Package xmlrpc serves a farm over xml-rpc.
//
// Every response is sent with 200 status. A failure is reported as a fault,
// even when the request couldn't be parsed.
package xmlrpc

import (
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/imagvfx/coalition"
)

// Fault codes.
const (
	FaultUnknownProcedure = 8001
	FaultProcedureFailed  = 8002
	FaultInvalidParams    = 8003
	FaultMalformedRequest = 8004
)

// maxRequestSize limits size of a request body.
const maxRequestSize = 10 << 20

// Fault is an error reported to the caller.
type Fault struct {
	Code   int
	String string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault %d: %s", f.Code, f.String)
}

func faultf(code int, format string, a ...interface{}) *Fault {
	return &Fault{Code: code, String: fmt.Sprintf(format, a...)}
}

// Handler handles xml-rpc calls to a farm.
type Handler struct {
	farm  *coalition.Farm
	procs map[string]procedure
}

// NewHandler creates a new Handler.
func NewHandler(f *coalition.Farm) *Handler {
	return &Handler{
		farm:  f,
		procs: procedures(f),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := h.serve(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		f := &Fault{}
		if !errors.As(err, &f) {
			log.Errorf("xmlrpc: %v", err)
			f = faultf(FaultProcedureFailed, "internal error")
		}
		body = encodeFault(f)
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Write(body)
}

func (h *Handler) serve(r io.Reader) ([]byte, error) {
	method, params, err := decodeCall(r)
	if err != nil {
		return nil, faultf(FaultMalformedRequest, "malformed request: %v", errors.Cause(err))
	}
	if method == "" {
		return nil, faultf(FaultMalformedRequest, "empty method name")
	}
	proc, ok := h.procs[method]
	if !ok {
		return nil, faultf(FaultUnknownProcedure, "procedure %s not found", method)
	}
	ret, err := proc(params)
	if err != nil {
		return nil, procedureFault(method, err)
	}
	return encodeResponse(ret)
}

// procedureFault converts an error from a procedure into a fault.
func procedureFault(method string, err error) error {
	f := &Fault{}
	if errors.As(err, &f) {
		return f
	}
	var rej coalition.Rejection
	if errors.As(err, &rej) {
		return faultf(FaultInvalidParams, "%s: job rejected with %d: %v", method, int(rej), rej)
	}
	for _, e := range []error{
		coalition.ErrStaleReport,
		coalition.ErrNoWorkerName,
		coalition.ErrUnknownProperty,
		coalition.ErrInvalidValue,
		coalition.ErrEmptyBatch,
	} {
		if errors.Is(err, e) {
			return faultf(FaultProcedureFailed, "%s: %v", method, err)
		}
	}
	log.Errorf("xmlrpc %s: %v", method, err)
	return faultf(FaultProcedureFailed, "%s: internal error", method)
}
