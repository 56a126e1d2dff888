package handler

import (
	"bytes"
	"io"
	"io/ioutil"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
)

// offending captures up to 64 bytes of the original request body, as
// every error-producing handler must echo back in the OFPT_ERROR
// body.
func offending(req *of.Request) []byte {
	if req.Body == nil {
		return nil
	}

	b, _ := ioutil.ReadAll(io.LimitReader(req.Body, 64))
	return b
}

// decode reads req's body into dst, reporting a bad-length error with
// the offending bytes on failure. It re-buffers req.Body with the bytes
// it read, so a later offending() call still sees the request body.
// Since offending consumes req.Body, callers must not also call decode
// on the same request after an offending() call without first
// re-buffering.
func decode(req *of.Request, dst io.ReaderFrom) *ofperror.Error {
	var buf []byte
	if req.Body != nil {
		var err error
		buf, err = ioutil.ReadAll(req.Body)
		if err != nil {
			return ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, nil)
		}
		req.Body = bytes.NewReader(buf)
	}

	if _, err := dst.ReadFrom(newBodyReader(buf)); err != nil {
		return ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, truncate(buf))
	}

	return nil
}

func truncate(b []byte) []byte {
	const max = 64
	if len(b) <= max {
		return b
	}
	return b[:max]
}

type bodyReader struct {
	b []byte
}

func newBodyReader(b []byte) *bodyReader { return &bodyReader{b: b} }

func (r *bodyReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}
