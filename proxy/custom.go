package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
)

// handleCustom writes a user-supplied synthetic response and closes the
// connection. In-memory bodies get a computed Content-Length; streamed
// bodies use chunked transfer encoding. A failing response function fails
// the connection with 500.
func (e *entry) handleCustom(w http.ResponseWriter, req *http.Request, logger *slog.Logger, fn CustomResponseFunc) {
	s := e.proxy

	resp, err := fn(req)
	if err != nil {
		logErr(logger, err)
		s.failRequest(w, req, ErrPrepareRequestFailed.WithMessage("custom response function failed: "+err.Error()))
		return
	}
	if resp == nil {
		resp = &CustomResponse{}
	}

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Connection", "close")

	statusCode := resp.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	switch {
	case resp.Body != nil:
		w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
		w.WriteHeader(statusCode)
		if _, err := w.Write(resp.Body); err != nil {
			logErr(logger, err)
		}
	case resp.BodyReader != nil:
		w.WriteHeader(statusCode)
		if _, err := io.Copy(w, resp.BodyReader); err != nil {
			logErr(logger, err)
			panic(http.ErrAbortHandler)
		}
	default:
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(statusCode)
	}
}
