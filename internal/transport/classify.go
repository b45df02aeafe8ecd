package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
)

// Business codes treated as success
const (
	CodeOK      = 200
	CodeNeutral = 0
)

type resultBody struct {
	Code    *int            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Classify maps one round trip to an Outcome. status is the HTTP status (0 if
// no response arrived), body the raw response body and netErr the error from
// the HTTP client. It performs no I/O.
func Classify(status int, body []byte, netErr error) Outcome {
	if netErr != nil {
		if isTimeout(netErr) {
			return Outcome{Kind: KindTransportError, Reason: ReasonTimeout, Message: MsgTimeout, Cause: netErr}
		}
		return Outcome{Kind: KindTransportError, Reason: ReasonNetwork, Message: MsgNetwork, Cause: netErr}
	}

	if status < 200 || status > 299 {
		return classifyStatus(status, body)
	}

	var rb resultBody
	if err := json.Unmarshal(body, &rb); err != nil || rb.Code == nil {
		return Outcome{Kind: KindBusinessError, Status: status, Message: messageOr(rb.Message, MsgRequestFailed)}
	}
	if *rb.Code == CodeOK || *rb.Code == CodeNeutral {
		return Outcome{Kind: KindSuccess, Status: status, Code: *rb.Code, Data: rb.Data}
	}
	return Outcome{
		Kind:    KindBusinessError,
		Status:  status,
		Code:    *rb.Code,
		Message: messageOr(rb.Message, MsgRequestFailed),
	}
}

func classifyStatus(status int, body []byte) Outcome {
	o := Outcome{Kind: KindTransportError, Status: status}
	switch {
	case status == http.StatusUnauthorized:
		o.Reason, o.Message, o.ForceLogout = ReasonUnauthorized, MsgSessionExpired, true
	case status == http.StatusForbidden:
		o.Reason, o.Message = ReasonForbidden, MsgForbidden
	case status == http.StatusNotFound:
		o.Reason, o.Message = ReasonNotFound, MsgNotFound
	case status >= 500 && status <= 599:
		o.Reason, o.Message = ReasonServer, MsgServerError
	default:
		var rb resultBody
		_ = json.Unmarshal(body, &rb) // best effort; most error pages are not JSON
		o.Reason, o.Message = ReasonHTTP, messageOr(rb.Message, MsgRequestFailed)
		if rb.Code != nil {
			o.Code = *rb.Code
		}
	}
	return o
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
