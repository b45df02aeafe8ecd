package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags an Outcome
type Kind int

const (
	// KindSuccess is a well-formed response with an ok business code
	KindSuccess Kind = iota
	// KindBusinessError is a well-formed response with any other business code
	KindBusinessError
	// KindTransportError is an HTTP error status or no response at all
	KindTransportError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindBusinessError:
		return "business_error"
	case KindTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Reason classifies a transport failure
type Reason string

const (
	// ReasonNone is carried by successes and business errors
	ReasonNone Reason = ""
	// ReasonUnauthorized is HTTP 401; it forces a logout
	ReasonUnauthorized Reason = "unauthorized"
	// ReasonForbidden is HTTP 403
	ReasonForbidden Reason = "forbidden"
	// ReasonNotFound is HTTP 404
	ReasonNotFound Reason = "not_found"
	// ReasonServer is any 5xx status
	ReasonServer Reason = "server_error"
	// ReasonHTTP is any other non-2xx status
	ReasonHTTP Reason = "http_error"
	// ReasonTimeout means no response arrived before the deadline
	ReasonTimeout Reason = "timeout"
	// ReasonNetwork means no response arrived for another reason
	ReasonNetwork Reason = "network"
	// ReasonRequest means the request could not be built locally and was
	// never sent
	ReasonRequest Reason = "request"
)

// User-visible messages
const (
	MsgRequestFailed  = "Request failed"
	MsgSessionExpired = "Your session has expired, please log in again"
	MsgForbidden      = "You do not have permission to access this resource"
	MsgNotFound       = "The requested resource does not exist"
	MsgServerError    = "Server error, please try again later"
	MsgTimeout        = "Request timed out, please check your network"
	MsgNetwork        = "Network error, please check your connection"
)

// Sentinels matched by errors.Is against a *TransportError
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrServer       = errors.New("server error")
	ErrHTTPStatus   = errors.New("unexpected http status")
	ErrTimeout      = errors.New("request timed out")
	ErrNetwork      = errors.New("network failure")
	ErrRequest      = errors.New("request not sent")
)

var reasonSentinels = map[Reason]error{
	ReasonUnauthorized: ErrUnauthorized,
	ReasonForbidden:    ErrForbidden,
	ReasonNotFound:     ErrNotFound,
	ReasonServer:       ErrServer,
	ReasonHTTP:         ErrHTTPStatus,
	ReasonTimeout:      ErrTimeout,
	ReasonNetwork:      ErrNetwork,
	ReasonRequest:      ErrRequest,
}

// Outcome is the classified result of one call. It is a plain value; the
// effects it asks for (Message, ForceLogout) are applied by Client.
type Outcome struct {
	Kind    Kind
	Data    json.RawMessage // body.data on success
	Code    int             // business code, when the body carried one
	Message string          // user-visible message on failure
	Status  int             // HTTP status, 0 when no response arrived
	Reason  Reason          // transport failure class
	// ForceLogout asks the shell to wipe credentials and hard-redirect to login
	ForceLogout bool
	// Cause is the underlying network error, if any
	Cause error
}

// OK reports whether the outcome is a success
func (o Outcome) OK() bool {
	return o.Kind == KindSuccess
}

// Err returns nil on success, otherwise a *BusinessError or *TransportError
func (o Outcome) Err() error {
	switch o.Kind {
	case KindSuccess:
		return nil
	case KindBusinessError:
		return &BusinessError{Code: o.Code, Message: o.Message}
	default:
		return &TransportError{Status: o.Status, Reason: o.Reason, Message: o.Message, Cause: o.Cause}
	}
}

// BusinessError is a non-ok business code inside a well-formed response
type BusinessError struct {
	Code    int
	Message string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("business error %d: %s", e.Code, e.Message)
}

// TransportError is an HTTP failure status or a missing response
type TransportError struct {
	Status  int
	Reason  Reason
	Message string
	Cause   error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("http %d (%s): %s", e.Status, e.Reason, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *TransportError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := reasonSentinels[e.Reason]; ok {
		errs = append(errs, s)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// UserMessage extracts the user-visible message from an error returned by
// Client, falling back to a generic one.
func UserMessage(err error) string {
	var be *BusinessError
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	var te *TransportError
	if errors.As(err, &te) && te.Message != "" {
		return te.Message
	}
	return MsgRequestFailed
}

// IsAuthExpired reports whether err means the bearer is no longer accepted,
// either as HTTP 401 or as business code 401.
func IsAuthExpired(err error) bool {
	if errors.Is(err, ErrUnauthorized) {
		return true
	}
	var be *BusinessError
	return errors.As(err, &be) && be.Code == 401
}
