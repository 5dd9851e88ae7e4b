package transcription

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

// Category is the user-facing classification of a channel failure
type Category int

const (
	CategoryNormalClosure Category = iota
	CategoryProtocolError
	CategoryUnsupportedData
	CategoryPolicyViolation
	CategoryServerError
	CategoryBadRequest
	CategoryInvalidCredential
	CategoryAccessForbidden
	CategoryEndpointNotFound
	CategoryTimeout
	CategoryPayloadTooLarge
	CategoryRateLimited
	CategoryInsufficientFunds
	CategoryNetwork
	CategoryUnexpected
)

var categoryNames = map[Category]string{
	CategoryNormalClosure:     "normal_closure",
	CategoryProtocolError:     "protocol_error",
	CategoryUnsupportedData:   "unsupported_data",
	CategoryPolicyViolation:   "policy_violation",
	CategoryServerError:       "server_error",
	CategoryBadRequest:        "bad_request",
	CategoryInvalidCredential: "invalid_credential",
	CategoryAccessForbidden:   "access_forbidden",
	CategoryEndpointNotFound:  "endpoint_not_found",
	CategoryTimeout:           "timeout",
	CategoryPayloadTooLarge:   "payload_too_large",
	CategoryRateLimited:       "rate_limited",
	CategoryInsufficientFunds: "insufficient_funds",
	CategoryNetwork:           "network",
	CategoryUnexpected:        "unexpected",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unexpected"
}

// messages is the fixed table shown to users. CategoryUnexpected is formatted
// with the underlying error instead.
var messages = map[Category]string{
	CategoryNormalClosure:     "The transcription connection was closed normally.",
	CategoryProtocolError:     "The transcription service reported a protocol error.",
	CategoryUnsupportedData:   "The transcription service could not process the audio data.",
	CategoryPolicyViolation:   "The transcription service closed the connection due to a policy violation.",
	CategoryServerError:       "The transcription service encountered an internal error. Please try again.",
	CategoryBadRequest:        "The transcription request was rejected as malformed.",
	CategoryInvalidCredential: "Invalid API key. Please check your transcription API key.",
	CategoryAccessForbidden:   "Access to the transcription service is forbidden for this API key.",
	CategoryEndpointNotFound:  "The transcription endpoint could not be found.",
	CategoryTimeout:           "Connection to the transcription service timed out.",
	CategoryPayloadTooLarge:   "The audio payload was too large for the transcription service.",
	CategoryRateLimited:       "Too many requests to the transcription service. Please wait and try again.",
	CategoryInsufficientFunds: "Your transcription account has insufficient funds.",
	CategoryNetwork:           "Lost connection to the transcription service.",
}

// Message returns the user-facing message for a category
func (c Category) Message() string {
	if msg, ok := messages[c]; ok {
		return msg
	}
	return "unexpected error"
}

// closeCodes maps WebSocket close codes, including backend private codes, to categories
var closeCodes = map[int]Category{
	websocket.CloseNormalClosure:           CategoryNormalClosure,
	websocket.CloseGoingAway:               CategoryServerError,
	websocket.CloseProtocolError:           CategoryProtocolError,
	websocket.CloseUnsupportedData:         CategoryUnsupportedData,
	websocket.CloseInvalidFramePayloadData: CategoryUnsupportedData,
	websocket.ClosePolicyViolation:         CategoryPolicyViolation,
	websocket.CloseMessageTooBig:           CategoryPayloadTooLarge,
	websocket.CloseInternalServerErr:       CategoryServerError,
	websocket.CloseNoStatusReceived:        CategoryNetwork,
	websocket.CloseAbnormalClosure:         CategoryNetwork,
	websocket.CloseServiceRestart:          CategoryNetwork,
	websocket.CloseTryAgainLater:           CategoryServerError,
	4000:                                   CategoryBadRequest,
	4001:                                   CategoryInvalidCredential,
	4002:                                   CategoryInsufficientFunds,
	4003:                                   CategoryAccessForbidden,
	4004:                                   CategoryEndpointNotFound,
	4008:                                   CategoryTimeout,
	4013:                                   CategoryPayloadTooLarge,
	4029:                                   CategoryRateLimited,
}

// CategoryForCloseCode maps a close code to its category
func CategoryForCloseCode(code int) Category {
	if c, ok := closeCodes[code]; ok {
		return c
	}
	return CategoryUnexpected
}

// CategoryForStatus maps a handshake HTTP status to its category
func CategoryForStatus(status int) Category {
	switch status {
	case http.StatusBadRequest:
		return CategoryBadRequest
	case http.StatusUnauthorized:
		return CategoryInvalidCredential
	case http.StatusPaymentRequired:
		return CategoryInsufficientFunds
	case http.StatusForbidden:
		return CategoryAccessForbidden
	case http.StatusNotFound:
		return CategoryEndpointNotFound
	case http.StatusRequestTimeout:
		return CategoryTimeout
	case http.StatusRequestEntityTooLarge:
		return CategoryPayloadTooLarge
	case http.StatusTooManyRequests:
		return CategoryRateLimited
	}
	if status >= 500 && status < 600 {
		return CategoryServerError
	}
	return CategoryUnexpected
}

// ChannelError is reported through Handlers.OnError
type ChannelError struct {
	Category Category
	Code     int // close code or HTTP status when known
	Err      error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcription channel %s (%d): %v", e.Category, e.Code, e.Err)
	}
	return fmt.Sprintf("transcription channel %s (%d)", e.Category, e.Code)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Message is the text shown to users
func (e *ChannelError) Message() string {
	if e.Category == CategoryUnexpected {
		if e.Err != nil {
			return "unexpected error: " + e.Err.Error()
		}
		return fmt.Sprintf("unexpected error: code %d", e.Code)
	}
	return e.Category.Message()
}

// Retryable reports whether the failure may be retried at all. Server errors
// are additionally limited to one retry per session by the caller. A normal
// closure initiated by the backend (session expiry) is reconnected too.
func (e *ChannelError) Retryable() bool {
	switch e.Category {
	case CategoryNetwork, CategoryTimeout, CategoryServerError, CategoryNormalClosure:
		return true
	}
	return false
}

// classifyDial turns a failed dial into a ChannelError
func classifyDial(err error, resp *http.Response) *ChannelError {
	if resp != nil {
		return &ChannelError{Category: CategoryForStatus(resp.StatusCode), Code: resp.StatusCode, Err: err}
	}
	return classifyNetwork(err)
}

// classifyRead turns a read loop failure into a ChannelError
func classifyRead(err error) *ChannelError {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return &ChannelError{Category: CategoryForCloseCode(closeErr.Code), Code: closeErr.Code, Err: err}
	}
	return classifyNetwork(err)
}

func classifyNetwork(err error) *ChannelError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ChannelError{Category: CategoryTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &ChannelError{Category: CategoryTimeout, Err: err}
		}
		return &ChannelError{Category: CategoryNetwork, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, net.ErrClosed) {
		return &ChannelError{Category: CategoryNetwork, Err: err}
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		return &ChannelError{Category: CategoryProtocolError, Err: err}
	}
	return &ChannelError{Category: CategoryNetwork, Err: err}
}
