package idp

import (
	"errors"
	"fmt"
)

var (
	ErrUpstreamExchange          = errors.New("upstream token exchange failed")
	ErrUpstreamUserinfo          = errors.New("upstream userinfo request failed")
	ErrConsumerUserinfo          = errors.New("consumer userinfo request failed")
	ErrFederationExchange        = errors.New("federation exchange failed")
	ErrFederationIdentityMissing = errors.New("federation response carried no identity id")
)

// StatusError records an upstream call that failed. StatusCode is zero when
// no HTTP response was received.
type StatusError struct {
	Op         error
	StatusCode int
	Body       string
	Err        error
}

func (e *StatusError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%v: status %d: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%v: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Op, e.Err)
	default:
		return e.Op.Error()
	}
}

func (e *StatusError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Op}
	}
	return []error{e.Op, e.Err}
}
