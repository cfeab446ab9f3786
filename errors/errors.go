package errors

import "fmt"

var (
	ErrMissingCredential   = fmt.Errorf("missing bearer credential")
	ErrChannelAuthDenied   = fmt.Errorf("channel authorization denied")
	ErrInvalidAuthResponse = fmt.Errorf("authorization response missing auth token")
	ErrTransportClosed     = fmt.Errorf("transport closed")
	ErrNotConnected        = fmt.Errorf("transport not connected")
	ErrSubscriptionFailed  = fmt.Errorf("channel subscription failed")
	ErrChannelBusy         = fmt.Errorf("channel already bound to another tenant")
)
