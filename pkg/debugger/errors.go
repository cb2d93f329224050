package debugger

import (
	"errors"
	"fmt"
)

// TransportError reports a failed vendor control transfer.
type TransportError struct {
	Request   uint8
	Direction string // "out" or "in"
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("control %s request 0x%02X failed: %v", e.Direction, e.Request, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NotSupportedError indicates the firmware stalled a vendor request, which is
// how it reports an unimplemented feature. Callers gate optional features on
// this error rather than treating it as a transport fault.
type NotSupportedError struct {
	Request uint8
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("request 0x%02X not supported by this firmware", e.Request)
}

// IsNotSupported reports whether err stems from the firmware rejecting a
// request as unimplemented.
func IsNotSupported(err error) bool {
	var nse *NotSupportedError
	return errors.As(err, &nse)
}
