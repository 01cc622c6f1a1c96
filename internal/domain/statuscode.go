package domain

import (
	"fmt"

	"github.com/gopcua/opcua/ua"
)

// overflowInfoBits sets the StatusCode "InfoType=DataValue" bits (11-10) to
// 01 and the Overflow bit (7), per OPC UA Part 4 Table 12. A NotificationQueue
// entry's DataValue carries this after a discard-oldest/discard-newest drop.
const overflowInfoBits = 0x0480

// WithOverflowBit returns status with the Overflow info bit set, used to
// mark the one data-change notification that follows a queue drop.
func WithOverflowBit(status ua.StatusCode) ua.StatusCode {
	return ua.StatusCode(uint32(status) | overflowInfoBits)
}

// StatusCodeErr wraps a non-Good status code so it can travel through a
// plain Go error return, the inverse direction of StatusCodeFor.
type StatusCodeErr struct {
	Status ua.StatusCode
}

func (e StatusCodeErr) Error() string {
	return fmt.Sprintf("status %s", e.Status)
}

// StatusCodeError returns status wrapped as an error, for transports that
// only have a StatusCode to report a service-level failure through.
func StatusCodeError(status ua.StatusCode) error {
	return StatusCodeErr{Status: status}
}
