package canman

import (
	"encoding/hex"
	"errors"
	"fmt"
)

/*
slcan 'F' status flags, SJA1000 semantics:
Bit 0 CAN receive FIFO queue full
Bit 1 CAN transmit FIFO queue full
Bit 2 Error warning (EI)
Bit 3 Data Overrun (DOI)
Bit 4 Not used.
Bit 5 Error Passive (EPI)
Bit 6 Arbitration Lost (ALI)
Bit 7 Bus Error (BEI)
*/
var statusFlags = [8]string{
	"CAN receive FIFO queue full",
	"CAN transmit FIFO queue full",
	"error warning (EI)",
	"data overrun (DOI)",
	"",
	"error passive (EPI)",
	"arbitration lost (ALI)",
	"bus error (BEI)",
}

// checkStatus decodes an "Fxx" reply and joins every flag that is set.
func checkStatus(b []byte) error {
	if len(b) < 3 {
		return fmt.Errorf("%w: short status reply %q", ErrInvalidFrame, b)
	}
	raw, err := hex.DecodeString(string(b[1:3]))
	if err != nil {
		return fmt.Errorf("failed to decode status %q: %w", b, err)
	}
	var errs []error
	for bit, desc := range statusFlags {
		if desc != "" && raw[0]&(1<<bit) != 0 {
			errs = append(errs, errors.New(desc))
		}
	}
	return errors.Join(errs...)
}
