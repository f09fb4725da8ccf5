package canman

import "fmt"

// Stats is the counter snapshot returned by Bus.Stats.
type Stats struct {
	Adapter       string
	Channel       string
	Bitrate       int
	RecvFrames    uint64
	SentFrames    uint64
	RecvBytes     uint64
	SentBytes     uint64
	Errors        uint64
	DroppedFrames uint64
}

func (st Stats) String() string {
	return fmt.Sprintf("%s %s@%d recv: %d (%d bytes) sent: %d (%d bytes) errors: %d dropped: %d",
		st.Adapter, st.Channel, st.Bitrate,
		st.RecvFrames, st.RecvBytes,
		st.SentFrames, st.SentBytes,
		st.Errors, st.DroppedFrames,
	)
}
