package export

import "encoding/json"

// State is the lifecycle of a batch job.
type State int

const (
	Idle State = iota
	Running
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the job has stopped.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

type (
	// Progress is reported after every guest. Done never decreases.
	Progress struct {
		Done      int     `json:"done"`
		Total     int     `json:"total"`
		Fraction  float64 `json:"fraction"`
		GuestID   string  `json:"guestId,omitempty"`
		GuestName string  `json:"guestName,omitempty"`
		Failed    bool    `json:"failed,omitempty"`
	}

	// GuestFailure records a guest that produced no output.
	GuestFailure struct {
		GuestID   string `json:"guestId"`
		GuestName string `json:"guestName"`
		Error     string `json:"error"`
	}

	// Result is the outcome of a batch. Counts are reported even when
	// some guests failed.
	Result struct {
		State         State          `json:"state"`
		Archive       []byte         `json:"-"`
		Entries       []string       `json:"entries,omitempty"`
		Sent          int            `json:"sent"`
		Failed        int            `json:"failed"`
		Skipped       int            `json:"skipped"`
		Total         int            `json:"total"`
		Failures      []GuestFailure `json:"failures,omitempty"`
		AssetFailures int            `json:"assetFailures"`
	}
)

func progressAt(done, total int) Progress {
	p := Progress{Done: done, Total: total}
	if total > 0 {
		p.Fraction = float64(done) / float64(total)
	}
	return p
}
