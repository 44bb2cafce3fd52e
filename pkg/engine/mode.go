package engine

import (
	"fmt"

	"github.com/mountsync/mountsync/pkg/util"
)

// Mode selects how a sync run is classified. Initial runs fire right
// after a mount appears and always notify; resync runs are periodic and
// stay quiet unless something actually changed.
type Mode int

const (
	Initial Mode = iota
	Resync
)

var modeToString = map[Mode]string{
	Initial: "initial",
	Resync:  "resync",
}

var stringToMode = util.InvertMap(modeToString)

func (m Mode) String() string {
	if s, ok := modeToString[m]; ok {
		return s
	}
	return "unknown"
}

// ParseMode converts a textual mode name back into a Mode.
func ParseMode(s string) (Mode, error) {
	if m, ok := stringToMode[s]; ok {
		return m, nil
	}
	return Initial, fmt.Errorf("unknown sync mode: '%s'", s)
}
