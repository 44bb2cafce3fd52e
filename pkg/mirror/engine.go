package mirror

import (
	"encoding/json"
	"fmt"

	"github.com/mountsync/mountsync/pkg/util"
)

// Engine represents the external mirroring tool to use.
type Engine int

const (
	// Rsync uses the rsync utility in archive mode with deletion.
	Rsync Engine = iota
)

var engineToString = map[Engine]string{Rsync: "rsync"}
var stringToEngine = map[string]Engine{}

func init() {
	stringToEngine = util.InvertMap(engineToString)
}

// String returns the string representation of an Engine.
func (e Engine) String() string {
	if str, ok := engineToString[e]; ok {
		return str
	}
	return fmt.Sprintf("unknown_engine(%d)", e)
}

// ParseEngine parses a string and returns the corresponding Engine.
func ParseEngine(s string) (Engine, error) {
	if engine, ok := stringToEngine[s]; ok {
		return engine, nil
	}
	return 0, fmt.Errorf("invalid engine: %q. Must be 'rsync'", s)
}

// MarshalJSON implements the json.Marshaler interface for Engine.
func (e Engine) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Engine.
func (e *Engine) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("Engine should be a string, got %s", data)
	}

	engine, err := ParseEngine(s)
	if err != nil {
		return err
	}
	*e = engine
	return nil
}
