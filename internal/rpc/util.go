package rpc

import (
	"encoding/json"
	"os"
)

// removeStaleSocket clears a leftover UNIX socket file from a previous,
// uncleanly terminated run so Listen can rebind the path.
func removeStaleSocket(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func jsonUnmarshal(raw []byte, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
