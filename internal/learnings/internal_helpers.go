package learnings

import (
	"encoding/json"
	"os"
)

func unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func renameOver(tmp, dest string) error {
	return os.Rename(tmp, dest)
}
