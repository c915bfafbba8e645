package configwatch

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// encode marshals doc in the format implied by path's extension: JSON for
// ".json", YAML for every other extension.
func encode(path string, doc Document) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.MarshalIndent(doc, "", "  ")
	default:
		return yaml.Marshal(doc)
	}
}
