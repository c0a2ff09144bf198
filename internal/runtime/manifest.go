package runtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// ManifestFile is the package manifest at the root of a backend template.
	ManifestFile = "package.json"
	// EntryFile is started directly when the manifest declares no usable script.
	EntryFile = "index.js"
)

type manifest struct {
	Scripts map[string]string `json:"scripts"`
}

// StartCommand picks how to start the server: the "dev" script, else the
// "start" script, else the entry file under node. The second value is a
// human-readable line describing the choice.
//
// A missing or unparsable manifest falls through to the entry file.
func StartCommand(raw string, entry string) (Command, string) {
	if entry == "" {
		entry = EntryFile
	}

	var m manifest
	if strings.TrimSpace(raw) != "" {
		// a bad manifest is not fatal here; npm install has already judged it
		_ = json.Unmarshal([]byte(raw), &m)
	}

	for _, script := range []string{"dev", "start"} {
		if strings.TrimSpace(m.Scripts[script]) != "" {
			cmd := Command{Name: "npm", Args: []string{"run", script}}
			return cmd, fmt.Sprintf("Starting server with %q script (%s)", script, cmd)
		}
	}
	cmd := Command{Name: "node", Args: []string{entry}}
	return cmd, fmt.Sprintf("No dev or start script found, starting %s directly (%s)", entry, cmd)
}
