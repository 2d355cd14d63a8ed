package topology

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Board descriptions baked into the binary, keyed by "<vendor>/<board>".

//go:embed boards
var boardFS embed.FS

// Boards returns the names of the embedded board descriptions.
func Boards() []string {
	var names []string
	_ = fs.WalkDir(boardFS, "boards", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || path.Ext(p) != ".yaml" {
			return err
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(p, "boards/"), ".yaml"))
		return nil
	})
	sort.Strings(names)
	return names
}

// LoadEmbedded decodes the embedded description of board, e.g.
// "st/stm32h7-nucleo".
func LoadEmbedded(board string) (*ClockTree, error) {
	data, err := boardFS.ReadFile("boards/" + board + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("no embedded clock tree for board %q (known: %v)", board, Boards())
	}
	return Load(data)
}
