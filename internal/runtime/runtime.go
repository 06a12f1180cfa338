// Package runtime carries the JavaScript support files referenced by
// compiled artifacts: the server-block harness, the reactive client
// primitives, and the RPC dispatcher. They are embedded in the binary
// and written into the output directory on every build.
package runtime

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed js/*.js
var files embed.FS

// DirName is the runtime directory created under the build output.
const DirName = "runtime"

// WriteTo writes the runtime files into outputDir/runtime.
func WriteTo(outputDir string) error {
	dest := filepath.Join(outputDir, DirName)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	entries, err := fs.ReadDir(files, "js")
	if err != nil {
		return err
	}
	for _, e := range entries {
		data, err := files.ReadFile("js/" + e.Name())
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dest, e.Name()), data, 0644); err != nil {
			return err
		}
	}
	return nil
}

// Files lists the embedded runtime file names.
func Files() ([]string, error) {
	entries, err := fs.ReadDir(files, "js")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
