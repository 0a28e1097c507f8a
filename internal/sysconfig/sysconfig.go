// Package sysconfig reads per-plugin system configuration files. A system
// implements ReadConfig by asking a Loader to fill its settings struct
// from <dir>/<plugin>/<file>.yaml.
package sysconfig

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader locates system configuration files under Dir.
type Loader struct {
	Dir string
}

// Path returns the file read for plugin and name.
func (l Loader) Path(plugin, name string) string {
	return filepath.Join(l.Dir, plugin, name+".yaml")
}

// Read decodes <Dir>/<plugin>/<name>.yaml into out, which must be a
// pointer. A missing file leaves out untouched and is not an error, so
// callers fill out with defaults first. Unknown keys are rejected.
func (l Loader) Read(plugin, name string, out any) error {
	if plugin == "" || name == "" {
		return fmt.Errorf("sysconfig: plugin and name are required")
	}
	if strings.ContainsAny(plugin+name, `/\`) || strings.Contains(plugin+name, "..") {
		return fmt.Errorf("sysconfig: invalid plugin %q or name %q", plugin, name)
	}

	path := l.Path(plugin, name)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sysconfig: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("sysconfig: %s: %w", path, err)
	}
	return nil
}

// Write encodes in to <Dir>/<plugin>/<name>.yaml, creating directories as
// needed.
func (l Loader) Write(plugin, name string, in any) error {
	path := l.Path(plugin, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("sysconfig: %w", err)
	}
	data, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("sysconfig: encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("sysconfig: %w", err)
	}
	return nil
}
