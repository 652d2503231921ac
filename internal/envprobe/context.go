// Package envprobe inspects a working directory for a small set of
// well-known project markers and renders a short summary that gets
// appended to the agent's system prompt augmentation.
package envprobe

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Context provides helpers for inspecting a directory tree. Commands are
// resolved through lookPath so tests can stub out PATH lookups.
type Context struct {
	root     string
	lookPath func(string) (string, error)
}

// NewContext builds a Context rooted at root, resolving commands via
// exec.LookPath.
func NewContext(root string) *Context {
	return &Context{root: root, lookPath: exec.LookPath}
}

// NewContextWithLookPath overrides the command resolver, used by tests.
func NewContextWithLookPath(root string, lookPath func(string) (string, error)) *Context {
	ctx := NewContext(root)
	if lookPath != nil {
		ctx.lookPath = lookPath
	}
	return ctx
}

// Root returns the directory this Context inspects.
func (c *Context) Root() string { return c.root }

// HasFile reports whether a regular file exists relative to Root.
func (c *Context) HasFile(relPath string) bool {
	if relPath == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(c.root, relPath))
	return err == nil && !info.IsDir()
}

// HasDir reports whether a directory exists relative to Root.
func (c *Context) HasDir(relPath string) bool {
	if relPath == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(c.root, relPath))
	return err == nil && info.IsDir()
}

// CommandExists reports whether name is resolvable on PATH.
func (c *Context) CommandExists(name string) bool {
	if name == "" {
		return false
	}
	_, err := c.lookPath(name)
	return err == nil
}

// ReadFile reads a file relative to Root.
func (c *Context) ReadFile(relPath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(c.root, relPath))
}

// RunCommandOutput runs name with args inside Root and returns its
// trimmed stdout. Errors are returned verbatim for the caller to ignore.
func (c *Context) RunCommandOutput(name string, args ...string) (string, error) {
	if _, err := c.lookPath(name); err != nil {
		return "", err
	}
	cmd := exec.Command(name, args...)
	cmd.Dir = c.root
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// FindFirstWithSuffix walks Root (skipping .git/node_modules/vendor/target) and
// returns the first path matching one of the given suffixes.
func (c *Context) FindFirstWithSuffix(suffixes ...string) (string, bool) {
	var found string
	_ = filepath.WalkDir(c.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", "node_modules", "vendor", "target":
				return filepath.SkipDir
			}
			return nil
		}
		for _, suf := range suffixes {
			if strings.HasSuffix(path, suf) {
				found = path
				return filepath.SkipAll
			}
		}
		return nil
	})
	return found, found != ""
}
