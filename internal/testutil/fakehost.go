// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// CommandFunc answers one command on a FakeHost.
type CommandFunc func(args []string, stdin string) (string, error)

// Call is one command seen by a FakeHost.
type Call struct {
	Name  string
	Args  []string
	Stdin string
}

// Line renders the call as a space separated command line.
func (c Call) Line() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// FakeHost is an in-memory host: a flat file map plus scripted commands.
// Commands without a handler succeed with empty output.
type FakeHost struct {
	mu       sync.Mutex
	files    map[string][]byte
	modes    map[string]os.FileMode
	handlers map[string]CommandFunc
	calls    []Call

	// CorruptWrite, when set, may alter data before it is stored.
	CorruptWrite func(path string, data []byte) []byte
	// FailWrite, when set, makes WriteFile return its error for path.
	FailWrite func(path string) error
}

// NewFakeHost returns an empty host.
func NewFakeHost() *FakeHost {
	return &FakeHost{
		files:    map[string][]byte{},
		modes:    map[string]os.FileMode{},
		handlers: map[string]CommandFunc{},
	}
}

// Handle registers fn for the command name.
func (h *FakeHost) Handle(name string, fn CommandFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[name] = fn
}

// SetFile seeds a file with mode 0644.
func (h *FakeHost) SetFile(path, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[path] = []byte(content)
	h.modes[path] = 0o644
}

// File returns the content of path and whether it exists.
func (h *FakeHost) File(path string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.files[path]
	return string(b), ok
}

// Paths lists every stored path in order.
func (h *FakeHost) Paths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.files))
	for p := range h.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Calls returns every command run so far.
func (h *FakeHost) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// Ran reports whether a command line starting with prefix was run.
func (h *FakeHost) Ran(prefix string) bool {
	for _, c := range h.Calls() {
		if strings.HasPrefix(c.Line(), prefix) {
			return true
		}
	}
	return false
}

func (h *FakeHost) Execute(name string, args ...string) (string, error) {
	return h.ExecuteInput("", name, args...)
}

func (h *FakeHost) ExecuteInput(input, name string, args ...string) (string, error) {
	h.mu.Lock()
	h.calls = append(h.calls, Call{Name: name, Args: append([]string(nil), args...), Stdin: input})
	fn := h.handlers[name]
	h.mu.Unlock()
	if fn == nil {
		return "", nil
	}
	return fn(args, input)
}

func (h *FakeHost) ReadFile(path string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), b...), nil
}

func (h *FakeHost) WriteFile(path string, data []byte, perm os.FileMode) error {
	if h.FailWrite != nil {
		if err := h.FailWrite(path); err != nil {
			return err
		}
	}
	stored := append([]byte(nil), data...)
	if h.CorruptWrite != nil {
		stored = h.CorruptWrite(path, stored)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[path] = stored
	if perm != 0 {
		h.modes[path] = perm
	} else if _, ok := h.modes[path]; !ok {
		h.modes[path] = 0o644
	}
	return nil
}

func (h *FakeHost) Stat(path string) (os.FileInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
	}
	return fakeInfo{name: path, size: int64(len(b)), mode: h.modes[path]}, nil
}

func (h *FakeHost) Rename(oldpath, newpath string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.files[oldpath]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldpath, Err: fs.ErrNotExist}
	}
	h.files[newpath] = b
	h.modes[newpath] = h.modes[oldpath]
	delete(h.files, oldpath)
	delete(h.modes, oldpath)
	return nil
}

func (h *FakeHost) Remove(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.files[path]; !ok {
		return &fs.PathError{Op: "remove", Path: path, Err: fs.ErrNotExist}
	}
	delete(h.files, path)
	delete(h.modes, path)
	return nil
}

type fakeInfo struct {
	name string
	size int64
	mode os.FileMode
}

func (f fakeInfo) Name() string       { return f.name }
func (f fakeInfo) Size() int64        { return f.size }
func (f fakeInfo) Mode() os.FileMode  { return f.mode }
func (f fakeInfo) ModTime() time.Time { return time.Time{} }
func (f fakeInfo) IsDir() bool        { return false }
func (f fakeInfo) Sys() any           { return nil }
