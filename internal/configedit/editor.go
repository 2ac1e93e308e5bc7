// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package configedit adds and removes whole lines in remote text files.
// Every change is written next to a backup, read back and compared; a
// mismatch restores the original and keeps the bad content for inspection.
//
// Lines match exactly. "a = b" and "a=b" are different lines, as are lines
// that only differ in trailing whitespace.
package configedit // import "github.com/toeirei/iscsictl/internal/configedit"

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/toeirei/iscsictl/internal/logging"
)

const (
	backupSuffix   = ".BACKUP"
	forensicSuffix = ".EDIT"
)

// FileSystem is the subset of file operations the editor needs.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	Stat(path string) (os.FileInfo, error)
	Rename(oldpath, newpath string) error
	Remove(path string) error
}

// EditVerificationError means the content read back after a write did not
// match what was written. The original file has been restored and the
// content that was found is kept at ForensicPath.
type EditVerificationError struct {
	Path         string
	ForensicPath string
}

func (e *EditVerificationError) Error() string {
	return fmt.Sprintf("verification of %s failed; original restored, bad content kept at %s", e.Path, e.ForensicPath)
}

// Editor edits files on one host.
type Editor struct {
	fs FileSystem
}

// New returns an editor working through fs.
func New(fs FileSystem) *Editor {
	return &Editor{fs: fs}
}

// Append adds every line that is not yet present as a full line. A missing
// final newline is added before the first new line. Calling Append again
// with the same lines changes nothing.
func (e *Editor) Append(path string, lines ...string) error {
	original, err := e.read(path)
	if err != nil {
		return err
	}

	present := map[string]bool{}
	for _, l := range splitLines(original) {
		present[l] = true
	}
	var missing []string
	for _, l := range lines {
		if present[l] {
			continue
		}
		present[l] = true
		missing = append(missing, l)
	}
	if len(missing) == 0 {
		logging.Debugf("%s already contains all %d line(s)", path, len(lines))
		return nil
	}

	var buf bytes.Buffer
	buf.Write(original)
	if len(original) > 0 && !bytes.HasSuffix(original, []byte("\n")) {
		buf.WriteByte('\n')
	}
	for _, l := range missing {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return e.commit(path, original, buf.Bytes())
}

// Remove drops every full line equal to one of lines, together with its
// newline. An unterminated last line is matched too.
func (e *Editor) Remove(path string, lines ...string) error {
	original, err := e.read(path)
	if err != nil {
		return err
	}

	drop := map[string]bool{}
	for _, l := range lines {
		drop[l] = true
	}
	var buf bytes.Buffer
	for _, chunk := range strings.SplitAfter(string(original), "\n") {
		if chunk == "" {
			continue
		}
		if drop[strings.TrimSuffix(chunk, "\n")] {
			continue
		}
		buf.WriteString(chunk)
	}
	if bytes.Equal(buf.Bytes(), original) {
		logging.Debugf("%s contains none of the %d line(s)", path, len(lines))
		return nil
	}
	return e.commit(path, original, buf.Bytes())
}

// read treats a missing file as empty, so Append can create it.
func (e *Editor) read(path string) ([]byte, error) {
	b, err := e.fs.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return b, nil
}

// Contains reports whether path holds line as a full line.
func (e *Editor) Contains(path, line string) (bool, error) {
	content, err := e.read(path)
	if err != nil {
		return false, err
	}
	for _, l := range splitLines(content) {
		if l == line {
			return true, nil
		}
	}
	return false, nil
}

func (e *Editor) commit(path string, original, expected []byte) error {
	var mode os.FileMode = 0o644
	existed := true
	if fi, err := e.fs.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	} else if errors.Is(err, fs.ErrNotExist) {
		existed = false
	} else {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	backup := path + backupSuffix
	if err := e.fs.WriteFile(backup, original, mode); err != nil {
		return fmt.Errorf("failed to back up %s: %w", path, err)
	}
	if err := e.fs.WriteFile(path, expected, mode); err != nil {
		return e.restore(path, backup, existed, fmt.Errorf("failed to write %s: %w", path, err))
	}

	actual, err := e.fs.ReadFile(path)
	if err != nil {
		return e.restore(path, backup, existed, fmt.Errorf("failed to re-read %s: %w", path, err))
	}
	if !bytes.Equal(actual, expected) {
		forensic := path + forensicSuffix
		if werr := e.fs.WriteFile(forensic, actual, mode); werr != nil {
			logging.Warnf("could not keep bad content of %s: %v", path, werr)
		}
		if rerr := e.revert(path, backup, existed); rerr != nil {
			return fmt.Errorf("failed to restore %s from %s after verification failure: %w", path, backup, rerr)
		}
		logging.Errorf("content of %s did not match after write; restored from backup", path)
		return &EditVerificationError{Path: path, ForensicPath: forensic}
	}

	if err := e.fs.Remove(backup); err != nil {
		logging.Warnf("could not remove backup %s: %v", backup, err)
	}
	return nil
}

func (e *Editor) restore(path, backup string, existed bool, cause error) error {
	if rerr := e.revert(path, backup, existed); rerr != nil {
		return errors.Join(cause, fmt.Errorf("failed to restore %s: %w", path, rerr))
	}
	return cause
}

// revert puts the backup back over path. A path that did not exist before
// the edit is removed along with its empty backup.
func (e *Editor) revert(path, backup string, existed bool) error {
	if existed {
		return e.fs.Rename(backup, path)
	}
	if err := e.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return e.fs.Remove(backup)
}

func splitLines(content []byte) []string {
	s := strings.TrimSuffix(string(content), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
