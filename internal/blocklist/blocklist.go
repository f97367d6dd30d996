// Package blocklist reads and writes plain-text domain blocklists.
//
// A blocklist holds one domain per line. Lines whose first non-whitespace
// character is '#' are comments; blank lines are ignored.
package blocklist

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"sort"
	"strings"
)

// SectionMarker separates appended discoveries from hand-maintained entries.
const SectionMarker = "# --- Discovered domains ---"

// FileAccessError reports a blocklist or output file that could not be opened,
// read or written.
type FileAccessError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error {
	return e.Err
}

// Domains returns the distinct, trimmed, non-blank, non-comment lines of r in
// ascending byte order. Entries are kept verbatim: no case folding and no
// validation.
func Domains(r io.Reader) ([]string, error) {
	set := make(map[string]struct{})
	err := EachEntry(r, func(_ int, entry string) {
		set[entry] = struct{}{}
	})
	if err != nil {
		return nil, err
	}

	domains := make([]string, 0, len(set))
	for d := range set {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains, nil
}

// Load reads the blocklist at path. A missing or unreadable file is a
// *FileAccessError.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileAccessError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	domains, err := Domains(f)
	if err != nil {
		return nil, &FileAccessError{Op: "read", Path: path, Err: err}
	}
	return domains, nil
}

// Set is a lowercased domain set. Contains also matches subdomains of a
// member, the same way a ||domain^ rule does.
type Set map[string]struct{}

// Contains reports whether host or one of its parent domains is in s.
func (s Set) Contains(host string) bool {
	host = strings.ToLower(host)
	if _, ok := s[host]; ok {
		return true
	}

	parts := strings.Split(host, ".")
	for i := 1; i < len(parts)-1; i++ {
		if _, ok := s[strings.Join(parts[i:], ".")]; ok {
			return true
		}
	}
	return false
}

// LoadSet reads the blocklist at path into a lowercased Set. A missing file
// yields an empty set.
func LoadSet(path string) (Set, error) {
	set := make(Set)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return set, nil
		}
		return nil, &FileAccessError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	err = EachEntry(f, func(_ int, entry string) {
		set[strings.ToLower(entry)] = struct{}{}
	})
	if err != nil {
		return nil, &FileAccessError{Op: "read", Path: path, Err: err}
	}
	return set, nil
}

// Append adds domains to the end of an existing blocklist under
// SectionMarker.
func Append(path string, domains []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &FileAccessError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "\n%s\n", SectionMarker)
	for _, d := range domains {
		fmt.Fprintln(w, d)
	}
	if err := w.Flush(); err != nil {
		return &FileAccessError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// Write creates or truncates path and writes one domain per line.
func Write(path string, domains []string) error {
	var b bytes.Buffer
	for _, d := range domains {
		b.WriteString(d)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		return &FileAccessError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// EachEntry calls fn with the 1-based line number and trimmed text of every
// line in r that is neither blank nor a comment.
func EachEntry(r io.Reader, fn func(lineNo int, entry string)) error {
	sc := newScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fn(lineNo, line)
	}
	return sc.Err()
}

// newScanner splits r into lines of any length.
func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), math.MaxInt)
	sc.Split(scanLines)
	return sc
}

// scanLines splits on "\n", "\r\n" and a lone "\r".
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if !atEOF {
			// need one more byte to tell "\r" from "\r\n"
			return 0, nil, nil
		}
		return i + 1, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
