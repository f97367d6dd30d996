package blocklist

import (
	"io"
	"net/netip"
	"os"
	"sort"
	"strings"
)

// ParseFilterList extracts the domains of ||domain^ style network rules from
// an AdGuard/uBlock Origin filter list. Metadata, exceptions, cosmetic rules,
// wildcard and IP entries are skipped. The result is lowercased, distinct and
// sorted.
func ParseFilterList(r io.Reader) ([]string, error) {
	domains := make(map[string]struct{})

	scanner := newScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "[") ||
			strings.HasPrefix(line, "@@") || strings.HasPrefix(line, "#") {
			continue
		}

		if !strings.HasPrefix(line, "||") {
			continue
		}
		line = line[2:]

		endIdx := len(line)
		for i, c := range line {
			if c == '^' || c == '$' || c == '/' || c == '*' || c == '|' {
				endIdx = i
				break
			}
		}

		domain := strings.TrimSuffix(strings.ToLower(line[:endIdx]), ".")
		if domain == "" || !strings.Contains(domain, ".") {
			continue
		}
		if endIdx < len(line) && line[endIdx] == '*' {
			// ||ads.*^ and friends are patterns, not domains
			continue
		}
		if isIPAddress(domain) {
			continue
		}

		domains[domain] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	list := make([]string, 0, len(domains))
	for d := range domains {
		list = append(list, d)
	}
	sort.Strings(list)
	return list, nil
}

// ImportFile runs ParseFilterList over the file at path.
func ImportFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileAccessError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	domains, err := ParseFilterList(f)
	if err != nil {
		return nil, &FileAccessError{Op: "read", Path: path, Err: err}
	}
	return domains, nil
}

func isIPAddress(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}
