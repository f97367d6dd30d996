// Package lint inspects blocklists and generated filter lists.
//
// Nothing here changes what build writes. Build accepts every non-comment
// line verbatim; lint only points out entries that are probably mistakes.
package lint

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/AdguardTeam/urlfilter"
	"github.com/AdguardTeam/urlfilter/filterlist"
	"github.com/miekg/dns"

	"github.com/miguelmartens/opgecanceld-blocklist/internal/blocklist"
)

type Kind string

const (
	KindInvalid   Kind = "invalid"
	KindDuplicate Kind = "duplicate"
	KindVariant   Kind = "variant"
)

type Issue struct {
	Line   int
	Entry  string
	Kind   Kind
	Detail string
}

func (i Issue) String() string {
	return fmt.Sprintf("line %d: %s: %q: %s", i.Line, i.Kind, i.Entry, i.Detail)
}

type Report struct {
	Entries int
	Unique  int
	Issues  []Issue
}

// Blocklist reads the blocklist at path and reports syntactically invalid
// domains, repeated lines, and entries that differ from an earlier one only in
// case or a trailing dot (build keeps those as separate rules).
func Blocklist(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, &blocklist.FileAccessError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	var rep Report
	seen := make(map[string]int)
	canonical := make(map[string]string)

	err = blocklist.EachEntry(f, func(lineNo int, entry string) {
		rep.Entries++

		if first, ok := seen[entry]; ok {
			rep.Issues = append(rep.Issues, Issue{
				Line:   lineNo,
				Entry:  entry,
				Kind:   KindDuplicate,
				Detail: fmt.Sprintf("already listed on line %d", first),
			})
			return
		}
		seen[entry] = lineNo
		rep.Unique++

		if reason := invalidReason(entry); reason != "" {
			rep.Issues = append(rep.Issues, Issue{Line: lineNo, Entry: entry, Kind: KindInvalid, Detail: reason})
		}

		key := strings.TrimSuffix(strings.ToLower(entry), ".")
		if prev, ok := canonical[key]; ok {
			rep.Issues = append(rep.Issues, Issue{
				Line:   lineNo,
				Entry:  entry,
				Kind:   KindVariant,
				Detail: fmt.Sprintf("same domain as %q", prev),
			})
			return
		}
		canonical[key] = entry
	})
	if err != nil {
		return Report{}, &blocklist.FileAccessError{Op: "read", Path: path, Err: err}
	}

	return rep, nil
}

func invalidReason(entry string) string {
	if _, ok := dns.IsDomainName(entry); !ok {
		return "not a domain name"
	}
	if dns.CountLabel(entry) < 2 {
		return "single-label name"
	}
	for i := 0; i < len(entry); i++ {
		c := entry[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_':
		default:
			return fmt.Sprintf("unexpected character %q", c)
		}
	}
	return ""
}

// VerifyFilters loads the filter list at filterPath into a DNS filtering
// engine and returns the domains it does not block, sorted.
func VerifyFilters(filterPath string, domains []string) ([]string, error) {
	data, err := os.ReadFile(filterPath)
	if err != nil {
		return nil, &blocklist.FileAccessError{Op: "read", Path: filterPath, Err: err}
	}

	list := &filterlist.StringRuleList{
		ID:             1,
		RulesText:      string(data),
		IgnoreCosmetic: true,
	}
	storage, err := filterlist.NewRuleStorage([]filterlist.RuleList{list})
	if err != nil {
		return nil, fmt.Errorf("loading filter list: %w", err)
	}
	defer storage.Close()

	engine := urlfilter.NewDNSEngine(storage)

	var missing []string
	for _, d := range domains {
		// the engine matches hostnames case-sensitively; DNS names are not
		if _, ok := engine.Match(strings.ToLower(d)); !ok {
			missing = append(missing, d)
		}
	}
	sort.Strings(missing)
	return missing, nil
}
