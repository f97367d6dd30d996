// Package filters turns a domain blocklist into an AdGuard / uBlock Origin
// filter list.
package filters

import (
	"bytes"
	"fmt"
	"os"

	"github.com/miguelmartens/opgecanceld-blocklist/internal/blocklist"
)

const (
	DefaultTitle       = "Opgecanceld"
	DefaultDescription = "Blocks YouTube ads, tracking, and ad-related services."
	DefaultHomepage    = "https://github.com/your-username/opgecanceld-blocklist"
	DefaultLicense     = "MIT"
	DefaultExpires     = "4 days"
)

const banner = "! --------------------------------------------"

// HeaderLines is the number of lines Header.Text produces.
const HeaderLines = 9

// Header is the metadata block written at the top of every filter list.
type Header struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Homepage    string `yaml:"homepage"`
	License     string `yaml:"license"`
	Expires     string `yaml:"expires"`
}

func DefaultHeader() Header {
	return Header{
		Title:       DefaultTitle,
		Description: DefaultDescription,
		Homepage:    DefaultHomepage,
		License:     DefaultLicense,
		Expires:     DefaultExpires,
	}
}

// Text renders the header. It always ends with a newline.
func (h Header) Text() string {
	var b bytes.Buffer
	b.WriteString(banner + "\n")
	fmt.Fprintf(&b, "! %s - AdGuard / uBlock Origin filter list\n", h.Title)
	b.WriteString(banner + "\n")
	fmt.Fprintf(&b, "! Title: %s\n", h.Title)
	fmt.Fprintf(&b, "! Description: %s\n", h.Description)
	fmt.Fprintf(&b, "! Homepage: %s\n", h.Homepage)
	fmt.Fprintf(&b, "! License: %s\n", h.License)
	fmt.Fprintf(&b, "! Expires: %s\n", h.Expires)
	b.WriteString("!\n")
	return b.String()
}

// Rule formats domain as a network blocking rule.
func Rule(domain string) string {
	return "||" + domain + "^"
}

// Render builds the filter list document for domains, which must already be
// distinct and sorted.
func Render(domains []string, h Header) []byte {
	var b bytes.Buffer
	b.WriteString(h.Text())
	for _, d := range domains {
		b.WriteString(Rule(d))
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// Build reads the blocklist at blocklistPath and overwrites outputPath with
// the rendered filter list. It returns the number of rules written.
//
// The blocklist is fully read and closed before outputPath is touched, so a
// missing input never produces an output file.
func Build(blocklistPath, outputPath string, h Header) (int, error) {
	domains, err := blocklist.Load(blocklistPath)
	if err != nil {
		return 0, err
	}

	if err := os.WriteFile(outputPath, Render(domains, h), 0o644); err != nil {
		return 0, &blocklist.FileAccessError{Op: "write", Path: outputPath, Err: err}
	}
	return len(domains), nil
}
