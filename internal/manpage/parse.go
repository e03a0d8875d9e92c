// Package manpage builds the command index from the system manual.
//
// The list of installed commands comes from the manual's keyword search
// (man -k); each command's page is then rendered and mined for its SYNOPSIS
// and DESCRIPTION sections. The resulting entries, embedded over
// "{name}\n{synopsis}\n{description}", are the authoritative corpus the
// query side searches against.
package manpage

import (
	"regexp"
	"strings"
)

// aproposLine matches "name (section) - description" output from man -k.
var aproposLine = regexp.MustCompile(`^(\S+?)(?:,\s+\S+)*\s+\(([^)]+)\)\s+-\s+(.*)$`)

// listing is one line of the keyword-search output.
type listing struct {
	Name    string
	Section string
	Short   string
}

// parseListings parses man -k output. Unparseable lines are dropped.
func parseListings(out string) []listing {
	var listings []listing
	seen := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		m := aproposLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		listings = append(listings, listing{Name: name, Section: m[2], Short: m[3]})
	}
	return listings
}

// stripOverstrike removes the backspace bold/underline sequences that man
// emits when rendering to a non-terminal.
func stripOverstrike(s string) string {
	if !strings.ContainsRune(s, '\b') {
		return s
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\b' {
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

// sectionHeader matches an unindented all-caps manual section header.
var sectionHeader = regexp.MustCompile(`^[A-Z][A-Z0-9 _-]*$`)

// extractSection returns the lines under the named header, up to the next
// header.
func extractSection(page, header string) []string {
	lines := strings.Split(stripOverstrike(page), "\n")
	var body []string
	in := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		isHeader := trimmed != "" && !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") &&
			sectionHeader.MatchString(trimmed)
		if isHeader {
			if in {
				break
			}
			in = strings.EqualFold(trimmed, header)
			continue
		}
		if in {
			body = append(body, line)
		}
	}
	return body
}

// ExtractSynopsis returns the first non-empty line after the SYNOPSIS
// header, whitespace-collapsed. Empty when the page has no synopsis.
func ExtractSynopsis(page string) string {
	for _, line := range extractSection(page, "SYNOPSIS") {
		trimmed := strings.Join(strings.Fields(line), " ")
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// ExtractDescription concatenates the paragraphs under DESCRIPTION,
// truncated to cap bytes. A malformed page yields whatever could be read.
func ExtractDescription(page string, cap int) string {
	lines := extractSection(page, "DESCRIPTION")
	var paragraphs []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			paragraphs = append(paragraphs, strings.Join(current, " "))
			current = nil
		}
	}
	for _, line := range lines {
		trimmed := strings.Join(strings.Fields(line), " ")
		if trimmed == "" {
			flush()
			continue
		}
		current = append(current, trimmed)
	}
	flush()

	desc := strings.Join(paragraphs, "\n\n")
	if cap > 0 && len(desc) > cap {
		desc = desc[:cap]
	}
	return desc
}

// EmbeddingText is the exact string an entry is embedded over. The query
// side embeds the raw user prompt instead; both live in the same space by
// construction.
func EmbeddingText(name, synopsis, description string) string {
	return name + "\n" + synopsis + "\n" + description
}
