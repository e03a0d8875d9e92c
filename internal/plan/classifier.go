package plan

import (
	"fmt"
	"strings"
)

// DomainAudio is the only domain with a built-in plan today.
const DomainAudio = "audio"

// domainKeywords maps lowercase keywords to a domain. First match wins in
// the order declared below.
var domainKeywords = []struct {
	domain string
	words  []string
}{
	{DomainAudio, []string{
		"audio", "sound", "volume", "speaker", "speakers", "microphone",
		"mic", "headphone", "headphones", "mute", "muted", "quiet",
		"pulseaudio", "alsa", "sink", "playback",
	}},
}

// Classify maps a problem statement to a plan domain. Empty when no
// domain matches.
func Classify(statement string) string {
	lowered := strings.ToLower(statement)
	fields := strings.FieldsFunc(lowered, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	words := make(map[string]bool, len(fields))
	for _, f := range fields {
		words[f] = true
	}
	for _, dk := range domainKeywords {
		for _, w := range dk.words {
			if words[w] {
				return dk.domain
			}
		}
	}
	return ""
}

// BuildPlan returns the built-in plan for a domain.
func BuildPlan(domain string) (*Plan, error) {
	switch domain {
	case DomainAudio:
		return audioPlan(), nil
	default:
		return nil, fmt.Errorf("no plan for domain %q", domain)
	}
}

// audioPlan walks the playback stack from server to mixer: enumerate
// sinks, filter for levels, then check the default sink, hardware list
// and master volume independently.
func audioPlan() *Plan {
	return &Plan{
		Name:        "audio-triage",
		Domain:      DomainAudio,
		Description: "Diagnose missing or quiet audio output",
		Steps: []Step{
			{
				Label:       "list-sinks",
				Command:     "pactl",
				Args:        []string{"list", "sinks"},
				Description: "Enumerate the sound server's output sinks with their state and volume",
			},
			{
				Label:       "filter-volume",
				Command:     "grep",
				Args:        []string{"-iE", "volume|mute"},
				DependsOn:   []string{"list-sinks"},
				Pipe:        true,
				Description: "Reduce the sink listing to volume and mute lines",
			},
			{
				Label:       "default-sink",
				Command:     "pactl",
				Args:        []string{"get-default-sink"},
				DependsOn:   []string{"list-sinks"},
				Description: "Identify which sink applications play to by default",
			},
			{
				Label:       "playback-hardware",
				Command:     "aplay",
				Args:        []string{"-l"},
				Description: "List the playback hardware the kernel driver exposes",
			},
			{
				Label:       "master-volume",
				Command:     "amixer",
				Args:        []string{"sget", "Master"},
				DependsOn:   []string{"playback-hardware"},
				Description: "Read the master mixer level below the sound server",
			},
		},
	}
}
