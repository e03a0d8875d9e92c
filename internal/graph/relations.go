package graph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Relation declares that one command typically consumes another's output
// (pipe) or must simply run after it (sequence).
type Relation struct {
	From string   `yaml:"from"`
	To   string   `yaml:"to"`
	Kind EdgeKind `yaml:"kind"`
}

// RelationTable maps (from, to) command-name pairs to an edge kind.
type RelationTable map[[2]string]EdgeKind

// Kind returns the declared relation between two commands, if any.
func (t RelationTable) Kind(from, to string) (EdgeKind, bool) {
	k, ok := t[[2]string{from, to}]
	return k, ok
}

// ArgsTable maps a command name to its default arguments. Commands absent
// from the table run bare.
type ArgsTable map[string][]string

// DefaultRelations is the built-in relation table. It is biased toward
// diagnostic flows: listers feed filters, filters feed reducers.
func DefaultRelations() RelationTable {
	rels := []Relation{
		{From: "pactl", To: "grep", Kind: EdgePipe},
		{From: "amixer", To: "grep", Kind: EdgePipe},
		{From: "aplay", To: "grep", Kind: EdgePipe},
		{From: "arecord", To: "grep", Kind: EdgePipe},
		{From: "ps", To: "grep", Kind: EdgePipe},
		{From: "dmesg", To: "grep", Kind: EdgePipe},
		{From: "lsusb", To: "grep", Kind: EdgePipe},
		{From: "lspci", To: "grep", Kind: EdgePipe},
		{From: "lsmod", To: "grep", Kind: EdgePipe},
		{From: "journalctl", To: "grep", Kind: EdgePipe},
		{From: "grep", To: "sort", Kind: EdgePipe},
		{From: "grep", To: "wc", Kind: EdgePipe},
		{From: "sort", To: "uniq", Kind: EdgePipe},
		{From: "pactl", To: "amixer", Kind: EdgeSequence},
		{From: "lsmod", To: "modinfo", Kind: EdgeSequence},
	}
	t := make(RelationTable, len(rels))
	for _, r := range rels {
		t[[2]string{r.From, r.To}] = r.Kind
	}
	return t
}

// DefaultArgs is the built-in argument policy. The bias matches the
// relation table: listers list, filters look for the interesting lines.
func DefaultArgs() ArgsTable {
	return ArgsTable{
		"pactl":      {"list", "sinks"},
		"amixer":     {"sget", "Master"},
		"aplay":      {"-l"},
		"arecord":    {"-l"},
		"ps":         {"aux"},
		"grep":       {"-i", "volume"},
		"lsmod":      {},
		"journalctl": {"--no-pager", "-b", "-p", "warning"},
		"sort":       {},
		"wc":         {"-l"},
	}
}

type relationsFile struct {
	Relations []Relation          `yaml:"relations"`
	Args      map[string][]string `yaml:"args"`
}

// LoadRelations reads a relation and argument table from a YAML file. The
// file fully replaces the defaults for any pair it declares; pairs it does
// not mention keep the built-in behavior.
func LoadRelations(path string) (RelationTable, ArgsTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var f relationsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("failed to parse relations file %s: %w", path, err)
	}

	rels := DefaultRelations()
	for _, r := range f.Relations {
		if r.Kind != EdgePipe && r.Kind != EdgeSequence {
			return nil, nil, fmt.Errorf("relation %s -> %s has unknown kind %q", r.From, r.To, r.Kind)
		}
		rels[[2]string{r.From, r.To}] = r.Kind
	}
	args := DefaultArgs()
	for name, a := range f.Args {
		args[name] = a
	}
	return rels, args, nil
}
