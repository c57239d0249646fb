package main

import (
	"encoding/json"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/cuemby/onboard/pkg/types"
)

// configDiff renders a line diff between two device configs. Removed lines
// start with "- ", added lines with "+ ", unchanged lines with two spaces.
func configDiff(original, current types.Config) (string, error) {
	before, err := indentJSON(original)
	if err != nil {
		return "", err
	}
	after, err := indentJSON(current)
	if err != nil {
		return "", err
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(prefix)
			out.WriteString(line)
		}
	}
	return out.String(), nil
}

func indentJSON(cfg types.Config) (string, error) {
	if cfg == nil {
		cfg = types.Config{}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}
