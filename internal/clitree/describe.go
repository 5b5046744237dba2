// Package clitree renders a pipeline document as a tree for `clean
// --describe`, grounded on the treeprint usage pattern in the example
// pack (xlab/treeprint's New/AddBranch/String API).
package clitree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hplt-project/opuscleaner-engine/internal/filters"
	"github.com/hplt-project/opuscleaner-engine/internal/pipelinedoc"
	"github.com/xlab/treeprint"
)

// Describe renders p's files and bound filter steps as a tree:
//
//	pipeline
//	├── files
//	│   ├── corpus.en.gz (en)
//	│   └── corpus.de.gz (de)
//	└── filters
//	    ├── 0: dedupe [bilingual]
//	    └── 1: lowercase [monolingual en] min_length=3
func Describe(p pipelinedoc.Pipeline, bound []filters.BoundStep) string {
	tree := treeprint.New()
	tree.SetValue("pipeline")

	filesBranch := tree.AddBranch("files")
	for i, f := range p.Files {
		filesBranch.AddNode(fmt.Sprintf("%s (%s)", f, p.Languages()[i]))
	}

	filtersBranch := tree.AddBranch("filters")
	for i, step := range p.Filters {
		label := fmt.Sprintf("%d: %s", i, step.Filter)
		if step.Language != "" {
			label += fmt.Sprintf(" [monolingual %s]", step.Language)
		} else {
			label += " [bilingual]"
		}
		if i < len(bound) {
			if params := formatParams(bound[i]); params != "" {
				label += " " + params
			}
			if len(bound[i].Warnings) > 0 {
				node := filtersBranch.AddBranch(label)
				for _, w := range bound[i].Warnings {
					node.AddNode("warning: " + w)
				}
				continue
			}
		}
		filtersBranch.AddNode(label)
	}

	return tree.String()
}

func formatParams(b filters.BoundStep) string {
	names := make([]string, 0, len(b.Values))
	for name := range b.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", name, b.Values[name].YAMLValue()))
	}
	return strings.Join(parts, " ")
}
