package config

import (
	"cmp"
	"slices"

	"github.com/flemzord/appcraft/internal/core"
)

// namespaceRank orders module loading so that providers of services are
// provisioned before their consumers. Unknown namespaces load last.
var namespaceRank = map[string]int{
	"store":      0,
	"telemetry":  1,
	"automation": 2,
	"gateway":    3,
}

// Resolve returns the configured module IDs in load order: by namespace
// rank, then alphabetically.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if c := cmp.Compare(rank(a), rank(b)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return ids
}

func rank(id string) int {
	if r, ok := namespaceRank[core.ModuleID(id).Namespace()]; ok {
		return r
	}
	return len(namespaceRank)
}
