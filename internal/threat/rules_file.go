// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ruleFile is the top-level shape of a rule definitions file.
type ruleFile struct {
	Rules []*Rule `json:"rules"`
}

// LoadRulesFile reads rule definitions from a YAML file. The loaded set
// replaces the built-ins entirely; every rule must validate or the whole
// file is rejected. Durations use Go syntax ("5m", "1h").
func LoadRulesFile(path string) ([]*Rule, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load rules file %s: %w", path, err)
	}

	var rf ruleFile
	if err := k.UnmarshalWithConf("", &rf, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if len(rf.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", path)
	}

	seen := make(map[string]bool, len(rf.Rules))
	for _, r := range rf.Rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rules file %s: %w", path, err)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rules file %s: duplicate rule id %s", path, r.ID)
		}
		seen[r.ID] = true
	}
	return rf.Rules, nil
}
