package forks

// HiveRuleset returns the hive client environment that configures a node for
// this network: every fork up to the active one is enabled at genesis, and
// the target fork of a transition at its activation point.
func (n Network) HiveRuleset() map[string]uint64 {
	rules := make(map[string]uint64)
	for f := Homestead; f <= n.from; f++ {
		for _, key := range table[f].hive {
			rules[key.name] = 0
		}
	}
	if !n.transition {
		return rules
	}
	for _, key := range table[n.to].hive {
		if key.timestamp {
			rules[key.name] = n.atTime
		} else {
			rules[key.name] = n.atBlock
		}
	}
	return rules
}
