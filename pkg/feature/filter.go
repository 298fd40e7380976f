package feature

// Filter returns copies of the features keeping only scenarios whose
// effective tags contain at least one include tag (when includes are given)
// and none of the exclude tags. Features left without scenarios are dropped.
func Filter(features []*Feature, include, exclude []string) []*Feature {
	if len(include) == 0 && len(exclude) == 0 {
		return features
	}

	var out []*Feature
	for _, f := range features {
		kept := *f
		kept.Scenarios = nil
		for _, sc := range f.Scenarios {
			if matchesTags(sc.EffectiveTags(f), include, exclude) {
				kept.Scenarios = append(kept.Scenarios, sc)
			}
		}
		if len(kept.Scenarios) > 0 {
			out = append(out, &kept)
		}
	}
	return out
}

func matchesTags(tags, include, exclude []string) bool {
	for _, ex := range exclude {
		if HasTag(tags, ex) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, in := range include {
		if HasTag(tags, in) {
			return true
		}
	}
	return false
}
