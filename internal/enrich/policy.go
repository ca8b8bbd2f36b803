package enrich

import (
	"github.com/sells-group/taxa-enrich/internal/classify"
	"github.com/sells-group/taxa-enrich/internal/model"
)

// Plan returns the sources to query for e, in order. An empty plan means the
// entity has nothing left to resolve under pref.
//
// Under auto, marine names go to WoRMS first and everything falls back to
// GBIF. A source that already resolved the entity is skipped unless force is
// set. The caller stops walking the plan once a source returns an accepted
// match.
func Plan(e model.Entity, pref model.Preference, force bool, c classify.Classifier) []model.Source {
	want := func(src model.Source) bool {
		return force || !e.ResolvedBy(src)
	}

	switch pref {
	case model.PreferenceWoRMS:
		if want(model.SourceWoRMS) {
			return []model.Source{model.SourceWoRMS}
		}
		return nil
	case model.PreferenceGBIF:
		if want(model.SourceGBIF) {
			return []model.Source{model.SourceGBIF}
		}
		return nil
	}

	var plan []model.Source
	if c != nil && c.IsMarine(e) && want(model.SourceWoRMS) {
		plan = append(plan, model.SourceWoRMS)
	}
	if want(model.SourceGBIF) {
		plan = append(plan, model.SourceGBIF)
	}
	return plan
}
