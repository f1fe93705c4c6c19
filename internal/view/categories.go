package view

import (
	"cmp"
	"slices"

	"github.com/intermernet/finishline/internal/finisher"
)

// Group is a derived category ranking. Rank within the group follows the
// overall order; the records keep their overall Rank.
type Group struct {
	Name    string
	Records []finisher.Record
}

// CategoryRank is the 1-based position of the i-th record within its group.
func (g Group) CategoryRank(i int) int { return i + 1 }

// ByGender groups records by normalised gender. Records with no gender are
// left out.
func ByGender(records []finisher.Record) []Group {
	return groupBy(records, func(r finisher.Record) string { return finisher.NormalizeGender(r.Gender) })
}

// ByTeam groups records by team. Records with no team are left out.
func ByTeam(records []finisher.Record) []Group {
	return groupBy(records, func(r finisher.Record) string { return r.Team })
}

func groupBy(records []finisher.Record, key func(finisher.Record) string) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, rec := range records {
		k := key(rec)
		if k == "" {
			continue
		}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{Name: k})
		}
		groups[i].Records = append(groups[i].Records, rec)
	}
	slices.SortFunc(groups, func(a, b Group) int { return cmp.Compare(a.Name, b.Name) })
	return groups
}
