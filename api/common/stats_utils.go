package common

import (
	"github.com/sirupsen/logrus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// CreateView builds a view of the given measure using the measure's own
// name and description.
func CreateView(measure stats.Measure, agg *view.Aggregation, tagKeys []string) *view.View {
	return &view.View{
		Name:        measure.Name(),
		Description: measure.Description(),
		Measure:     measure,
		TagKeys:     MakeKeys(tagKeys),
		Aggregation: agg,
	}
}

// MakeMeasure returns an opencensus measure with the given name, desc and unit.
func MakeMeasure(name string, desc string, unit string) *stats.Int64Measure {
	return stats.Int64(name, desc, unit)
}

// MakeKey returns an opencensus tag key of the given name, Fatal on invalid names.
func MakeKey(name string) tag.Key {
	key, err := tag.NewKey(name)
	if err != nil {
		logrus.Fatal(err)
	}
	return key
}

// MakeKeys maps MakeKey over names.
func MakeKeys(names []string) []tag.Key {
	tagKeys := make([]tag.Key, len(names))
	for i, name := range names {
		tagKeys[i] = MakeKey(name)
	}
	return tagKeys
}
