package roster

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intermernet/finishline/internal/finisher"
)

func TestParse(t *testing.T) {
	t.Parallel()

	csvData := strings.Join([]string{
		"bibNumber,racerName,gender,team",
		"1,Ada Lovelace,female,Analytical",
		"2,Alan Turing,M,",
		",Nameless,,",
		"1,Duplicate Ada,,",
		"3,Grace Hopper",
	}, "\n")

	entries, rowErrs, err := Parse(strings.NewReader(csvData))
	require.NoError(t, err)

	require.Len(t, entries, 3)
	assert.Equal(t, Entry{BibNumber: "1", RacerName: "Ada Lovelace", Gender: "female", Team: "Analytical"}, entries[0])
	assert.Equal(t, "3", entries[2].BibNumber)
	assert.Empty(t, entries[2].Team)

	require.Len(t, rowErrs, 2)
	assert.Equal(t, 4, rowErrs[0].Row)
	assert.Equal(t, "Row 5: Duplicate bib number 1 in CSV file", rowErrs[1].String())
}

func TestParseMissingHeaders(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "bibNumber,name\n1,x", "racerName\nx"} {
		_, _, err := Parse(strings.NewReader(input))
		assert.ErrorIs(t, err, ErrMissingHeaders, "input %q", input)
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	existing := []finisher.Record{
		{ID: "a", BibNumber: "1", RacerName: "Racer #1", FinishTimeMs: finisher.Millis(5000), Rank: 1},
	}
	entries := []Entry{
		{BibNumber: "1", RacerName: "Ada", Gender: "F"},
		{BibNumber: "2", RacerName: "Alan", Team: "Bletchley"},
	}
	n := 0
	newID := func() string { n++; return fmt.Sprintf("new-%d", n) }

	res := Merge(existing, entries, newID)

	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "Ada", res.Records[0].RacerName)
	assert.Equal(t, "W", res.Records[0].Gender)
	assert.Equal(t, int64(5000), *res.Records[0].FinishTimeMs)
	assert.Equal(t, finisher.Record{ID: "new-1", BibNumber: "2", RacerName: "Alan", Team: "Bletchley"}, res.Records[1])
	assert.Equal(t, "Racer #1", existing[0].RacerName, "merge must not mutate input")
}
