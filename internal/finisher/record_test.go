package finisher

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUnmarshal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantTime *int64
		wantErr  bool
		invalid  bool
	}{
		{name: "finishTimeMs", input: `{"id":"1","bibNumber":"42","finishTimeMs":321350}`, wantTime: Millis(321350)},
		{name: "legacy numeric finishTime", input: `{"id":"1","bibNumber":"42","finishTime":321350.0}`, wantTime: Millis(321350)},
		{name: "legacy string finishTime", input: `{"id":"1","bibNumber":"42","finishTime":"05:21.35"}`, wantTime: Millis(321350)},
		{name: "legacy null finishTime", input: `{"id":"1","bibNumber":"42","finishTime":null}`},
		{name: "no time at all", input: `{"id":"1","bibNumber":"42"}`},
		{name: "finishTimeMs wins over legacy", input: `{"id":"1","bibNumber":"42","finishTimeMs":1000,"finishTime":"05:21.35"}`, wantTime: Millis(1000)},
		{name: "bad legacy string", input: `{"id":"1","bibNumber":"42","finishTime":"5:21"}`, wantErr: true},
		{name: "negative legacy number", input: `{"id":"1","bibNumber":"42","finishTime":-5}`, wantErr: true, invalid: true},
		{name: "legacy number out of range", input: `{"id":"1","bibNumber":"42","finishTime":1e300}`, wantErr: true, invalid: true},
		{name: "negative finishTimeMs", input: `{"id":"1","bibNumber":"42","finishTimeMs":-5}`, wantErr: true, invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var rec Record
			err := json.Unmarshal([]byte(tt.input), &rec)
			if tt.wantErr {
				assert.Error(t, err)
				if tt.invalid {
					var verr *ValidationError
					assert.ErrorAs(t, err, &verr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "1", rec.ID)
			assert.Equal(t, "42", rec.BibNumber)
			assert.Equal(t, tt.wantTime, rec.FinishTimeMs)
		})
	}
}

func TestRecordMarshalOmitsMissingTime(t *testing.T) {
	t.Parallel()
	out, err := json.Marshal(Record{ID: "7", BibNumber: "Unknown-1"})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "finishTimeMs")
	assert.Contains(t, string(out), `"rank":0`)
}

func TestRecordHelpers(t *testing.T) {
	t.Parallel()

	rec := Record{ID: "1", BibNumber: "Unknown-3"}
	assert.True(t, rec.IsProvisional())
	assert.Equal(t, "", rec.FormattedTime())

	rec = Record{ID: "1", BibNumber: "42", RacerName: "Ada", FinishTimeMs: Millis(321350)}
	assert.False(t, rec.IsProvisional())
	assert.Equal(t, "05:21.35", rec.FormattedTime())

	clone := rec.Clone()
	*clone.FinishTimeMs = 1
	assert.Equal(t, int64(321350), *rec.FinishTimeMs)
}

func TestNormalizeGender(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"m": "M", "Male": "M", "MAN": "M",
		"w": "W", "f": "W", "female": "W", "Woman": "W",
		"nb": "NB", "": "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeGender(in), "input %q", in)
	}
}

func TestDraftValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		draft     Draft
		wantField string
		wantTime  *int64
	}{
		{name: "minimal", draft: Draft{BibNumber: "42"}},
		{name: "with clock text", draft: Draft{BibNumber: "42", FinishTime: "05:21.35"}, wantTime: Millis(321350)},
		{name: "with ms", draft: Draft{BibNumber: "42", FinishTimeMs: Millis(1000)}, wantTime: Millis(1000)},
		{name: "empty bib", draft: Draft{BibNumber: "  "}, wantField: "bibNumber"},
		{name: "short name", draft: Draft{BibNumber: "42", RacerName: " A "}, wantField: "racerName"},
		{name: "bad time", draft: Draft{BibNumber: "42", FinishTime: "5:21.35"}, wantField: "finishTime"},
		{name: "negative ms", draft: Draft{BibNumber: "42", FinishTimeMs: Millis(-1)}, wantField: "finishTimeMs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := tt.draft
			err := d.Validate()
			if tt.wantField != "" {
				var ve *ValidationError
				require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
				assert.Equal(t, tt.wantField, ve.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTime, d.FinishTimeMs)
			assert.Empty(t, d.FinishTime)
		})
	}
}

func TestDraftRecord(t *testing.T) {
	t.Parallel()
	d := Draft{BibNumber: " 42 ", RacerName: " Ada Lovelace ", FinishTimeMs: Millis(500), Gender: "female", Team: " Fast "}
	rec := d.Record("abc")
	assert.Equal(t, Record{ID: "abc", BibNumber: "42", RacerName: "Ada Lovelace", FinishTimeMs: Millis(500), Gender: "W", Team: "Fast"}, rec)
}

func TestPatch(t *testing.T) {
	t.Parallel()

	base := Record{ID: "1", BibNumber: "Unknown-1", FinishTimeMs: Millis(1000)}

	p := Patch{BibNumber: String("42"), RacerName: String("Grace"), FinishTime: String("00:02.00")}
	require.NoError(t, p.Validate())
	assert.True(t, p.ChangesTime())
	got := p.Apply(base)
	assert.Equal(t, "42", got.BibNumber)
	assert.Equal(t, "Grace", got.RacerName)
	assert.Equal(t, int64(2000), *got.FinishTimeMs)
	assert.Equal(t, int64(1000), *base.FinishTimeMs, "apply must not mutate input")

	clearTime := Patch{ClearFinishTime: true}
	require.NoError(t, clearTime.Validate())
	assert.Nil(t, clearTime.Apply(base).FinishTimeMs)

	assert.True(t, Patch{}.IsEmpty())

	bad := Patch{RacerName: String("x")}
	var ve *ValidationError
	require.ErrorAs(t, bad.Validate(), &ve)
	assert.Equal(t, "racerName", ve.Field)

	both := Patch{FinishTimeMs: Millis(1), ClearFinishTime: true}
	assert.Error(t, both.Validate())

	emptyBib := Patch{BibNumber: String("")}
	assert.Error(t, emptyBib.Validate())
}
