package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxa-enrich/internal/model"
)

func entity(name string, hints ...string) model.Entity {
	e := model.Entity{ID: "e1", Name: name}
	for i := 0; i+1 < len(hints); i += 2 {
		e.Hints = append(e.Hints, model.Hint{Key: hints[i], Value: hints[i+1]})
	}
	return e
}

func TestKeywordClassifier_IsMarine(t *testing.T) {
	c := NewKeywordClassifier(DefaultKeywords())

	tests := []struct {
		name   string
		entity model.Entity
		want   bool
	}{
		{"habitat hint", entity("Foo bar", "habitat", "Marine"), true},
		{"habitat word", entity("Foo bar", "habitat", "coastal shelf"), true},
		{"habitat plural", entity("Foo bar", "habitat", "tropical reefs"), true},
		{"habitat phrase in other hint", entity("Foo bar", "notes", "found in the North Sea"), true},
		{"sea inside research", entity("Foo bar", "notes", "research collection"), false},
		{"sea inside seasonal", entity("Foo bar", "habitat", "seasonal pools"), false},
		{"sea inside place name", entity("Foo bar", "locality", "Chelsea Physic Garden"), false},
		{"group hint", entity("Foo bar", "class", "Anthozoa"), true},
		{"group hint case", entity("Foo bar", "class", "chondrichthyes"), true},
		{"genus", entity("Thunnus maccoyii"), true},
		{"kelp genus", entity("Ecklonia radiata", "rank", "Species"), true},
		{"terrestrial veto", entity("Thunnus maccoyii", "habitat", "terrestrial"), false},
		{"mixed habitat not vetoed", entity("Foo bar", "habitat", "freshwater, brackish"), true},
		{"plain terrestrial", entity("Quercus robur", "kingdom", "Plantae"), false},
		{"no hints", entity("Panthera leo"), false},
		{"empty", model.Entity{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsMarine(tt.entity))
		})
	}
}

func TestFunc(t *testing.T) {
	var c Classifier = Func(func(model.Entity) bool { return true })
	assert.True(t, c.IsMarine(model.Entity{}))
}

func TestLoadKeywords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
genera:
  - Quercus
groups: []
`), 0o600))

	kw, err := LoadKeywords(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Quercus"}, kw.Genera)
	assert.Equal(t, DefaultKeywords().Groups, kw.Groups)
	assert.Equal(t, DefaultKeywords().Habitat, kw.Habitat)

	c := NewKeywordClassifier(kw)
	assert.True(t, c.IsMarine(entity("Quercus robur")))
	assert.False(t, c.IsMarine(entity("Thunnus maccoyii")))
}

func TestLoadKeywords_Errors(t *testing.T) {
	_, err := LoadKeywords(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classify: read")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("genera: [unclosed"), 0o600))
	_, err = LoadKeywords(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classify: parse")
}

func TestNew(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.True(t, c.IsMarine(entity("Acropora millepora")))

	_, err = New(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
