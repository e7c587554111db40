package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameEntry(t *testing.T) {
	tests := []struct {
		name string
		a, b Entry
		want bool
	}{
		{"same id", Entry{ID: "a", Name: "X"}, Entry{ID: "a", Name: "Y"}, true},
		{"different id same name", Entry{ID: "a", Name: "X"}, Entry{ID: "b", Name: "X"}, false},
		{"one id missing falls back to name", Entry{ID: "a", Name: "Rey"}, Entry{Name: " rey "}, true},
		{"case-insensitive name", Entry{Name: "Rey Mysterio"}, Entry{Name: "rey mysterio"}, true},
		{"unicode folding", Entry{Name: "Último Dragón"}, Entry{Name: "ÚLTIMO DRAGÓN"}, true},
		{"different names", Entry{Name: "Rey"}, Entry{Name: "Edge"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SameEntry(tt.a, tt.b))
		})
	}
}

func TestMerge_ReplacesByID(t *testing.T) {
	original := []Entry{{ID: "a", Name: "X"}}
	additions := []Entry{{ID: "a", Name: "Y"}}

	got := Merge(original, additions, nil)

	assert.Equal(t, []Entry{{ID: "a", Name: "Y"}}, got)
	assert.Equal(t, "X", original[0].Name)
}

func TestMerge_NameFallback(t *testing.T) {
	original := []Entry{{Name: "Rey Mysterio"}}
	additions := []Entry{{Name: "rey mysterio", Note: "619"}}

	got := Merge(original, additions, SameEntry)

	require.Len(t, got, 1)
	assert.Equal(t, "619", got[0].Note)
}

func TestMerge_PreservesOrder(t *testing.T) {
	original := []Entry{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}, {ID: "c", Name: "C"}}
	additions := []Entry{{ID: "d", Name: "D"}, {ID: "b", Name: "B2"}, {Name: "e"}}

	got := Merge(original, additions, nil)

	names := make([]string, 0, len(got))
	for _, e := range got {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"A", "B2", "C", "D", "e"}, names)
}

func TestMerge_AdditionsMatchEachOther(t *testing.T) {
	got := Merge(nil, []Entry{{Name: "Sting"}, {Name: "STING", Note: "later"}}, nil)

	require.Len(t, got, 1)
	assert.Equal(t, "later", got[0].Note)
}

func TestMerge_EmptyAdditionsCopies(t *testing.T) {
	original := []Entry{{ID: "a", Name: "A"}}

	got := Merge(original, nil, nil)
	require.Equal(t, original, got)

	got[0].Name = "changed"
	assert.Equal(t, "A", original[0].Name)
}

func TestMerge_CustomEquality(t *testing.T) {
	byNote := func(a, b Entry) bool { return a.Note == b.Note }

	got := Merge([]Entry{{Name: "A", Note: "n"}}, []Entry{{Name: "B", Note: "n"}}, byNote)

	assert.Equal(t, []Entry{{Name: "B", Note: "n"}}, got)
}

func TestApply(t *testing.T) {
	now := time.UnixMilli(2000)
	table := LiveTable{
		Better: []Entry{{ID: "rey", Name: "Rey", Source: SourceLive, AddedAt: 1}},
		Worse:  []Entry{},
	}

	var session Session
	session.Add(Better, Entry{ID: "rey", Name: "Rey", Note: "again", Source: SourceLive, AddedAt: 2})
	session.Add(Worse, Entry{Name: "The Goon", Source: SourceManual, AddedAt: 2})
	session.Add("sideways", Entry{Name: "ignored"})

	got := Apply(table, session, "live session", now)

	require.Len(t, got.Better, 1)
	assert.Equal(t, "again", got.Better[0].Note)
	require.Len(t, got.Worse, 1)
	require.NotNil(t, got.UpdatedAt)
	assert.Equal(t, int64(2000), *got.UpdatedAt)
	require.Len(t, got.History, 1)
	assert.Equal(t, "Added 2 picks via live session.", got.History[0].Summary)
	assert.Empty(t, table.History)
}
