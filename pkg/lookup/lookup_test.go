package lookup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testFileToIDs = `{"c0_0": [101, 102, 103], "c1_2": [103, 104]}`
	testIDsToNT   = `{"101": "gaba", "102": "glutamate", "103": "acetylcholine", "104": "gaba"}`
)

func TestParse(t *testing.T) {
	tables, err := Parse([]byte(testFileToIDs), []byte(testIDsToNT))
	require.NoError(t, err)

	id, err := tables.SynapseID("c1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(103), id)

	nt, err := tables.Neurotransmitter(id)
	require.NoError(t, err)
	assert.Equal(t, Acetylcholine, nt)
}

func TestUnknownIdentities(t *testing.T) {
	tables, err := Parse([]byte(testFileToIDs), []byte(testIDsToNT))
	require.NoError(t, err)

	_, err = tables.SynapseID("c2", 0, 0)
	assert.True(t, errors.Is(err, ErrUnknownSynapse))

	_, err = tables.SynapseID("c0", 0, 3)
	assert.True(t, errors.Is(err, ErrUnknownSynapse))

	_, err = tables.Neurotransmitter(999)
	assert.True(t, errors.Is(err, ErrUnknownSynapse))
}

func TestSchemaRejectsBadTables(t *testing.T) {
	cases := []struct {
		name      string
		fileToIDs string
		idsToNT   string
	}{
		{"bad neurotransmitter", testFileToIDs, `{"101": "dopamine"}`},
		{"non numeric id key", testFileToIDs, `{"abc": "gaba"}`},
		{"bad chunk tag", `{"c0-0": [1]}`, testIDsToNT},
		{"string ids", `{"c0_0": ["101"]}`, testIDsToNT},
		{"not json", `{`, testIDsToNT},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.fileToIDs), []byte(tc.idsToNT))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	f2i := filepath.Join(dir, "file_to_ids.json")
	i2n := filepath.Join(dir, "ids_to_nt.json")
	require.NoError(t, os.WriteFile(f2i, []byte(testFileToIDs), 0644))
	require.NoError(t, os.WriteFile(i2n, []byte(testIDsToNT), 0644))

	tables, err := Load(f2i, i2n)
	require.NoError(t, err)
	id, err := tables.SynapseID("c0", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(102), id)

	_, err = Load(filepath.Join(dir, "missing.json"), i2n)
	assert.Error(t, err)
}

func TestNewCopiesMaps(t *testing.T) {
	ids := map[string][]int64{"c0_0": {1}}
	tables := New(ids, map[int64]string{1: GABA})
	ids["c0_0"][0] = 2

	id, err := tables.SynapseID("c0", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}
