package voyages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litoral-labs/micdta/pkg/contracts"
)

const catalogYAML = `voyages:
  - id: VOY-001
    origin: ARBUE
    destination: PYASU
    lead_vessel: BT-GUARANI
    vessel_count: 3
    shipments:
      - id: s1
        description: soja a granel
        titles: [T-1, T-2]
  - id: VOY-002
    origin: PYASU
    destination: ARROS
`

func TestLoadFileParsesCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voyages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o644))

	cat, err := LoadFile(path)
	require.NoError(t, err)

	v, err := cat.Voyage("VOY-001")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, v.IsConvoy())
	require.Len(t, v.Shipments, 1)
	assert.Equal(t, "VOY-001", v.Shipments[0].VoyageID)
	assert.Equal(t, []string{"T-1", "T-2"}, v.Shipments[0].Titles)

	// vessel_count defaults to 1 when omitted
	v, err = cat.Voyage("VOY-002")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.False(t, v.IsConvoy())
}

func TestLoadFileMissingIsEmptyCatalog(t *testing.T) {
	cat, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	v, err := cat.Voyage("VOY-001")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestLoadFileRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voyages.yaml")
	dup := "voyages:\n  - id: VOY-001\n  - id: VOY-001\n"
	require.NoError(t, os.WriteFile(path, []byte(dup), 0o644))

	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "duplicate voyage")
}

func TestStaticPutAndAll(t *testing.T) {
	cat := NewStatic(nil)
	cat.Put(contracts.Voyage{ID: "VOY-009", Origin: "ARBUE", Destination: "PYASU", VesselCount: 1})

	v, err := cat.Voyage("VOY-009")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Len(t, cat.All(), 1)
}
