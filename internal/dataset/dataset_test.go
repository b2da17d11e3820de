package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const table = `a,b,y,c
# comment
1,2,10,3
4,5,20,6
`

func TestRead_DefaultInputs(t *testing.T) {
	ds, err := Read(strings.NewReader(table), Options{Targets: []string{"y"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, ds.Inputs)
	assert.Equal(t, []string{"y"}, ds.Targets)
	assert.Equal(t, 2, ds.Samples())
	assert.True(t, mat.Equal(mat.NewDense(3, 2, []float64{1, 4, 2, 5, 3, 6}), ds.X))
	assert.True(t, mat.Equal(mat.NewDense(1, 2, []float64{10, 20}), ds.XX))
}

func TestRead_SelectedInputs(t *testing.T) {
	ds, err := Read(strings.NewReader(table), Options{Targets: []string{"y", "a"}, Inputs: []string{"c"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ds.Inputs)
	assert.True(t, mat.Equal(mat.NewDense(2, 2, []float64{10, 20, 1, 4}), ds.XX))
}

func TestRead_Errors(t *testing.T) {
	_, err := Read(strings.NewReader(table), Options{})
	assert.ErrorIs(t, err, ErrNoTargets)

	_, err = Read(strings.NewReader(table), Options{Targets: []string{"z"}})
	assert.ErrorContains(t, err, `column "z" not found`)

	_, err = Read(strings.NewReader("a,y\n1,x\n"), Options{Targets: []string{"y"}})
	assert.ErrorContains(t, err, "line 2")

	_, err = Read(strings.NewReader("a,y\n"), Options{Targets: []string{"y"}})
	assert.ErrorContains(t, err, "no samples")

	_, err = Read(strings.NewReader("y\n1\n"), Options{Targets: []string{"y"}})
	assert.ErrorContains(t, err, "no input columns")
}

func TestLoad_Semicolon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.csv")
	require.NoError(t, os.WriteFile(path, []byte("x;y\n1;2\n3;4\n"), 0644))

	ds, err := Load(path, Options{Targets: []string{"y"}, Comma: ';'})
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Samples())
}

func TestReadMatrix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.csv")
	require.NoError(t, os.WriteFile(path, []byte("1, 0\n0, 1\n0.5, 0.5\n"), 0644))

	m, err := ReadMatrix(path)
	require.NoError(t, err)
	assert.True(t, mat.Equal(mat.NewDense(3, 2, []float64{1, 0, 0, 1, 0.5, 0.5}), m))

	require.NoError(t, os.WriteFile(path, []byte("1,a\n"), 0644))
	_, err = ReadMatrix(path)
	assert.ErrorContains(t, err, "row 1 col 2")
}
