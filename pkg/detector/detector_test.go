package detector

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ImageClassifier/internal/entity"
)

func TestFilterByConfidence(t *testing.T) {
	dets := []entity.Detection{
		{Label: "cat", Confidence: 0.49},
		{Label: "dog", Confidence: 0.5},
		{Label: "car", Confidence: 0.91},
		{Label: "bus", Confidence: 0.2},
	}

	got := FilterByConfidence(dets, 0.5)
	require.Len(t, got, 2)
	assert.Equal(t, "dog", got[0].Label)
	assert.Equal(t, "car", got[1].Label)

	assert.Empty(t, FilterByConfidence(nil, 0.5))
}

func TestInferenceError(t *testing.T) {
	assert.NoError(t, InferenceError(nil))

	err := InferenceError(errors.New("bad shape"))
	assert.ErrorIs(t, err, ErrInference)
	assert.Contains(t, err.Error(), "bad shape")

	assert.Equal(t, err, InferenceError(err))
}

func TestClampBox(t *testing.T) {
	got := ClampBox(entity.BoundingBox{XMin: -5, YMin: 3, XMax: 120, YMax: 90}, 100, 80)
	assert.Equal(t, entity.BoundingBox{XMin: 0, YMin: 3, XMax: 100, YMax: 80}, got)
}

func TestLoadClassFile(t *testing.T) {
	classes, err := LoadClassFile("")
	require.NoError(t, err)
	assert.Len(t, classes, 80)

	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("helmet\n\n  vest \nperson\n"), 0644))

	classes, err = LoadClassFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"helmet", "vest", "person"}, classes)

	_, err = LoadClassFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	assert.Equal(t, "unknown", labelFor(classes, 7))
}
