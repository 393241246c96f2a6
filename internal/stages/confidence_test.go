package stages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeConfidence_PreservesOriginal(t *testing.T) {
	inputs := []string{
		`{"a": 1, "b": "x", "c": null, "d": true}`,
		`{"nested": {"deep": {"n": 2.5}}, "list": [1, "two", {"k": "v"}]}`,
		`[{"sku": "A"}, {"sku": "B"}]`,
		`"scalar"`,
		`{"empty": {}, "none": []}`,
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			var original interface{}
			require.NoError(t, json.Unmarshal([]byte(in), &original))
			var snapshot interface{}
			require.NoError(t, json.Unmarshal([]byte(in), &snapshot))

			annotated := MergeConfidence(original, nil)

			assert.Equal(t, snapshot, StripConfidence(annotated))
			assert.Equal(t, snapshot, original, "input must not be modified")
		})
	}
}

func TestMergeConfidence_Scores(t *testing.T) {
	original := map[string]interface{}{"a": "x", "b": []interface{}{"y", "z"}}
	conf := map[string]interface{}{
		"a": map[string]interface{}{"value": "x", "confidence": 0.7},
		"b": []interface{}{-3.0},
	}

	got := MergeConfidence(original, conf)

	assert.Equal(t, map[string]interface{}{
		"a": map[string]interface{}{"value": "x", "confidence": 0.7},
		"b": []interface{}{
			map[string]interface{}{"value": "y", "confidence": 0.0},
			map[string]interface{}{"value": "z", "confidence": nil},
		},
	}, got)
}

func TestPlaceholder(t *testing.T) {
	ph := Placeholder(assert.AnError, "raw")
	assert.True(t, IsPlaceholder(ph))
	assert.False(t, IsPlaceholder(map[string]interface{}{"error": "x"}))
	assert.False(t, IsPlaceholder("x"))
}
