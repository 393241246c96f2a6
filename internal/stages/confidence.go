package stages

import "encoding/json"

// MergeConfidence annotates every leaf of original with the matching score from confidence,
// producing {"value": original, "confidence": score}. Maps and lists are walked in parallel;
// a leaf without a usable score gets a null confidence. original is never modified.
func MergeConfidence(original, confidence interface{}) interface{} {
	switch ov := original.(type) {
	case map[string]interface{}:
		cm, _ := confidence.(map[string]interface{})
		out := make(map[string]interface{}, len(ov))
		for k, v := range ov {
			var c interface{}
			if cm != nil {
				c = cm[k]
			}
			out[k] = MergeConfidence(v, c)
		}
		return out
	case []interface{}:
		cl, _ := confidence.([]interface{})
		out := make([]interface{}, len(ov))
		for i, v := range ov {
			var c interface{}
			if i < len(cl) {
				c = cl[i]
			}
			out[i] = MergeConfidence(v, c)
		}
		return out
	}
	return map[string]interface{}{"value": original, "confidence": score(confidence)}
}

// StripConfidence reverses MergeConfidence.
func StripConfidence(annotated interface{}) interface{} {
	switch av := annotated.(type) {
	case map[string]interface{}:
		if v, ok := av["value"]; ok && len(av) == 2 {
			if _, ok := av["confidence"]; ok {
				return v
			}
		}
		out := make(map[string]interface{}, len(av))
		for k, v := range av {
			out[k] = StripConfidence(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(av))
		for i, v := range av {
			out[i] = StripConfidence(v)
		}
		return out
	}
	return annotated
}

func score(v interface{}) interface{} {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return nil
		}
		f = x
	case map[string]interface{}:
		// models sometimes echo the annotated shape back
		return score(n["confidence"])
	default:
		return nil
	}
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return f
}
