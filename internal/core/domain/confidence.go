package domain

import "math"

// NormalizeConfidence rescales a result whose engine reported percentages.
// If any confidence exceeds 1 the whole result is divided by 100, then every
// value is clamped to [0,1]. The input is not modified.
func NormalizeConfidence(r *ExtractionResult) *ExtractionResult {
	out := r.Clone()
	if out == nil {
		return nil
	}
	percent := false
	for _, f := range out.Fields {
		if f.Confidence > 1 {
			percent = true
		}
	}
	for _, f := range out.Extensions {
		if f.Confidence > 1 {
			percent = true
		}
	}
	for _, li := range out.LineItems {
		if li.Confidence > 1 {
			percent = true
		}
	}
	scale := func(v float64) float64 {
		if percent {
			v /= 100
		}
		return clamp01(v)
	}
	for k, f := range out.Fields {
		f.Confidence = scale(f.Confidence)
		out.Fields[k] = f
	}
	for k, f := range out.Extensions {
		f.Confidence = scale(f.Confidence)
		out.Extensions[k] = f
	}
	for i := range out.LineItems {
		out.LineItems[i].Confidence = scale(out.LineItems[i].Confidence)
	}
	return out
}

// OverallConfidence averages required header fields (missing ones count as
// zero) and every line item. Without required fields the mean runs over all
// header fields and line items. An empty result scores zero.
func OverallConfidence(schema Schema, r *ExtractionResult) float64 {
	if r == nil {
		return 0
	}
	var sum float64
	var n int
	required := schema.RequiredFields()
	if len(required) > 0 {
		for _, name := range required {
			if f, ok := r.Fields[name]; ok && f.Value != "" {
				sum += f.Confidence
			}
			n++
		}
	} else {
		for _, f := range r.Fields {
			sum += f.Confidence
			n++
		}
	}
	for _, li := range r.LineItems {
		sum += li.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return clamp01(sum / float64(n))
}

// ConfidenceScore converts an overall confidence into the 0-100 score
// persisted on the document, rounded to two decimals.
func ConfidenceScore(overall float64) float64 {
	return math.Round(clamp01(overall)*100*100) / 100
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
