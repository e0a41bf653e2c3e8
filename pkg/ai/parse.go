package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	validator "github.com/santhosh-tekuri/jsonschema/v6"
)

var ErrUnparseable = errors.New("model output is not a classification result")

// ParseClassification decodes model output. Output that satisfies the schema is decoded
// directly; anything else goes through a lenient pass that tolerates code fences, bare
// arrays, stringly-typed scores and out-of-range values.
func ParseClassification(text string) ([]ClassifiedMessage, error) {
	cleaned := stripFences(text)

	if results, err := parseStrict(cleaned); err == nil {
		return results, nil
	}
	return parseLenient(cleaned)
}

func parseStrict(text string) ([]ClassifiedMessage, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	inst, err := validator.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(inst); err != nil {
		return nil, err
	}

	var out ClassificationOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

type lenientResult struct {
	ID       json.RawMessage `json:"id"`
	Category string          `json:"category"`
	Score    json.RawMessage `json:"score"`
	Reason   string          `json:"reason"`
}

func parseLenient(text string) ([]ClassifiedMessage, error) {
	var raw []lenientResult

	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")
	switch {
	case arrStart != -1 && (objStart == -1 || arrStart < objStart):
		arrEnd := strings.LastIndex(text, "]")
		if arrEnd <= arrStart {
			return nil, ErrUnparseable
		}
		if err := json.Unmarshal([]byte(text[arrStart:arrEnd+1]), &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
	case objStart != -1:
		objEnd := strings.LastIndex(text, "}")
		if objEnd <= objStart {
			return nil, ErrUnparseable
		}
		var envelope struct {
			Results []lenientResult `json:"results"`
		}
		if err := json.Unmarshal([]byte(text[objStart:objEnd+1]), &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		raw = envelope.Results
	default:
		return nil, ErrUnparseable
	}

	results := make([]ClassifiedMessage, 0, len(raw))
	for _, r := range raw {
		id := decodeID(r.ID)
		if id == "" {
			continue
		}
		results = append(results, ClassifiedMessage{
			ID:       id,
			Category: strings.TrimSpace(r.Category),
			Score:    clamp01(decodeScore(r.Score)),
			Reason:   strings.TrimSpace(r.Reason),
		})
	}
	if len(results) == 0 && len(raw) > 0 {
		return nil, ErrUnparseable
	}
	return results, nil
}

// stripFences removes a surrounding ``` block if present
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.Index(text, "\n"); nl != -1 {
		// drop the language tag line
		if tag := strings.TrimSpace(text[:nl]); !strings.ContainsAny(tag, "{[") {
			text = text[nl+1:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func decodeScore(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if strings.HasSuffix(s, "%") {
			if p, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64); err == nil {
				return p / 100
			}
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
