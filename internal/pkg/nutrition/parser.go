package nutrition

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// Field ranges for one food item. Anything outside fails the whole batch.
const (
	MinWeight   = 1
	MaxWeight   = 5000
	MaxCalories = 5000
	MaxProtein  = 500
	MaxFat      = 500
	MaxCarbs    = 1000

	DefaultConfidence = 0.8

	// Allowed relative deviation between stated calories and the
	// 4/9/4 macro formula before we log a warning.
	calorieDeviationLimit = 0.30
)

// Item is one parsed food entry with validated numeric fields.
type Item struct {
	Name       string  `json:"name"`
	Weight     int     `json:"weight_grams"`
	Calories   float64 `json:"calories"`
	Protein    float64 `json:"protein"`
	Fat        float64 `json:"fat"`
	Carbs      float64 `json:"carbs"`
	Confidence float64 `json:"confidence"`
}

// Proposal is a validated batch of items awaiting user confirmation.
type Proposal struct {
	Items []Item `json:"items"`
}

// Totals sums the batch.
func (p *Proposal) Totals() (calories, protein, fat, carbs float64) {
	for _, it := range p.Items {
		calories += it.Calories
		protein += it.Protein
		fat += it.Fat
		carbs += it.Carbs
	}
	return
}

// ParseError reports why a model response was rejected, naming the offending
// item and field where one exists.
type ParseError struct {
	Reason string
	Item   string
	Field  string
}

func (e *ParseError) Error() string {
	if e.Item != "" && e.Field != "" {
		return fmt.Sprintf("invalid %s for %q: %s", e.Field, e.Item, e.Reason)
	}
	return e.Reason
}

// Parse validates the model's free-form response into a Proposal. The text may
// be wrapped in markdown code fences and surrounded by chatter; only the first
// JSON object is considered. Validation is all-or-nothing: one bad item
// rejects the batch.
func Parse(raw string) (*Proposal, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, &ParseError{Reason: "no JSON object found in model response"}
	}

	var envelope struct {
		Items []map[string]interface{} `json:"items"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, &ParseError{Reason: "malformed JSON: " + err.Error()}
	}
	if len(envelope.Items) == 0 {
		return nil, &ParseError{Reason: "response contains no food items"}
	}

	proposal := &Proposal{Items: make([]Item, 0, len(envelope.Items))}
	for i, rawItem := range envelope.Items {
		item, err := buildItem(i, rawItem)
		if err != nil {
			return nil, err
		}
		proposal.Items = append(proposal.Items, item)
	}

	return proposal, nil
}

func buildItem(index int, raw map[string]interface{}) (Item, error) {
	name, _ := raw["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return Item{}, &ParseError{
			Reason: fmt.Sprintf("item %d has no name", index+1),
			Field:  "name",
		}
	}

	weight, err := numericField(name, raw, "weight_grams", MinWeight, MaxWeight)
	if err != nil {
		return Item{}, err
	}
	calories, err := numericField(name, raw, "calories", 0, MaxCalories)
	if err != nil {
		return Item{}, err
	}
	protein, err := numericField(name, raw, "protein", 0, MaxProtein)
	if err != nil {
		return Item{}, err
	}
	fat, err := numericField(name, raw, "fat", 0, MaxFat)
	if err != nil {
		return Item{}, err
	}
	carbs, err := numericField(name, raw, "carbs", 0, MaxCarbs)
	if err != nil {
		return Item{}, err
	}

	confidence := DefaultConfidence
	if v, ok := raw["confidence"]; ok {
		if c, ok := coerceNumber(v); ok && c >= 0 && c <= 1 {
			confidence = c
		}
	}

	// Sanity check against the 4/9/4 kcal formula. Deviation is suspicious
	// but not fatal: the stated calories win.
	implied := protein*4 + fat*9 + carbs*4
	if implied > 0 && math.Abs(calories-implied)/implied > calorieDeviationLimit {
		log.Warnf("[Nutrition] %q: stated %.0f kcal vs %.0f implied by macros", name, calories, implied)
	}

	return Item{
		Name:       name,
		Weight:     int(math.Round(weight)),
		Calories:   calories,
		Protein:    protein,
		Fat:        fat,
		Carbs:      carbs,
		Confidence: confidence,
	}, nil
}

func numericField(item string, raw map[string]interface{}, field string, min, max float64) (float64, error) {
	v, ok := raw[field]
	if !ok {
		return 0, &ParseError{Reason: "missing field", Item: item, Field: field}
	}
	n, ok := coerceNumber(v)
	if !ok {
		return 0, &ParseError{Reason: "not a number", Item: item, Field: field}
	}
	if n < min || n > max {
		return 0, &ParseError{
			Reason: fmt.Sprintf("%.4g outside allowed range %.4g-%.4g", n, min, max),
			Item:   item,
			Field:  field,
		}
	}
	return n, nil
}

// coerceNumber accepts JSON numbers and numeric strings (the model sometimes
// quotes values, or uses a decimal comma).
func coerceNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(n, ",", "."))
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// extractJSON strips code-fence wrapping and returns the first top-level JSON
// object in the text.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}
