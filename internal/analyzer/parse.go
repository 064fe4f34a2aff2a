package analyzer

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/TobiSchelling/toolscout/internal/llm"
	"github.com/TobiSchelling/toolscout/internal/model"
)

// looseString accepts strings, numbers, booleans and null. Models emit
// "dailyCredits": 50 as often as "dailyCredits": "50".
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*s = ""
	case string:
		*s = looseString(strings.TrimSpace(x))
	case float64:
		*s = looseString(strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		*s = looseString(strconv.FormatBool(x))
	default:
		*s = ""
	}
	return nil
}

type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case bool:
		*b = looseBool(x)
	case string:
		parsed, _ := strconv.ParseBool(strings.TrimSpace(x))
		*b = looseBool(parsed)
	default:
		*b = false
	}
	return nil
}

type rawApp struct {
	Name                looseString   `json:"name"`
	Category            looseString   `json:"category"`
	ShortDescription    looseString   `json:"shortDescription"`
	DetailedDescription looseString   `json:"detailedDescription"`
	Features            []looseString `json:"features"`
	URL                 looseString   `json:"url"`
	Pricing             looseString   `json:"pricing"`
	PricingDetails      looseString   `json:"pricingDetails"`
	DailyCredits        looseString   `json:"dailyCredits"`
	HasMCP              looseBool     `json:"hasMcp"`
	HasAPI              looseBool     `json:"hasApi"`
	MinPaidPrice        looseString   `json:"minPaidPrice"`
}

type rawAnalysis struct {
	Title   looseString `json:"title"`
	Summary looseString `json:"summary"`
	Apps    *[]rawApp   `json:"apps"`
}

const maxFeatures = 8

// ParseAnalysis decodes a raw model response. Responses without a JSON
// object or without an "apps" field are rejected; an empty "apps" list is a
// valid result.
func ParseAnalysis(raw string) (model.Analysis, error) {
	var r rawAnalysis
	if err := llm.DecodeJSON(raw, &r); err != nil {
		return model.Analysis{}, err
	}
	if r.Apps == nil {
		return model.Analysis{}, ErrMissingApps
	}

	out := model.Analysis{
		Title:   string(r.Title),
		Summary: string(r.Summary),
		Apps:    []model.App{},
	}
	seen := make(map[string]bool)
	for _, ra := range *r.Apps {
		name := string(ra.Name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true

		app := model.App{
			Name:                name,
			Category:            normalizeCategory(string(ra.Category)),
			ShortDescription:    string(ra.ShortDescription),
			DetailedDescription: string(ra.DetailedDescription),
			URL:                 string(ra.URL),
			Pricing:             normalizePricing(string(ra.Pricing)),
			PricingDetails:      string(ra.PricingDetails),
			DailyCredits:        string(ra.DailyCredits),
			HasMCP:              bool(ra.HasMCP),
			HasAPI:              bool(ra.HasAPI),
			MinPaidPrice:        string(ra.MinPaidPrice),
		}
		for _, f := range ra.Features {
			if f != "" && len(app.Features) < maxFeatures {
				app.Features = append(app.Features, string(f))
			}
		}
		out.Apps = append(out.Apps, app)
	}
	return out, nil
}

func normalizeCategory(c string) string {
	for _, known := range Categories {
		if strings.EqualFold(c, known) {
			return known
		}
	}
	return "Other"
}

func normalizePricing(p string) string {
	switch p = strings.ToLower(p); p {
	case "free", "freemium", "paid":
		return p
	}
	return ""
}
