package wizard

import (
	"strings"

	"github.com/spherical/takeoff/internal/domain"
)

// TradeOptions is the fixed trade catalogue offered on the upload step.
var TradeOptions = []domain.Trade{
	{ID: "elec-data-security-detector", Name: "Electrical, Data, IT, AV, Security"},
	{ID: "mechanical-symbol-detector", Name: "Mechanical"},
	{ID: "fire-alarm-detector-v1", Name: "Fire Alarm"},
	{ID: "fire-protection-sprinkler-model", Name: "Fire Protection, Sprinkler"},
	{ID: "plumbing-detector", Name: "Plumbing"},
}

var modelTypes = map[string]domain.ModelType{
	"elec-data-security-detector":     domain.ModelElectrical,
	"mechanical-symbol-detector":      domain.ModelMechanical,
	"fire-alarm-detector-v1":          domain.ModelFireAlarm,
	"fire-protection-sprinkler-model": domain.ModelFireSprinkler,
	"plumbing-detector":               domain.ModelPlumbing,
}

// ModelTypeFor maps a trade id to the server's model token.
func ModelTypeFor(tradeID string) (domain.ModelType, error) {
	mt, ok := modelTypes[tradeID]
	if !ok {
		return "", domain.SelectionError("Invalid model type selected")
	}
	return mt, nil
}

// TradeByID looks a trade up in the catalogue.
func TradeByID(id string) (domain.Trade, bool) {
	for _, t := range TradeOptions {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Trade{}, false
}

// FilterTrades returns the trades whose display name contains query,
// ignoring case. An empty query returns the whole catalogue.
func FilterTrades(query string) []domain.Trade {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]domain.Trade, 0, len(TradeOptions))
	for _, t := range TradeOptions {
		if strings.Contains(strings.ToLower(t.Name), q) {
			out = append(out, t)
		}
	}
	return out
}
