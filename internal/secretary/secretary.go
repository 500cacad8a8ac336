// Package secretary validates raw LLM replies and turns them into structured decisions.
//
// Agents are expected to emit exactly one flat JSON object per reply. The
// secretary enforces that format, then applies kind-specific semantic rules
// (value domains, economic constraints). Every check returns a definite
// result: a decision on acceptance, or a *ValidationError whose reason is
// embedded in the next retry prompt.
package secretary

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/aristath/stockagent/internal/domain"
	"github.com/rs/zerolog"
)

// Secretary is a stateless reply validator
type Secretary struct {
	log zerolog.Logger
}

// New creates a new secretary
func New(log zerolog.Logger) *Secretary {
	return &Secretary{
		log: log.With().Str("component", "secretary").Logger(),
	}
}

// extractObject applies the structural format contract: the reply must contain
// exactly one '{' and exactly one '}', and the enclosed substring (with
// newlines stripped) must parse as a single flat JSON object.
func extractObject(reply string) (map[string]any, *ValidationError) {
	if reply == "" {
		return nil, structural("empty response")
	}
	if strings.Count(reply, "{") != 1 || strings.Count(reply, "}") != 1 {
		return nil, structural("wrong json format, ensure the reply contains exactly one JSON block: {}")
	}

	start := strings.Index(reply, "{")
	end := strings.Index(reply, "}")
	if end < start {
		return nil, structural("wrong json format, closing brace appears before opening brace")
	}

	raw := strings.ReplaceAll(reply[start:end+1], "\n", "")
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, structural("illegal json format: %v", err)
	}
	return obj, nil
}

// CheckLoan validates a loan reply against the agent's borrowing limit and the
// configured number of loan types.
func (s *Secretary) CheckLoan(reply string, maxLoan float64, numLoanTypes int) (dec domain.LoanDecision, err error) {
	defer s.recoverValidation("loan", &err, func() { dec = domain.NoLoan() })

	obj, verr := extractObject(reply)
	if verr != nil {
		return domain.NoLoan(), verr
	}

	raw, ok := obj["loan"]
	if !ok {
		return domain.NoLoan(), semantic("key 'loan' not in response")
	}
	choice := normalizeChoice(raw)
	if choice != "yes" && choice != "no" {
		return domain.NoLoan(), semantic("value of key 'loan' should be 'yes' or 'no'")
	}

	if choice == "no" {
		if hasAnyKey(obj, "loan_type", "amount") {
			return domain.NoLoan(), semantic("don't include loan_type or amount if 'loan' is no")
		}
		return domain.NoLoan(), nil
	}

	if !hasAllKeys(obj, "loan_type", "amount") {
		return domain.NoLoan(), semantic("should include loan_type and amount if 'loan' is yes")
	}

	typeIndex, ok := asInt(obj["loan_type"])
	if !ok || typeIndex < 0 || typeIndex >= numLoanTypes {
		return domain.NoLoan(), semantic("value of key 'loan_type' should be an integer from 0 to %d", numLoanTypes-1)
	}

	amount, ok := asNumber(obj["amount"])
	if !ok || amount <= 0 || amount > maxLoan {
		return domain.NoLoan(), semantic("value of 'amount' should be a positive number <= max_loan (%.2f)", maxLoan)
	}

	return domain.LoanDecision{Wants: true, Amount: amount, TypeIndex: typeIndex}, nil
}

// CheckTrade validates a trade reply against the agent's current cash and
// holdings. The market prices are part of the validation context but the
// economic checks run against the agent's own proposed price; settlement
// re-checks against the price that actually applies.
func (s *Secretary) CheckTrade(reply string, cash float64, holdings map[domain.Asset]int, priceA, priceB float64) (dec domain.TradeDecision, err error) {
	defer s.recoverValidation("trade", &err, func() { dec = domain.NoTrade() })

	obj, verr := extractObject(reply)
	if verr != nil {
		return domain.NoTrade(), verr
	}

	raw, ok := obj["action_type"]
	if !ok {
		return domain.NoTrade(), semantic("key 'action_type' not in response")
	}
	action := normalizeChoice(raw)
	if action != "buy" && action != "sell" && action != "no" {
		return domain.NoTrade(), semantic("value of 'action_type' must be 'buy', 'sell', or 'no'")
	}

	if action == "no" {
		if hasAnyKey(obj, "stock", "amount", "price") {
			return domain.NoTrade(), semantic("don't include stock, amount, or price if 'action_type' is no")
		}
		return domain.NoTrade(), nil
	}

	if !hasAllKeys(obj, "stock", "amount", "price") {
		return domain.NoTrade(), semantic("must include stock, amount, price for 'buy'/'sell'")
	}

	asset := domain.Asset(fmt.Sprint(obj["stock"]))
	if !asset.Valid() {
		return domain.NoTrade(), semantic("value of 'stock' must be 'A' or 'B'")
	}

	quantity, ok := asInt(obj["amount"])
	if !ok || quantity <= 0 {
		return domain.NoTrade(), semantic("value of 'amount' must be a positive integer")
	}

	price, ok := asNumber(obj["price"])
	if !ok || price <= 0 {
		return domain.NoTrade(), semantic("value of 'price' must be a positive number")
	}

	if action == "buy" {
		value := float64(quantity) * price
		if value > cash {
			return domain.NoTrade(), semantic("proposed buy (%.2f) exceeds cash (%.2f)", value, cash)
		}
	} else {
		holding := holdings[asset]
		if quantity > holding {
			return domain.NoTrade(), semantic("proposed sell (%d) exceeds holdings (%d of %s)", quantity, holding, asset)
		}
	}

	return domain.TradeDecision{
		Kind:     domain.TradeKind(action),
		Asset:    asset,
		Quantity: quantity,
		Price:    price,
	}, nil
}

// forecastKeys is the exact key set a forecast reply must carry
var forecastKeys = []string{"buy_A", "buy_B", "sell_A", "sell_B", "loan"}

// CheckForecast validates a next-day forecast reply. The object must contain
// exactly the five expected keys, each with a yes/no value.
func (s *Secretary) CheckForecast(reply string) (dec domain.ForecastDecision, err error) {
	defer s.recoverValidation("forecast", &err, func() { dec = domain.NoForecast() })

	obj, verr := extractObject(reply)
	if verr != nil {
		return domain.NoForecast(), verr
	}

	if !hasAllKeys(obj, forecastKeys...) {
		return domain.NoForecast(), semantic("expected keys missing, need: %s", strings.Join(forecastKeys, ", "))
	}

	values := make(map[string]bool, len(forecastKeys))
	for key, raw := range obj {
		if !isForecastKey(key) {
			return domain.NoForecast(), semantic("unexpected key '%s'", key)
		}
		choice := normalizeChoice(raw)
		if choice != "yes" && choice != "no" {
			return domain.NoForecast(), semantic("value for '%s' must be 'yes' or 'no'", key)
		}
		values[key] = choice == "yes"
	}

	return domain.ForecastDecision{
		BuyA:  values["buy_A"],
		BuyB:  values["buy_B"],
		SellA: values["sell_A"],
		SellB: values["sell_B"],
		Loan:  values["loan"],
	}, nil
}

// recoverValidation converts a panic during semantic validation into a
// semantic failure so the caller always receives a definite result.
func (s *Secretary) recoverValidation(kind string, err *error, reset func()) {
	if r := recover(); r != nil {
		s.log.Error().Str("kind", kind).Interface("panic", r).Msg("Unexpected error during validation")
		reset()
		*err = semantic("unexpected validation error: %v", r)
	}
}

func isForecastKey(key string) bool {
	for _, k := range forecastKeys {
		if k == key {
			return true
		}
	}
	return false
}

func hasAnyKey(obj map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

func hasAllKeys(obj map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return false
		}
	}
	return true
}

// normalizeChoice renders any JSON value as a lowercase string, so "YES" and
// "Buy" are accepted and normalized.
func normalizeChoice(v any) string {
	s, ok := v.(string)
	if !ok {
		return strings.ToLower(fmt.Sprint(v))
	}
	return strings.ToLower(s)
}

// asNumber extracts a JSON number
func asNumber(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// asInt extracts a JSON number that is a whole value. JSON has a single
// number type and arrives as float64, so whole-valued floats like 5.0 are
// accepted as integers.
func asInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || math.Trunc(f) != f || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return int(f), true
}
