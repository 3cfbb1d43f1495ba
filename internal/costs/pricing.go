package costs

// Model pricing in micro-USD per 1K tokens. Adjust when switching models.
type modelRate struct {
	inputMicroPer1K  int64
	outputMicroPer1K int64
}

const DefaultModel = "gpt-4o-mini"

// Token counts used to estimate a per-email cost before any generation has
// happened (stats endpoints on an empty ledger).
const (
	DefaultPromptTokens     = 360
	DefaultCompletionTokens = 240
)

var modelPricing = map[string]modelRate{
	"gpt-4o-mini": {inputMicroPer1K: 150, outputMicroPer1K: 600},
	"gpt-4o":      {inputMicroPer1K: 2500, outputMicroPer1K: 5000},
}

func rateFor(model string) modelRate {
	if r, ok := modelPricing[model]; ok {
		return r
	}
	return modelPricing[DefaultModel]
}

// PriceTokens computes the micro-USD cost of a completion. Unknown models
// fall back to the default model's rates. Rounds half up.
func PriceTokens(model string, promptTokens, completionTokens int) int64 {
	if promptTokens < 0 {
		promptTokens = 0
	}
	if completionTokens < 0 {
		completionTokens = 0
	}
	r := rateFor(model)
	in := r.inputMicroPer1K * int64(promptTokens)
	out := r.outputMicroPer1K * int64(completionTokens)
	return (in + out + 500) / 1000
}

// EstimateDefault prices a typical email for the given model using the
// default token counts.
func EstimateDefault(model string) int64 {
	return PriceTokens(model, DefaultPromptTokens, DefaultCompletionTokens)
}
