package llm

// Pricing holds per-1K-token prices for a model.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Cost returns the spend for resp. Cached and nil responses cost nothing.
func (p Pricing) Cost(resp *Response) float64 {
	if resp == nil || resp.Cached {
		return 0
	}
	return float64(resp.InputTokens)/1000*p.InputPer1K +
		float64(resp.OutputTokens)/1000*p.OutputPer1K
}

// MaxCost returns the most a call can cost given input and output token
// ceilings. Useful for deriving a per-run limit.
func (p Pricing) MaxCost(inputTokens, maxOutputTokens int) float64 {
	return float64(inputTokens)/1000*p.InputPer1K +
		float64(maxOutputTokens)/1000*p.OutputPer1K
}
