package pricing

import (
	"testing"
)

func TestCalculator_Calculate(t *testing.T) {
	calc := NewCalculator(nil) // Use default pricing

	tests := []struct {
		name         string
		model        string
		inputTokens  int
		outputTokens int
		want         float64
	}{
		{
			name:         "vllm-simulator exact match",
			model:        "vllm-simulator",
			inputTokens:  1000,
			outputTokens: 1000,
			want:         0.0001 + 0.0002,
		},
		{
			name:         "qwen3 exact match beats wildcard",
			model:        "qwen3-0.6b-instruct",
			inputTokens:  2000,
			outputTokens: 1000,
			want:         0.0002*2 + 0.0004*1,
		},
		{
			name:         "llama-3 wildcard match",
			model:        "llama-3.1-8b-instruct",
			inputTokens:  1000,
			outputTokens: 500,
			want:         0.0002*1 + 0.0002*0.5,
		},
		{
			name:         "unknown model returns zero",
			model:        "unknown-model",
			inputTokens:  1000,
			outputTokens: 1000,
			want:         0,
		},
		{
			name:         "zero tokens",
			model:        "vllm-simulator",
			inputTokens:  0,
			outputTokens: 0,
			want:         0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Calculate(tt.model, tt.inputTokens, tt.outputTokens)
			if diff := got - tt.want; diff < -0.000001 || diff > 0.000001 {
				t.Errorf("Calculate() = %v, want %v (diff: %v)", got, tt.want, diff)
			}
		})
	}
}

func TestCalculator_FindPricing(t *testing.T) {
	calc := NewCalculator(nil)

	tests := []struct {
		name      string
		model     string
		wantFound bool
		wantModel string
	}{
		{name: "exact match", model: "llama2-7b", wantFound: true, wantModel: "llama2-7b"},
		{name: "longest wildcard wins", model: "llama-3-70b", wantFound: true, wantModel: "llama-3*"},
		{name: "short wildcard", model: "llama-guard", wantFound: true, wantModel: "llama*"},
		{name: "unknown model", model: "completely-unknown", wantFound: false},
		{name: "case insensitive match", model: "VLLM-Simulator", wantFound: true, wantModel: "vllm-simulator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pricing, found := calc.GetPricing(tt.model)
			if found != tt.wantFound {
				t.Errorf("GetPricing() found = %v, want %v", found, tt.wantFound)
			}
			if found && pricing.Model != tt.wantModel {
				t.Errorf("GetPricing() model = %v, want %v", pricing.Model, tt.wantModel)
			}
		})
	}
}

func TestCalculator_AddPricing(t *testing.T) {
	calc := NewCalculator([]ModelPricing{})

	if got := calc.Calculate("custom-model", 1000, 1000); got != 0 {
		t.Fatalf("Calculate() before AddPricing = %v, want 0", got)
	}

	calc.AddPricing(ModelPricing{Model: "custom-model", InputCostPer1K: 0.001, OutputCostPer1K: 0.002})
	cost := calc.Calculate("custom-model", 1000, 1000)
	if diff := cost - 0.003; diff < -0.000001 || diff > 0.000001 {
		t.Errorf("Calculate() with custom pricing = %v, want 0.003", cost)
	}
}

func BenchmarkCalculateWildcard(b *testing.B) {
	calc := NewCalculator(nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = calc.Calculate("llama-3.1-8b-instruct", 1000, 1000)
	}
}
