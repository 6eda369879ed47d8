package tokens

import "testing"

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"hello world, this is a test!", 7},
	}
	for _, tc := range tests {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestEstimateImageTokens(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		detail        string
		want          int
	}{
		{name: "low detail flat cost", detail: "low", want: 85},
		{name: "low detail ignores dims", width: 4096, height: 4096, detail: "low", want: 85},
		{name: "auto without dims uses average", detail: "auto", want: 765},
		{name: "high without dims uses average", detail: "high", want: 765},
		{name: "single tile", width: 512, height: 512, detail: "high", want: 85 + 170},
		{name: "two by one tiles", width: 800, height: 400, detail: "high", want: 85 + 2*170},
		{name: "two by two tiles", width: 1024, height: 768, detail: "auto", want: 85 + 4*170},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := EstimateImageTokens(tc.width, tc.height, tc.detail); got != tc.want {
				t.Errorf("EstimateImageTokens(%d, %d, %q) = %d, want %d",
					tc.width, tc.height, tc.detail, got, tc.want)
			}
		})
	}
}

func TestEstimateMessageTokens(t *testing.T) {
	if got := EstimateMessageTokens("abcdefgh", 0); got != 2 {
		t.Errorf("text only = %d, want 2", got)
	}
	if got := EstimateMessageTokens("abcdefgh", 2); got != 2+2*765 {
		t.Errorf("with images = %d, want %d", got, 2+2*765)
	}
}

func TestEstimatorIsDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		if EstimateTokens("same input") != EstimateTokens("same input") {
			t.Fatal("estimator must be deterministic")
		}
	}
}
