package upstream

import "github.com/r9s-ai/gemini-relay/pkg/jsonutil"

// Usage is the token accounting Gemini reports in usageMetadata.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}

// ExtractUsage reads usageMetadata from a decoded generateContent response.
// Output counts reasoning ("thoughts") tokens together with candidate tokens.
func ExtractUsage(data any) Usage {
	u := Usage{
		InputTokens: jsonutil.FirstInt(data,
			"$.usageMetadata.promptTokenCount",
			"$.usage_metadata.prompt_token_count"),
		OutputTokens: jsonutil.FirstInt(data,
			"$.usageMetadata.candidatesTokenCount",
			"$.usage_metadata.candidates_token_count") +
			jsonutil.FirstInt(data,
				"$.usageMetadata.thoughtsTokenCount",
				"$.usage_metadata.thoughts_token_count"),
		TotalTokens: jsonutil.FirstInt(data,
			"$.usageMetadata.totalTokenCount",
			"$.usage_metadata.total_token_count"),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}
