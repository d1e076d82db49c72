package upstream

import (
	"google.golang.org/genai"

	"github.com/r9s-ai/gemini-relay/pkg/jsonutil"
)

// NoTextFallback is relayed when a generateContent response carries no text.
const NoTextFallback = "No text returned from Gemini API."

// GenerateContentRequest is the body of models/{model}:generateContent.
type GenerateContentRequest struct {
	Contents []*genai.Content `json:"contents"`
}

// GenerateImageRequest is the body of models/{model}:generateImage.
type GenerateImageRequest struct {
	Prompt string `json:"prompt"`
}

// NewGenerateContentRequest wraps prompt as a single user turn with one text part.
func NewGenerateContentRequest(prompt string) *GenerateContentRequest {
	return &GenerateContentRequest{
		Contents: []*genai.Content{{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		}},
	}
}

var (
	textPaths = []string{
		"$.candidates[0].content.parts[0].text",
	}
	imagePaths = []string{
		"$.imageUrl",
		"$.candidates[0].content.parts[0].inlineData.data",
	}
)

// ExtractText reads the first candidate's text from a decoded response.
func ExtractText(data any) jsonutil.Value {
	return jsonutil.FirstString(data, textPaths...)
}

// ExtractImage reads an image reference from a decoded response: a URL when the
// provider returns one, otherwise the base64 inline data of the first part.
func ExtractImage(data any) jsonutil.Value {
	return jsonutil.FirstString(data, imagePaths...)
}
