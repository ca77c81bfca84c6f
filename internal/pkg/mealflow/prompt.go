package mealflow

import (
	"github.com/Orik-dev/kcalbot/internal/pkg/gpt"
)

// systemPrompt pins the model to the JSON contract the validator expects.
const systemPrompt = `You are a nutrition expert. Estimate the nutritional content of the described food.
Respond with ONLY a JSON object, no other text:
{"items": [{"name": "...", "weight_grams": 0, "calories": 0, "protein": 0, "fat": 0, "carbs": 0, "confidence": 0.0}]}
One entry per distinct food item. weight_grams is the estimated portion weight.
calories/protein/fat/carbs are for the whole portion, in kcal and grams.
confidence is 0..1, how certain you are of the estimate.
If the weight is stated by the user, use it instead of guessing.`

const photoPrompt = "Estimate the nutrition of the food on this photo."

// textMessages builds the conversation for a plain description.
func textMessages(description string) []gpt.Message {
	return []gpt.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: description},
	}
}

// photoMessages builds the multimodal conversation for a food photo with an
// optional caption.
func photoMessages(photoURL, caption string) []gpt.Message {
	text := photoPrompt
	if caption != "" {
		text += " The user added: " + caption
	}
	return []gpt.Message{
		{Role: "system", Content: systemPrompt},
		{
			Role: "user",
			Content: []gpt.ContentPart{
				{Type: "text", Text: text},
				{Type: "image_url", ImageURL: &gpt.ImageURL{URL: photoURL}},
			},
		},
	}
}
