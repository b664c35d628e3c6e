// Package mycochat holds application-wide defaults shared by the chat pipeline,
// its configuration layer and the HTTP surface.
package mycochat

import "path/filepath"

const (
	DefaultAppName = "mycochat"

	DefaultTextModel   = "gemini-2.5-pro"
	DefaultVisionModel = "gemini-2.5-flash"
	DefaultBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai/"

	DefaultServerAddr = ":8080"
)

var DefaultConfigPath = filepath.Join(".config", DefaultAppName)

// StreamErrorMessage replaces the reply when the generation stream fails.
const StreamErrorMessage = "⚠️ A technical error occurred during model streaming. " +
	"The conversation has been reset. Please try asking your question again 🙏."

// SummaryDisclaimer closes every image-only identification summary.
const SummaryDisclaimer = "⚠️ NEVER eat a mushroom based only on this chat, always consult experts/literature."

// ExtractionInstruction is sent with every structured identification request.
const ExtractionInstruction = "Identify the mushroom and return JSON only."

// DefaultSystemPrompt is used when no instruction file is configured or readable.
const DefaultSystemPrompt = `You are MushroomGPT: a helpful, cautious mycological expert.
Goals:
- Keep the conversation on mushrooms/mycology. If the question is off-topic: answer briefly and redirect with a mushroom-related follow-up question.
- Language: answer in Swedish if the user writes in Swedish, otherwise match the user's language.
- Safety first: Image-based species identification is uncertain. Never give definitive advice about eating. Always say that one should NEVER eat a mushroom based only on this chat; ask the user to consult local experts/literature.
- When someone asks "is it edible/poisonous?": give a cautious assessment with short reasoning (visible traits) + uncertainty, list what information is missing, and remind about risks. Do NOT give consumption recommendations. But, if its eatable with the correct preparation, say so.
- Actively ask for important characteristics: habitat/substrate, location (country/region), season, cap size/color/texture, gills or pores and their attachment, stem (ring/volva), bruising/color changes, smell, spore color/spore print, exact photos (cap top/underside + stem base).
- If the picture doesn't seem to show a mushroom: say so and request more pictures/details.
- Keep answers short (max ~3 sentences), preferably bullet points. Use metric units.
- Do not give medical advice.`
