package generation

import "fmt"

// Схемы ответа дописываются к системным промтам: OpenAI-совместимые API и Ollama
// работают в режиме "json object" без типизированной схемы.
const (
	ideasSystemPrompt = `You are a creative assistant for children's bedtime stories. Your audience is 3-10 years old. Generate story titles that are simple, captivating, and spark imagination.

Respond with a JSON object of the form {"ideas": ["<one-sentence idea>", ...]}.`

	storySystemPrompt = `You are a master storyteller for children aged 3 to 10. Write short, engaging, and simple paragraphs (about 3-5 sentences) that continue the story. Then, provide three distinct, short, and easy-to-understand choices for what happens next. One choice should be funny, one adventurous, and one gentle. The story must always be positive, age-appropriate, and free of scary elements. Ensure the story naturally concludes on a happy, calming note after about 5-7 steps. When it's time to end, provide a concluding paragraph and an empty array for choices. For the very first part of a new story, also provide a short, visual description of the main character(s) to ensure visual consistency in illustrations.

Respond with a JSON object of the form {"storyPart": "<the next part of the story>", "choices": ["<choice>", ...], "characterDescription": "<only for the very first part>"}. Use an empty array for choices when the story is over.`
)

// Фраза-заглушка, когда модель вернула неразборчивый ответ.
const lostWordsNarrative = "The storyteller seems to have lost their words! Let's try another path."

func ideasPrompt(categoryName string) string {
	return fmt.Sprintf("Generate 3 one-sentence story ideas for a bedtime story in the '%s' category.", categoryName)
}

func openingPrompt(title string) string {
	return fmt.Sprintf("Start a new bedtime story with the title: \"%s\". Write an exciting and gentle introduction.", title)
}

func nextStepPrompt(title, transcript, choice string) string {
	return fmt.Sprintf("The story is titled \"%s\". Here's what has happened so far:\n%s\n\nThe child chose to: \"%s\".\n\nNow, write the next part of the story based on this choice.", title, transcript, choice)
}

func closingPrompt(title, transcript string) string {
	return fmt.Sprintf("The story is titled \"%s\". Here's what has happened so far:\n%s\n\nNow, write a final, happy, and calming concluding paragraph to end the story. Do not provide any more choices.", title, transcript)
}

// illustrationPrompt - единый стиль всех иллюстраций. Описание персонажа держит их похожими друг на друга.
func illustrationPrompt(subject, characterDescription string) string {
	prompt := fmt.Sprintf("A beautiful, whimsical, storybook illustration for children in a soft and gentle art style, showing: %s. Use vibrant, warm colors, with a dreamy, magical atmosphere. No scary or dark elements.", subject)
	if characterDescription != "" {
		prompt += fmt.Sprintf(" The main character(s) should be visually consistent and look like this: %s.", characterDescription)
	}
	return prompt
}
