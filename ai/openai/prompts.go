package openai

import (
	"fmt"
	"strings"

	"github.com/poiesic/syllabus/ai"
)

const topicResponseSchema = `{
  "type": "object",
  "properties": {
    "topics": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "topic": {
            "type": "string",
            "pattern": "^[a-z]+( [a-z]+)*$"
          },
          "kind": {
            "type": "string"
          },
          "importance": {
            "type": "integer",
            "minimum": 1,
            "maximum": 10
          }
        },
        "required": ["topic", "kind", "importance"],
        "additionalProperties": false
      }
    }
  },
  "required": ["topics"],
  "additionalProperties": false
}`

const topicPromptTemplate = `Extract the topics a teacher would use to tag the given classroom material and return them as JSON.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- Topic names must be lowercase, 1-3 words, singular form only.
- Kind must match exactly one of the listed values: %s.
- Importance is an integer from 1 (mentioned in passing) to 10 (the material is about it).
- Include only topics that the material actually teaches or practices. Do not hallucinate.
- If no topics can be identified, return "topics": [].
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.

Example:
Input: "Quiz: 10 questions on adding fractions with unlike denominators."
Output:
{
  "topics": [
    {"topic":"fraction addition","kind":"skill","importance":9},
    {"topic":"common denominator","kind":"concept","importance":7}
  ]
}

Example:
Input: "Vocabulary review: the water cycle. evaporation, condensation, precipitation"
Output:
{
  "topics": [
    {"topic":"water cycle","kind":"process","importance":9},
    {"topic":"evaporation","kind":"vocabulary","importance":7},
    {"topic":"condensation","kind":"vocabulary","importance":7}
  ]
}`

// buildTopicSystemPrompt creates the system prompt with topic kinds embedded.
func buildTopicSystemPrompt() string {
	return fmt.Sprintf(topicPromptTemplate,
		topicResponseSchema,
		strings.Join(ai.TopicKinds, ", "))
}
