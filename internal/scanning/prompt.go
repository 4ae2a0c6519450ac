package scanning

import "strings"

const expenseFormat = `{
  "description": "Store name - what was bought",
  "amount": 0.00,
  "category": "one of the allowed categories",
  "date": "YYYY-MM-DD",
  "tags": ["optional", "tags"],
  "account": ""
}`

// imagePrompt is the shared prompt used by all providers for receipt photos and documents
func imagePrompt(categories []string) string {
	var b strings.Builder
	b.WriteString(`You are analyzing a photo or document of one or more purchases (a receipt, an invoice, a bank notification, a handwritten note). Carefully read all text and extract every distinct expense it records.

For each expense extract:

1. **Description**: The merchant or business name followed by a short description of what was bought. Examples: "Esselunga - spesa settimanale", "Trenitalia - biglietto Milano Roma".

2. **Amount**: The final total paid for that expense, as a number (e.g., 42.75). Never include currency symbols.

3. **Category**: `)
	b.WriteString(categoryLine(categories))
	b.WriteString(`

4. **Date**: The transaction date in ISO 8601 format (YYYY-MM-DD). Use null if no date is visible.

5. **Tags**: Optional short lowercase keywords. Use an empty array if none apply.

A normal receipt is ONE expense even when it lists many items. Only return several expenses when the document clearly records separate payments (for example a bank statement or a list of transactions).

Return ONLY a valid JSON array. Each element must have this exact shape:
`)
	b.WriteString(expenseFormat)
	b.WriteString(`

Important:
- Return [] if the image does not contain any expense
- Do not include any text before or after the JSON
- Do not use markdown code blocks`)
	return b.String()
}

// voicePrompt is the prompt for a spoken expense ("ho speso 12 euro al bar")
func voicePrompt(categories []string) string {
	var b strings.Builder
	b.WriteString(`You are listening to a short voice note in which a person describes a single expense they just made. The speaker may use Italian or English.

Extract the description, the amount, the category, the date (if the speaker mentions one, such as "ieri" or "yesterday", resolve it to YYYY-MM-DD; otherwise use null) and any tags.

Category: `)
	b.WriteString(categoryLine(categories))
	b.WriteString(`

Return ONLY a single valid JSON object in this exact format:
`)
	b.WriteString(expenseFormat)
	b.WriteString(`

Important:
- The amount must be a number, not a string
- Do not include any text before or after the JSON
- Do not use markdown code blocks`)
	return b.String()
}

func categoryLine(categories []string) string {
	if len(categories) == 0 {
		return `A short category label. If uncertain, use "Other".`
	}
	return `It MUST be exactly one of: ` + strings.Join(categories, ", ") + `. If uncertain, use "Other".`
}
