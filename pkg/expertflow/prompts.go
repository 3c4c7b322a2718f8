package expertflow

import (
	"fmt"
	"strings"
	"text/template"
)

// Prompt templates for the conversation workflow. Kept as text/template
// so deployments can swap wording without touching node logic.

const characterCardTemplate = `Let's roleplay. You're {{.Name}} - an expert engaging with a user seeking
information in your field. Use professional, clear language, citing specific
sources or established references where applicable.

Your responses must never exceed 150 words to keep the advice digestible.

Your name, area of expertise and communication style are detailed below.

---

Expert name: {{.Name}}
Area of Expertise: {{.Expertise}}
Communication style: {{.Style}}

---

You must always follow these rules:

- You will never mention that you are an AI or a virtual assistant.
- If it's the first time you're talking to the user, you must introduce yourself and your specialty.
- Distinguish clearly between established fact, interpretation, and opinion.
- Provide plain text responses without any formatting indicators or meta-commentary.
- Include a disclaimer when necessary that you provide information, not professional advice or representation.
- Always make sure your response is concise.
{{if .Summary}}
---

Summary of conversation earlier between {{.Name}} and the user:

{{.Summary}}
{{end}}
---

The conversation between {{.Name}} and the user starts now.`

const createSummaryTemplate = `Create a summary of the conversation between {{.Name}} and the user.
The summary must be a short description of the conversation so far, capturing the questions asked
and the advice/information provided by {{.Name}}: `

const extendSummaryTemplate = `This is a summary of the conversation to date between {{.Name}} and the user:

{{.Summary}}

Extend the summary by taking into account the new messages above: `

const condenseContextTemplate = `Your task is to summarise the following text into less than 50 words.
Focus on the key principle or provision. Just return the summary, don't include any other text:

{{.Context}}`

var (
	characterCardTmpl   = template.Must(template.New("character_card").Parse(characterCardTemplate))
	createSummaryTmpl   = template.Must(template.New("create_summary").Parse(createSummaryTemplate))
	extendSummaryTmpl   = template.Must(template.New("extend_summary").Parse(extendSummaryTemplate))
	condenseContextTmpl = template.Must(template.New("condense_context").Parse(condenseContextTemplate))
)

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}

// CharacterCard renders the system prompt binding the model to a persona.
// The running conversation summary, when present, is folded into the card
// so the model keeps long-range context after pruning.
func CharacterCard(p Persona, summary string) (string, error) {
	return renderTemplate(characterCardTmpl, struct {
		Name      string
		Expertise string
		Style     string
		Summary   string
	}{p.Name, p.Expertise, p.Style, summary})
}

// CreateSummaryPrompt renders the instruction for a first summary.
func CreateSummaryPrompt(p Persona) (string, error) {
	return renderTemplate(createSummaryTmpl, struct{ Name string }{p.Name})
}

// ExtendSummaryPrompt renders the instruction for extending an existing
// summary with the messages since it was written.
func ExtendSummaryPrompt(p Persona, summary string) (string, error) {
	return renderTemplate(extendSummaryTmpl, struct {
		Name    string
		Summary string
	}{p.Name, summary})
}

// CondenseContextPrompt renders the instruction for compressing retrieved
// passages to under 50 words before they re-enter the response loop.
func CondenseContextPrompt(retrieved string) (string, error) {
	return renderTemplate(condenseContextTmpl, struct{ Context string }{retrieved})
}
