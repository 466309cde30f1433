package schema

import (
	"fmt"
	"sort"
	"strings"
)

// GenerateLLMExtractionPrompt deterministically renders the metadata
// extraction prompt from the catalog (spec §4.1.1): one block per field
// (requirement level, type, example, keywords, normalization rules,
// why-needed), closing with the strict response schema and four few-shot
// examples covering minimal input, rich context, partial info, and
// ambiguity.
func (c *Catalog) GenerateLLMExtractionPrompt() string {
	var b strings.Builder
	b.WriteString("You are extracting NWB/DANDI metadata fields from neurophysiology session context.\n")
	b.WriteString("For every field below, extract a value only if the user's message or file context supports it;\n")
	b.WriteString("never invent a value you cannot ground in the given text.\n\n")
	b.WriteString("## Fields\n\n")

	for _, f := range c.fields {
		fmt.Fprintf(&b, "### %s (%s, %s)\n", f.Name, f.FieldType, f.RequirementLevel)
		b.WriteString(f.Description + "\n")
		if len(f.AllowedValues) > 0 {
			fmt.Fprintf(&b, "Allowed values: %s\n", strings.Join(f.AllowedValues, ", "))
		}
		if f.Format != "" {
			fmt.Fprintf(&b, "Format: %s\n", f.Format)
		}
		fmt.Fprintf(&b, "Example: %s\n", f.Example)
		if len(f.ExtractionPatterns) > 0 {
			fmt.Fprintf(&b, "Keywords to watch for: %s\n", strings.Join(f.ExtractionPatterns, ", "))
		}
		if len(f.Synonyms) > 0 {
			fmt.Fprintf(&b, "Synonyms: %s\n", strings.Join(f.Synonyms, ", "))
		}
		if len(f.NormalizationRules) > 0 {
			b.WriteString("Normalization rules: ")
			froms := make([]string, 0, len(f.NormalizationRules))
			for from := range f.NormalizationRules {
				froms = append(froms, from)
			}
			sort.Strings(froms)
			first := true
			for _, from := range froms {
				to := f.NormalizationRules[from]
				if !first {
					b.WriteString("; ")
				}
				fmt.Fprintf(&b, "%q -> %q", from, to)
				first = false
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Why needed: %s\n\n", f.WhyNeeded)
	}

	b.WriteString("## Response schema\n\n")
	b.WriteString("Return a single JSON object with exactly these keys:\n")
	b.WriteString("{\n")
	b.WriteString("  \"extracted_metadata\": {<field name>: <value>, ...},\n")
	b.WriteString("  \"needs_more_info\": <bool>,\n")
	b.WriteString("  \"follow_up_message\": <string>,\n")
	b.WriteString("  \"ready_to_proceed\": <bool>,\n")
	b.WriteString("  \"confidence\": <int 0-100>\n")
	b.WriteString("}\n\n")

	b.WriteString(fewShotExamples())
	return b.String()
}

func fewShotExamples() string {
	var b strings.Builder
	b.WriteString("## Examples\n\n")

	b.WriteString("### Example 1: minimal input\n")
	b.WriteString("User: \"mouse recording\"\n")
	b.WriteString("Response: {\"extracted_metadata\": {\"species\": \"Mus musculus\"}, ")
	b.WriteString("\"needs_more_info\": true, ")
	b.WriteString("\"follow_up_message\": \"Got it, a mouse recording. Who is the experimenter, and what institution is this from?\", ")
	b.WriteString("\"ready_to_proceed\": false, \"confidence\": 60}\n\n")

	b.WriteString("### Example 2: rich context\n")
	b.WriteString("User: \"Dr Jane Smith at MIT recorded an 8 week old male mouse (subject mouse-042) on 2024-03-14, visual cortex Neuropixels recording\"\n")
	b.WriteString("Response: {\"extracted_metadata\": {\"experimenter\": \"Smith, Jane\", \"institution\": \"Massachusetts Institute of Technology\", ")
	b.WriteString("\"age\": \"P56D\", \"sex\": \"M\", \"species\": \"Mus musculus\", \"subject_id\": \"mouse-042\", ")
	b.WriteString("\"session_start_time\": \"2024-03-14T00:00:00Z\", \"experiment_description\": \"visual cortex Neuropixels recording\"}, ")
	b.WriteString("\"needs_more_info\": false, \"follow_up_message\": \"Thanks, that covers the required fields. Ready to proceed?\", ")
	b.WriteString("\"ready_to_proceed\": true, \"confidence\": 92}\n\n")

	b.WriteString("### Example 3: partial info\n")
	b.WriteString("User: \"institution is Stanford, experimenter is Dr. Lee\"\n")
	b.WriteString("Response: {\"extracted_metadata\": {\"institution\": \"Stanford\", \"experimenter\": \"Lee, Dr.\"}, ")
	b.WriteString("\"needs_more_info\": true, ")
	b.WriteString("\"follow_up_message\": \"Thanks. I still need the subject ID, species, sex, and session start time.\", ")
	b.WriteString("\"ready_to_proceed\": false, \"confidence\": 70}\n\n")

	b.WriteString("### Example 4: ambiguity\n")
	b.WriteString("User: \"the usual setup, same as last time\"\n")
	b.WriteString("Response: {\"extracted_metadata\": {}, ")
	b.WriteString("\"needs_more_info\": true, ")
	b.WriteString("\"follow_up_message\": \"I don't have details from a previous session to reuse. Could you share the experimenter, institution, subject ID, species, sex, and session start time directly?\", ")
	b.WriteString("\"ready_to_proceed\": false, \"confidence\": 20}\n")
	return b.String()
}

// ExtractionResponseSchema is the JSON-schema map passed to
// llm.Client.GenerateStructuredOutput alongside GenerateLLMExtractionPrompt.
func ExtractionResponseSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"extracted_metadata": map[string]any{"type": "object"},
			"needs_more_info":    map[string]any{"type": "boolean"},
			"follow_up_message":  map[string]any{"type": "string"},
			"ready_to_proceed":   map[string]any{"type": "boolean"},
			"confidence":         map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
		},
		"required":             []string{"extracted_metadata", "needs_more_info", "follow_up_message", "ready_to_proceed", "confidence"},
		"additionalProperties": false,
	}
}
