// Package llm - extractor.go provides LLM-based structured analysis with a matching JSON Schema.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Field types understood by ExtractionSchema
const (
	FieldString      = "string"
	FieldStringList  = "[]string"
	FieldObjectList  = "[]object"
	FieldObjectShape = "object"
)

// ExtractionSchema defines the structure the model must return for an analysis task.
// The same definition renders the prompt and the JSON Schema used to validate the answer.
type ExtractionSchema struct {
	Name        string
	Description string
	Fields      []SchemaField
}

// SchemaField defines a single field in the extraction output.
type SchemaField struct {
	Name        string
	Type        string
	Description string
	Required    bool
	// Items describes the members of an "[]object" field
	Items []SchemaField
	// MinItems applies to list fields
	MinItems int
}

// BuildExtractionPrompt constructs the LLM prompt from schema and input text.
func BuildExtractionPrompt(schema ExtractionSchema, inputText string) string {
	var sb strings.Builder

	sb.WriteString(schema.Description)
	sb.WriteString("\n\n")

	sb.WriteString("Return ONLY valid JSON matching this exact structure:\n{\n")
	writeFields(&sb, schema.Fields, "  ")
	sb.WriteString("}\n\n")

	sb.WriteString("IMPORTANT:\n")
	sb.WriteString("- Base every answer on the input text and the stated keyword.\n")
	sb.WriteString("- Return ONLY the JSON object, no markdown, no explanation, no code blocks.\n\n")

	sb.WriteString("Input text:\n\"\"\"\n")
	sb.WriteString(inputText)
	sb.WriteString("\n\"\"\"\n")

	return sb.String()
}

func writeFields(sb *strings.Builder, fields []SchemaField, indent string) {
	for i, field := range fields {
		requiredHint := ""
		if field.Required {
			requiredHint = " (required)"
		}
		fmt.Fprintf(sb, "%s\"%s\": %s%s", indent, field.Name, typeHint(field), requiredHint)
		if field.Description != "" {
			fmt.Fprintf(sb, " // %s", field.Description)
		}
		if i < len(fields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
}

func typeHint(field SchemaField) string {
	switch field.Type {
	case FieldStringList:
		return `["string"]`
	case FieldObjectList:
		names := make([]string, len(field.Items))
		for i, item := range field.Items {
			names[i] = fmt.Sprintf("%q: %s", item.Name, typeHint(item))
		}
		return "[{" + strings.Join(names, ", ") + "}]"
	default:
		return `"string"`
	}
}

// JSONSchema renders the schema as a draft-07 JSON Schema document
func (s ExtractionSchema) JSONSchema() string {
	doc := objectSchema(s.Fields)
	doc["$schema"] = "http://json-schema.org/draft-07/schema#"
	doc["title"] = s.Name
	b, err := json.Marshal(doc)
	if err != nil {
		// maps of strings and slices always marshal
		panic(err)
	}
	return string(b)
}

func objectSchema(fields []SchemaField) map[string]any {
	props := make(map[string]any, len(fields))
	required := []string{}
	for _, f := range fields {
		props[f.Name] = fieldSchema(f)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func fieldSchema(f SchemaField) map[string]any {
	switch f.Type {
	case FieldStringList:
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "minItems": f.MinItems}
	case FieldObjectList:
		return map[string]any{"type": "array", "items": objectSchema(f.Items), "minItems": f.MinItems}
	case FieldObjectShape:
		return objectSchema(f.Items)
	default:
		out := map[string]any{"type": "string"}
		if f.Required {
			out["minLength"] = 1
		}
		return out
	}
}

// --- Predefined Schemas ---

// ContentAnalysisSchema returns the editorial brief schema derived from a scraped site.
func ContentAnalysisSchema() ExtractionSchema {
	return ExtractionSchema{
		Name: "ContentAnalysis",
		Description: `You are an SEO content strategist. Study the scraped website below and prepare the editorial brief
for a new article targeting the given keyword. Match the site's existing tone and audience.`,
		Fields: []SchemaField{
			{Name: "tone", Type: FieldString, Description: "Tone of voice used by the site", Required: true},
			{Name: "audience", Type: FieldString, Description: "Who the site writes for", Required: true},
			{Name: "search_intent", Type: FieldString, Description: "informational, commercial, transactional or navigational", Required: true},
			{Name: "secondary_keywords", Type: FieldStringList, Description: "5 to 10 related keywords", Required: true, MinItems: 1},
			{Name: "outline", Type: FieldStringList, Description: "Ordered H2 headings for the article", Required: true, MinItems: 3},
		},
	}
}

// ClusterPlanSchema returns the schema for planning satellites around a pillar article.
func ClusterPlanSchema(satellites int) ExtractionSchema {
	return ExtractionSchema{
		Name: "ClusterPlan",
		Description: fmt.Sprintf(`You are an SEO content strategist building a topic cluster. Read the pillar article below
and propose exactly %d complementary satellite articles. Each satellite must cover an angle the pillar
only touches on and target its own long-tail keyword.`, satellites),
		Fields: []SchemaField{
			{Name: "main_topic", Type: FieldString, Description: "The pillar's main topic in a few words", Required: true},
			{
				Name:        "satellite_themes",
				Type:        FieldObjectList,
				Description: "One entry per satellite article",
				Required:    true,
				MinItems:    satellites,
				Items: []SchemaField{
					{Name: "title", Type: FieldString, Required: true},
					{Name: "keyword", Type: FieldString, Required: true},
					{Name: "angle", Type: FieldString, Required: true},
				},
			},
		},
	}
}
