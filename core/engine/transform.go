package engine

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/kaptinlin/jsonrepair"
)

// Transform ops understood by transform nodes.
const (
	TransformConcat         = "concat"
	TransformTemplate       = "template"
	TransformJSONRepair     = "json_repair"
	TransformHTMLToMarkdown = "html_to_markdown"
)

// transformFunc turns the inputs of a transform node into its output.
type transformFunc func(inputs []upstreamInput, params transformParams) (string, error)

type transformParams struct {
	Separator *string `mapstructure:"separator"`
	Template  string  `mapstructure:"template"`
}

var transforms = map[string]transformFunc{
	TransformConcat:         concatTransform,
	TransformTemplate:       templateTransform,
	TransformJSONRepair:     jsonRepairTransform,
	TransformHTMLToMarkdown: htmlToMarkdownTransform,
}

// Transforms lists the registered transform ops, sorted.
func Transforms() []string {
	names := make([]string, 0, len(transforms))
	for name := range transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func applyTransform(op string, params map[string]any, inputs []upstreamInput) (string, error) {
	transform, exists := transforms[op]
	if !exists {
		return "", nodeFailure(ReasonInvalidConfig, fmt.Errorf("%w: %q", ErrUnknownTransform, op))
	}

	var decoded transformParams
	if err := decodeParams(params, &decoded); err != nil {
		return "", err
	}
	return transform(inputs, decoded)
}

func concatTransform(inputs []upstreamInput, params transformParams) (string, error) {
	separator := inputSeparator
	if params.Separator != nil {
		separator = *params.Separator
	}
	values := make([]string, 0, len(inputs))
	for _, input := range inputs {
		values = append(values, input.Value)
	}
	return strings.Join(values, separator), nil
}

// templateData is the dot value of a template transform.
type templateData struct {
	Input  string            // every input joined with a blank line
	Inputs []string          // inputs in edge insertion order
	Slots  map[string]string // named slots, joined per slot
}

func templateTransform(inputs []upstreamInput, params transformParams) (string, error) {
	if strings.TrimSpace(params.Template) == "" {
		return "", nodeFailure(ReasonInvalidConfig, fmt.Errorf("template transform needs a %q param", "template"))
	}
	parsed, err := template.New("transform").Option("missingkey=zero").Parse(params.Template)
	if err != nil {
		return "", nodeFailure(ReasonInvalidConfig, fmt.Errorf("parse template: %w", err))
	}

	data := templateData{
		Input:  joinInputs(inputs, func(string) bool { return true }),
		Inputs: make([]string, 0, len(inputs)),
		Slots:  make(map[string]string),
	}
	for _, input := range inputs {
		data.Inputs = append(data.Inputs, input.Value)
		if input.Slot == "" {
			continue
		}
		if existing, ok := data.Slots[input.Slot]; ok {
			data.Slots[input.Slot] = existing + inputSeparator + input.Value
			continue
		}
		data.Slots[input.Slot] = input.Value
	}

	var builder strings.Builder
	if err := parsed.Execute(&builder, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return builder.String(), nil
}

func jsonRepairTransform(inputs []upstreamInput, _ transformParams) (string, error) {
	input := joinInputs(inputs, func(string) bool { return true })
	if input == "" {
		return "", nodeFailure(ReasonEmptyInput, ErrEmptyInput)
	}
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return "", fmt.Errorf("repair json: %w", err)
	}
	return repaired, nil
}

func htmlToMarkdownTransform(inputs []upstreamInput, _ transformParams) (string, error) {
	input := joinInputs(inputs, func(string) bool { return true })
	if input == "" {
		return "", nodeFailure(ReasonEmptyInput, ErrEmptyInput)
	}
	markdown, err := htmltomarkdown.ConvertString(input)
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	return markdown, nil
}
