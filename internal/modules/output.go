package modules

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// fromGo converts a generic Go value produced by encoding/json,
// gopkg.in/yaml.v3, or encoding/xml's loose map[string]interface{}
// decoding into a uv.Value, mirroring the teacher's shallow,
// non-standards-compliant output parser rather than a full schema-aware
// decoder (spec.md's Open Question on parser depth: kept shallow).
func fromGo(v interface{}) uv.Value {
	switch t := v.(type) {
	case nil:
		return uv.Nil()
	case bool:
		return uv.Bool(t)
	case int:
		return uv.Int(int64(t))
	case int64:
		return uv.Int(t)
	case float64:
		return uv.Float(t)
	case string:
		return uv.StrFromString(t)
	case []interface{}:
		items := make([]uv.Value, len(t))
		for i, e := range t {
			items[i] = fromGo(e)
		}
		return uv.Array(items)
	case map[string]interface{}:
		o := uv.NewObject()
		for k, e := range t {
			o.Set(k, fromGo(e))
		}
		return uv.ObjectValue(o)
	case map[interface{}]interface{}: // yaml.v3 may decode maps with this shape
		o := uv.NewObject()
		for k, e := range t {
			o.Set(toGoString(k), fromGo(e))
		}
		return uv.ObjectValue(o)
	default:
		return uv.Nil()
	}
}

func toGoString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// NewOutputModule builds the "output" script module: shallow structured
// parsers for JSON, YAML, CSV, and XML, plus a best-effort Markdown code
// block extractor. Business logic for "repair"/"coerce"-grade recovery
// from malformed LLM output is left to the host (spec Non-goal).
func NewOutputModule() Module {
	return Module{
		Name:        "output",
		Version:     "1.0.0",
		Description: "Parse structured text produced by LLM output into universal values.",
		Functions: []FunctionDef{
			{
				Name: "parse_json", Description: "Parse a JSON document into a universal value.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					text, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "output.parse_json requires a string")
					}
					var decoded interface{}
					if err := json.Unmarshal(text, &decoded); err != nil {
						return uv.Nil(), errkind.Wrap(errkind.ConversionError, "invalid JSON", err)
					}
					return fromGo(decoded), nil
				},
				Memoizable: true,
			},
			{
				Name: "parse_yaml", Description: "Parse a YAML document into a universal value.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					text, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "output.parse_yaml requires a string")
					}
					var decoded interface{}
					if err := yaml.Unmarshal(text, &decoded); err != nil {
						return uv.Nil(), errkind.Wrap(errkind.ConversionError, "invalid YAML", err)
					}
					return fromGo(decoded), nil
				},
				Memoizable: true,
			},
			{
				Name: "parse_csv", Description: "Parse CSV text into an array of row arrays.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					text, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "output.parse_csv requires a string")
					}
					r := csv.NewReader(bytes.NewReader(text))
					r.FieldsPerRecord = -1
					records, err := r.ReadAll()
					if err != nil {
						return uv.Nil(), errkind.Wrap(errkind.ConversionError, "invalid CSV", err)
					}
					rows := make([]uv.Value, len(records))
					for i, rec := range records {
						cells := make([]uv.Value, len(rec))
						for j, cell := range rec {
							cells[j] = uv.StrFromString(cell)
						}
						rows[i] = uv.Array(cells)
					}
					return uv.Array(rows), nil
				},
				Memoizable: true,
			},
			{
				Name: "parse_xml", Description: "Parse a single-level XML document into an object of element name to text content.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					text, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "output.parse_xml requires a string")
					}
					o, err := parseXMLShallow(text)
					if err != nil {
						return uv.Nil(), errkind.Wrap(errkind.ConversionError, "invalid XML", err)
					}
					return uv.ObjectValue(o), nil
				},
				Memoizable: true,
			},
			{
				Name: "extract_code_blocks", Description: "Extract fenced code block bodies from Markdown text.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					text, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "output.extract_code_blocks requires a string")
					}
					blocks := extractFencedBlocks(string(text))
					items := make([]uv.Value, len(blocks))
					for i, b := range blocks {
						items[i] = uv.StrFromString(b)
					}
					return uv.Array(items), nil
				},
				Memoizable: true,
			},
		},
	}
}

// parseXMLShallow decodes every leaf element's character data into an
// object keyed by tag name, flattening nested structure the same way
// the teacher's output parser treats "structured-enough" text as good
// enough rather than a fully standards-compliant document model.
func parseXMLShallow(text []byte) (*uv.Object, error) {
	dec := xml.NewDecoder(bytes.NewReader(text))
	o := uv.NewObject()
	var curTag string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			curTag = t.Name.Local
		case xml.CharData:
			trimmed := strings.TrimSpace(string(t))
			if trimmed != "" && curTag != "" {
				o.Set(curTag, uv.StrFromString(trimmed))
			}
		}
	}
	return o, nil
}

// extractFencedBlocks returns the body of every ``` fenced block in md,
// in document order.
func extractFencedBlocks(md string) []string {
	var blocks []string
	lines := strings.Split(md, "\n")
	inBlock := false
	var cur strings.Builder
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inBlock {
				blocks = append(blocks, cur.String())
				cur.Reset()
				inBlock = false
			} else {
				inBlock = true
			}
			continue
		}
		if inBlock {
			cur.WriteString(line)
			cur.WriteString("\n")
		}
	}
	return blocks
}
