package modules

import (
	"testing"

	"github.com/lexlapax/go-llmspell/internal/uv"
)

func TestParseJSONObjectAndArray(t *testing.T) {
	m := NewOutputModule()
	var parseJSON FunctionDef
	for _, f := range m.Functions {
		if f.Name == "parse_json" {
			parseJSON = f
		}
	}

	result, err := parseJSON.Callback(nil, []uv.Value{uv.StrFromString(`{"name":"ada","age":36,"tags":["a","b"]}`)})
	if err != nil {
		t.Fatalf("parse_json: %v", err)
	}
	obj, ok := result.AsObject()
	if !ok {
		t.Fatalf("expected object, got %v", result.Kind())
	}
	nameV, _ := obj.Get("name")
	name, _ := nameV.AsStr()
	if string(name) != "ada" {
		t.Fatalf("got name %q", name)
	}
	ageV, _ := obj.Get("age")
	age, _ := ageV.AsFloat() // JSON numbers decode as float64 via encoding/json
	if age != 36 {
		t.Fatalf("got age %v", age)
	}
	tagsV, _ := obj.Get("tags")
	tags, _ := tagsV.AsArray()
	if len(tags) != 2 {
		t.Fatalf("got tags %v", tags)
	}
}

func TestParseJSONInvalidReturnsConversionError(t *testing.T) {
	m := NewOutputModule()
	var parseJSON FunctionDef
	for _, f := range m.Functions {
		if f.Name == "parse_json" {
			parseJSON = f
		}
	}
	_, err := parseJSON.Callback(nil, []uv.Value{uv.StrFromString(`{not json`)})
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseYAMLMapping(t *testing.T) {
	m := NewOutputModule()
	var parseYAML FunctionDef
	for _, f := range m.Functions {
		if f.Name == "parse_yaml" {
			parseYAML = f
		}
	}
	result, err := parseYAML.Callback(nil, []uv.Value{uv.StrFromString("name: ada\nage: 36\n")})
	if err != nil {
		t.Fatalf("parse_yaml: %v", err)
	}
	obj, ok := result.AsObject()
	if !ok {
		t.Fatalf("expected object, got %v", result.Kind())
	}
	nameV, _ := obj.Get("name")
	name, _ := nameV.AsStr()
	if string(name) != "ada" {
		t.Fatalf("got %q", name)
	}
}

func TestParseCSVRows(t *testing.T) {
	m := NewOutputModule()
	var parseCSV FunctionDef
	for _, f := range m.Functions {
		if f.Name == "parse_csv" {
			parseCSV = f
		}
	}
	result, err := parseCSV.Callback(nil, []uv.Value{uv.StrFromString("a,b\n1,2\n3,4\n")})
	if err != nil {
		t.Fatalf("parse_csv: %v", err)
	}
	rows, ok := result.AsArray()
	if !ok || len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %v", result)
	}
	firstRow, _ := rows[0].AsArray()
	if len(firstRow) != 2 {
		t.Fatalf("expected 2 cells, got %v", firstRow)
	}
}

func TestParseXMLShallowFlattensLeaves(t *testing.T) {
	m := NewOutputModule()
	var parseXML FunctionDef
	for _, f := range m.Functions {
		if f.Name == "parse_xml" {
			parseXML = f
		}
	}
	result, err := parseXML.Callback(nil, []uv.Value{uv.StrFromString(`<root><name>ada</name><age>36</age></root>`)})
	if err != nil {
		t.Fatalf("parse_xml: %v", err)
	}
	obj, ok := result.AsObject()
	if !ok {
		t.Fatalf("expected object, got %v", result.Kind())
	}
	nameV, _ := obj.Get("name")
	name, _ := nameV.AsStr()
	if string(name) != "ada" {
		t.Fatalf("got %q", name)
	}
}

func TestExtractCodeBlocksReturnsFencedBodies(t *testing.T) {
	m := NewOutputModule()
	var extract FunctionDef
	for _, f := range m.Functions {
		if f.Name == "extract_code_blocks" {
			extract = f
		}
	}
	md := "Some text\n```go\nfunc main() {}\n```\nmore text\n```\nplain block\n```\n"
	result, err := extract.Callback(nil, []uv.Value{uv.StrFromString(md)})
	if err != nil {
		t.Fatalf("extract_code_blocks: %v", err)
	}
	blocks, ok := result.AsArray()
	if !ok || len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %v", result)
	}
	first, _ := blocks[0].AsStr()
	if string(first) != "func main() {}\n" {
		t.Fatalf("got %q", first)
	}
}
