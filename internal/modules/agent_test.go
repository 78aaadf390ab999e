package modules

import (
	"testing"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

type fakeAgentHost struct {
	agents map[string]AgentDescriptor
	runErr error
}

func (f *fakeAgentHost) Get(name string) (AgentDescriptor, bool) {
	d, ok := f.agents[name]
	return d, ok
}

func (f *fakeAgentHost) Run(name, input string) (string, error) {
	if f.runErr != nil {
		return "", f.runErr
	}
	return "reply to: " + input, nil
}

func (f *fakeAgentHost) List() []string {
	names := make([]string, 0, len(f.agents))
	for n := range f.agents {
		names = append(names, n)
	}
	return names
}

func TestAgentGetFound(t *testing.T) {
	host := &fakeAgentHost{agents: map[string]AgentDescriptor{
		"assistant": {Name: "assistant", Description: "helper", ProviderName: "openai", Tools: []string{"search"}},
	}}
	m := NewAgentModule(host)
	get := findFunc(t, m, "get")

	result, err := get.Callback(nil, []uv.Value{uv.StrFromString("assistant")})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	obj, ok := result.AsObject()
	if !ok {
		t.Fatalf("expected object, got %v", result.Kind())
	}
	providerV, _ := obj.Get("provider")
	provider, _ := providerV.AsStr()
	if string(provider) != "openai" {
		t.Fatalf("got %q", provider)
	}
}

func TestAgentGetNotFound(t *testing.T) {
	host := &fakeAgentHost{agents: map[string]AgentDescriptor{}}
	m := NewAgentModule(host)
	get := findFunc(t, m, "get")

	_, err := get.Callback(nil, []uv.Value{uv.StrFromString("missing")})
	if !errkind.Is(err, errkind.AgentNotFound) {
		t.Fatalf("expected AgentNotFound, got %v", err)
	}
}

func TestAgentRun(t *testing.T) {
	host := &fakeAgentHost{agents: map[string]AgentDescriptor{"a": {Name: "a"}}}
	m := NewAgentModule(host)
	run := findFunc(t, m, "run")

	result, err := run.Callback(nil, []uv.Value{uv.StrFromString("a"), uv.StrFromString("hello")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	out, _ := result.AsStr()
	if string(out) != "reply to: hello" {
		t.Fatalf("got %q", out)
	}
}

func TestAgentList(t *testing.T) {
	host := &fakeAgentHost{agents: map[string]AgentDescriptor{"a": {}, "b": {}}}
	m := NewAgentModule(host)
	list := findFunc(t, m, "list")

	result, err := list.Callback(nil, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	items, _ := result.AsArray()
	if len(items) != 2 {
		t.Fatalf("expected 2, got %d", len(items))
	}
}
