package modules

import (
	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// WorkflowNode is one step of a DAG-shaped workflow.
type WorkflowNode struct {
	Key          string
	FunctionName string
}

// WorkflowEdge is a dependency edge: From must complete before To starts.
type WorkflowEdge struct {
	From, To string
}

// RetryPolicy bounds how a failed node is retried before the workflow
// itself fails.
type RetryPolicy struct {
	MaxAttempts int
}

// WorkflowDefinition is the guest-submitted DAG shape, supplementing the
// spec's distilled scope with the teacher's DAG validation idiom
// (dag.go's Kahn's-algorithm topological sort and cycle detection).
type WorkflowDefinition struct {
	Nodes []WorkflowNode
	Edges []WorkflowEdge
	Retry RetryPolicy
}

// ValidateDAG topologically sorts def's nodes via Kahn's algorithm,
// rejecting empty definitions, duplicate keys, dangling edges, and
// cycles — the same checks the teacher's workflow package applies to a
// persisted control-plane WorkflowDefinition, here applied to a
// script-submitted in-process one.
func ValidateDAG(def WorkflowDefinition) ([]string, error) {
	if len(def.Nodes) == 0 {
		return nil, errkind.New(errkind.InvalidArguments, "workflow must have at least one node")
	}
	nodeSet := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		if n.Key == "" {
			return nil, errkind.New(errkind.InvalidArguments, "node key cannot be empty")
		}
		if nodeSet[n.Key] {
			return nil, errkind.New(errkind.InvalidArguments, "duplicate node key: "+n.Key)
		}
		nodeSet[n.Key] = true
	}
	for _, e := range def.Edges {
		if !nodeSet[e.From] || !nodeSet[e.To] {
			return nil, errkind.New(errkind.InvalidArguments, "edge references unknown node")
		}
		if e.From == e.To {
			return nil, errkind.New(errkind.InvalidArguments, "self-loop on node "+e.From)
		}
	}

	inDegree := make(map[string]int, len(def.Nodes))
	successors := make(map[string][]string)
	for _, n := range def.Nodes {
		inDegree[n.Key] = 0
	}
	for _, e := range def.Edges {
		inDegree[e.To]++
		successors[e.From] = append(successors[e.From], e.To)
	}

	var queue []string
	for _, n := range def.Nodes {
		if inDegree[n.Key] == 0 {
			queue = append(queue, n.Key)
		}
	}
	var order []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, succ := range successors[cur] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}
	if len(order) != len(def.Nodes) {
		return nil, errkind.New(errkind.InvalidArguments, "workflow contains a cycle")
	}
	return order, nil
}

// WorkflowHost runs a single node's function, retrying per policy. The
// actual semantics of what a node invocation does is host-side (spec
// Non-goal: workflow semantics are consumed, not implemented here).
type WorkflowHost interface {
	RunNode(functionName string, input uv.Value) (uv.Value, error)
}

func runWithRetry(host WorkflowHost, node WorkflowNode, input uv.Value, policy RetryPolicy) (uv.Value, error) {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		result, err := host.RunNode(node.FunctionName, input)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return uv.Nil(), errkind.Wrap(errkind.Runtime, "node "+node.Key+" failed after retries", lastErr)
}

// NewWorkflowModule builds the "workflow" script module over host. It
// exposes DAG validation plus sequential node execution in topological
// order; parallelizing independent branches is left to the host (it
// alone knows whether two nodes' side effects may overlap safely).
func NewWorkflowModule(host WorkflowHost) Module {
	return Module{
		Name:        "workflow",
		Version:     "1.0.0",
		Description: "Validate and run DAG-shaped workflows of host functions.",
		Functions: []FunctionDef{
			{
				Name: "validate", Description: "Topologically sort a workflow definition, rejecting cycles.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					def, err := workflowDefFromUV(args[0])
					if err != nil {
						return uv.Nil(), err
					}
					order, err := ValidateDAG(def)
					if err != nil {
						return uv.Nil(), err
					}
					items := make([]uv.Value, len(order))
					for i, k := range order {
						items[i] = uv.StrFromString(k)
					}
					return uv.Array(items), nil
				},
			},
			{
				Name: "run", Description: "Validate, then run each node in topological order with retry.", Arity: Fixed(2),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					def, err := workflowDefFromUV(args[0])
					if err != nil {
						return uv.Nil(), err
					}
					order, err := ValidateDAG(def)
					if err != nil {
						return uv.Nil(), err
					}
					byKey := make(map[string]WorkflowNode, len(def.Nodes))
					for _, n := range def.Nodes {
						byKey[n.Key] = n
					}
					input := args[1]
					var last uv.Value
					for _, key := range order {
						result, err := runWithRetry(host, byKey[key], input, def.Retry)
						if err != nil {
							return uv.Nil(), err
						}
						last = result
						input = result
					}
					return last, nil
				},
			},
		},
	}
}

func workflowDefFromUV(v uv.Value) (WorkflowDefinition, error) {
	obj, ok := v.AsObject()
	if !ok {
		return WorkflowDefinition{}, errkind.New(errkind.InvalidArguments, "workflow definition must be an object")
	}
	var def WorkflowDefinition
	if nodesV, ok := obj.Get("nodes"); ok {
		arr, _ := nodesV.AsArray()
		for _, nv := range arr {
			nObj, ok := nv.AsObject()
			if !ok {
				continue
			}
			keyV, _ := nObj.Get("key")
			fnV, _ := nObj.Get("function_name")
			key, _ := keyV.AsStr()
			fn, _ := fnV.AsStr()
			def.Nodes = append(def.Nodes, WorkflowNode{Key: string(key), FunctionName: string(fn)})
		}
	}
	if edgesV, ok := obj.Get("edges"); ok {
		arr, _ := edgesV.AsArray()
		for _, ev := range arr {
			eObj, ok := ev.AsObject()
			if !ok {
				continue
			}
			fromV, _ := eObj.Get("from")
			toV, _ := eObj.Get("to")
			from, _ := fromV.AsStr()
			to, _ := toV.AsStr()
			def.Edges = append(def.Edges, WorkflowEdge{From: string(from), To: string(to)})
		}
	}
	if retryV, ok := obj.Get("max_attempts"); ok {
		if n, ok := retryV.AsInt(); ok {
			def.Retry.MaxAttempts = int(n)
		}
	}
	return def, nil
}
