package workflow

import (
	"encoding/json"
	"fmt"
)

// ParseDefinition unmarshals and validates a JSON workflow definition
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the definition for structural correctness: referential
// integrity of edges, dependsOn and input mappings, indegree consistency
// against the edge list, and acyclicity
func (d *Definition) Validate() error {
	if len(d.Actions) == 0 {
		return fmt.Errorf("definition has no actions")
	}

	// 1. Unique action refs
	refs := make(map[string]bool, len(d.Actions))
	for _, a := range d.Actions {
		if a.Ref == "" {
			return fmt.Errorf("action with empty ref")
		}
		if refs[a.Ref] {
			return fmt.Errorf("duplicate action ref: %s", a.Ref)
		}
		refs[a.Ref] = true
	}

	// 2. Entrypoint must exist
	if d.Entrypoint.Ref == "" {
		return fmt.Errorf("definition has no entrypoint")
	}
	if !refs[d.Entrypoint.Ref] {
		return fmt.Errorf("entrypoint references non-existent action: %s", d.Entrypoint.Ref)
	}

	// 3. dependsOn and input mappings reference known refs
	for _, a := range d.Actions {
		deps := make(map[string]bool, len(a.DependsOn))
		for _, dep := range a.DependsOn {
			if !refs[dep] {
				return fmt.Errorf("action %s depends on non-existent action: %s", a.Ref, dep)
			}
			deps[dep] = true
		}
		for port, mapping := range a.InputMappings {
			if mapping.SourceRef == "" {
				return fmt.Errorf("action %s: input mapping for %q has empty sourceRef", a.Ref, port)
			}
			if !deps[mapping.SourceRef] {
				return fmt.Errorf("action %s: input mapping for %q references %s which is not in dependsOn",
					a.Ref, port, mapping.SourceRef)
			}
		}
	}

	// 4. Edges reference known refs with valid kinds and unique ids
	edgeIDs := make(map[string]bool, len(d.Edges))
	inbound := make(map[string]int, len(d.Actions))
	inboundSources := make(map[string]map[string]bool)
	for _, e := range d.Edges {
		if e.ID == "" {
			return fmt.Errorf("edge with empty id (%s -> %s)", e.SourceRef, e.TargetRef)
		}
		if edgeIDs[e.ID] {
			return fmt.Errorf("duplicate edge id: %s", e.ID)
		}
		edgeIDs[e.ID] = true
		if !refs[e.SourceRef] {
			return fmt.Errorf("edge %s references non-existent source: %s", e.ID, e.SourceRef)
		}
		if !refs[e.TargetRef] {
			return fmt.Errorf("edge %s references non-existent target: %s", e.ID, e.TargetRef)
		}
		if e.Kind != EdgeSuccess && e.Kind != EdgeError {
			return fmt.Errorf("edge %s has invalid kind: %q", e.ID, e.Kind)
		}
		inbound[e.TargetRef]++
		if inboundSources[e.TargetRef] == nil {
			inboundSources[e.TargetRef] = make(map[string]bool)
		}
		inboundSources[e.TargetRef][e.SourceRef] = true
	}

	// 5. Edge sources must appear in the target's dependsOn and vice versa,
	//    so port wiring and scheduling edges describe the same graph
	for _, a := range d.Actions {
		sources := inboundSources[a.Ref]
		for src := range sources {
			found := false
			for _, dep := range a.DependsOn {
				if dep == src {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("action %s has an inbound edge from %s which is not in dependsOn", a.Ref, src)
			}
		}
		for _, dep := range a.DependsOn {
			if !sources[dep] {
				return fmt.Errorf("action %s depends on %s but has no inbound edge from it", a.Ref, dep)
			}
		}
	}

	// 6. Indegree consistency: the declared dependency count (or the
	//    dependsOn fallback) must match the inbound edge count the
	//    scheduler will settle
	for _, a := range d.Actions {
		expected := inbound[a.Ref]
		if d.DependencyCounts != nil {
			if n, ok := d.DependencyCounts[a.Ref]; ok {
				if n != expected {
					return fmt.Errorf("action %s: dependencyCounts=%d but %d inbound edges", a.Ref, n, expected)
				}
				continue
			}
		}
		if len(a.DependsOn) != expected {
			return fmt.Errorf("action %s: %d dependsOn entries but %d inbound edges (set dependencyCounts)",
				a.Ref, len(a.DependsOn), expected)
		}
	}

	// 7. Join strategies must be known
	for ref, meta := range d.Nodes {
		switch meta.JoinStrategy {
		case "", JoinAll, JoinAny, JoinFirst:
		default:
			return fmt.Errorf("node %s has invalid joinStrategy: %q", ref, meta.JoinStrategy)
		}
	}

	// 8. Cycle detection over the edge list (DFS with recursion stack)
	adjacency := make(map[string][]string)
	for _, e := range d.Edges {
		adjacency[e.SourceRef] = append(adjacency[e.SourceRef], e.TargetRef)
	}
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(ref string) bool
	hasCycle = func(ref string) bool {
		visited[ref] = true
		recStack[ref] = true
		for _, next := range adjacency[ref] {
			if !visited[next] {
				if hasCycle(next) {
					return true
				}
			} else if recStack[next] {
				return true
			}
		}
		recStack[ref] = false
		return false
	}

	for _, a := range d.Actions {
		if !visited[a.Ref] {
			if hasCycle(a.Ref) {
				return fmt.Errorf("workflow contains a cycle")
			}
		}
	}

	if d.Config.TimeoutSeconds < 0 {
		return fmt.Errorf("config.timeoutSeconds must not be negative")
	}

	return nil
}
