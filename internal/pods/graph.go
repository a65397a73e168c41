// Package pods resolves CocoaPods dependencies for iOS and macOS builds:
// podspec parsing into a spec graph, xcconfig and Podfile handling, and
// the build-ready projection of every installed pod.
package pods

import (
	"fmt"
	"strings"
)

// ID indexes a PodSpec in its Graph.
type ID int

// NoID marks the absence of a spec, such as the parent of a root pod.
const NoID ID = -1

// ResolutionError reports a dependency that cannot be resolved.
type ResolutionError struct {
	Pod string
	Msg string
}

func (e *ResolutionError) Error() string { return e.Msg }

// Graph owns every parsed spec. Parents and subspecs refer to each other
// by ID, dependencies by name.
type Graph struct {
	Specs  []*PodSpec
	byName map[string]ID
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{byName: make(map[string]ID)}
}

func (g *Graph) add(s *PodSpec) ID {
	id := ID(len(g.Specs))
	s.ID = id
	g.Specs = append(g.Specs, s)
	if s.Parent == NoID {
		g.byName[s.Name] = id
	}
	return id
}

// Spec returns the spec stored under id.
func (g *Graph) Spec(id ID) *PodSpec { return g.Specs[id] }

// Root returns the root pod with the given name.
func (g *Graph) Root(name string) (ID, bool) {
	id, ok := g.byName[name]
	return id, ok
}

// Ancestors returns id followed by its parent chain up to the root pod.
func (g *Graph) Ancestors(id ID) []ID {
	var out []ID
	for id != NoID {
		out = append(out, id)
		id = g.Specs[id].Parent
	}
	return out
}

// PodName returns the name of the root pod that owns id.
func (g *Graph) PodName(id ID) string {
	chain := g.Ancestors(id)
	return g.Specs[chain[len(chain)-1]].Name
}

// FullName returns the slash separated spec path of id, such as
// "GoogleUtilities/Environment".
func (g *Graph) FullName(id ID) string {
	chain := g.Ancestors(id)
	parts := make([]string, len(chain))
	for i, a := range chain {
		parts[len(chain)-1-i] = g.Specs[a].Name
	}
	return strings.Join(parts, "/")
}

// Subspec returns the direct subspec of parent called name.
func (g *Graph) Subspec(parent ID, name string) (ID, bool) {
	for _, c := range g.Specs[parent].Subspecs {
		if g.Specs[c].Name == name {
			return c, true
		}
	}
	return NoID, false
}

// Lookup resolves a spec path such as "Pod/Sub/Sub2". Every segment must
// exist.
func (g *Graph) Lookup(path string) (ID, error) {
	parts := strings.Split(path, "/")
	id, ok := g.byName[parts[0]]
	if !ok {
		return NoID, &ResolutionError{Pod: parts[0], Msg: fmt.Sprintf("Unable to find pod %q", parts[0])}
	}
	for _, sub := range parts[1:] {
		next, ok := g.Subspec(id, sub)
		if !ok {
			return NoID, &ResolutionError{Pod: parts[0],
				Msg: fmt.Sprintf("Unable to find subspec %q in pod %q", sub, parts[0])}
		}
		id = next
	}
	return id, nil
}
