package pods

import "path/filepath"

// ResolvedPods is the result of a successful pod resolution for one job.
type ResolvedPods struct {
	Graph *Graph
	// Selected lists the installed specs in install order.
	Selected []ID
	// Pods holds one build spec per root pod, in install order.
	Pods []*PodBuildSpec

	PodsDir         string
	Lockfile        string
	Platform        string
	PlatformVersion string
}

// A subspec inherits the values of its parents, so each selected spec
// contributes its whole ancestor chain.
func (r *ResolvedPods) collect(field func(*PodSpec) []string) []string {
	var out []string
	for _, id := range r.Selected {
		for _, a := range r.Graph.Ancestors(id) {
			out = appendUnique(out, field(r.Graph.Spec(a))...)
		}
	}
	return out
}

// Libraries returns the system libraries to link.
func (r *ResolvedPods) Libraries() []string {
	return r.collect(func(s *PodSpec) []string { return s.Libraries })
}

// LinkFlags returns the linker flags of every selected spec.
func (r *ResolvedPods) LinkFlags() []string {
	return r.collect(func(s *PodSpec) []string { return s.Settings.LinkFlags })
}

// Frameworks returns the system frameworks to link.
func (r *ResolvedPods) Frameworks() []string {
	return r.collect(func(s *PodSpec) []string { return s.Frameworks })
}

// WeakFrameworks returns the frameworks to link weakly.
func (r *ResolvedPods) WeakFrameworks() []string {
	return r.collect(func(s *PodSpec) []string { return s.WeakFrameworks })
}

// Resources returns the resource files of every selected spec, globbed
// relative to the owning pod dir.
func (r *ResolvedPods) Resources() ([]string, error) {
	var out []string
	for _, id := range r.Selected {
		dir := filepath.Join(r.PodsDir, r.Graph.PodName(id))
		for _, a := range r.Graph.Ancestors(id) {
			files, err := GlobAll(dir, r.Graph.Spec(a).Resources)
			if err != nil {
				return nil, err
			}
			out = appendUnique(out, files...)
		}
	}
	return out, nil
}

// Pod returns the build spec of a root pod.
func (r *ResolvedPods) Pod(name string) (*PodBuildSpec, bool) {
	for _, p := range r.Pods {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}
