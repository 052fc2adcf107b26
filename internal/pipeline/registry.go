package pipeline

import (
	"slices"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
)

// Registry holds the named jobs of one deployment in registration order.
type Registry struct {
	jobs  map[string]Job
	order []string
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Job)}
}

// Register adds jobs. Names must be unique.
func (r *Registry) Register(jobs ...Job) error {
	for _, j := range jobs {
		if err := j.validate(); err != nil {
			return err
		}
		if _, ok := r.jobs[j.Name]; ok {
			return apperrors.Newf(apperrors.ErrConfig, "job %s registered twice", j.Name)
		}
		r.jobs[j.Name] = j
		r.order = append(r.order, j.Name)
	}
	return nil
}

func (r *Registry) Get(name string) (Job, bool) {
	j, ok := r.jobs[name]
	return j, ok
}

// Jobs returns every job in registration order.
func (r *Registry) Jobs() []Job {
	out := make([]Job, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.jobs[name])
	}
	return out
}

// Layer returns the names of the jobs in one layer ("bronze", "silver").
func (r *Registry) Layer(layer string) []string {
	var names []string
	for _, name := range r.order {
		if r.jobs[name].Layer == layer {
			names = append(names, name)
		}
	}
	return names
}

// Dependents returns the jobs that list name as a direct dependency.
func (r *Registry) Dependents(name string) []Job {
	var out []Job
	for _, n := range r.order {
		if slices.Contains(r.jobs[n].DependsOn, name) {
			out = append(out, r.jobs[n])
		}
	}
	return out
}

// Plan returns the requested jobs (all jobs when requested is empty) minus
// skipped, ordered so that every job follows the selected jobs it depends
// on. Dependencies outside the selection are not added.
func (r *Registry) Plan(requested, skipped []string) ([]Job, error) {
	names := requested
	if len(names) == 0 {
		names = r.order
	}
	var unknown []string
	for _, n := range append(slices.Clone(names), skipped...) {
		if _, ok := r.jobs[n]; !ok {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "unknown jobs: %s", strings.Join(unknown, ", "))
	}

	selected := make(map[string]bool, len(names))
	for _, n := range names {
		if !slices.Contains(skipped, n) {
			selected[n] = true
		}
	}

	const (
		visiting = 1
		visited  = 2
	)
	marks := make(map[string]int, len(selected))
	out := make([]Job, 0, len(selected))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch marks[name] {
		case visiting:
			return apperrors.Newf(apperrors.ErrConfig, "job dependency cycle: %s", strings.Join(append(path, name), " -> "))
		case visited:
			return nil
		}
		marks[name] = visiting
		job := r.jobs[name]
		for _, dep := range job.DependsOn {
			if _, ok := r.jobs[dep]; !ok {
				return apperrors.Newf(apperrors.ErrConfig, "job %s depends on unknown job %s", name, dep)
			}
			if !selected[dep] {
				continue
			}
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		marks[name] = visited
		out = append(out, job)
		return nil
	}

	for _, name := range r.order {
		if selected[name] {
			if err := visit(name, nil); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
