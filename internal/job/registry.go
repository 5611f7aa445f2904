package job

import "sort"

// Registry maps descriptor types to job implementations. It is built once at
// process start and injected into the task manager; it is not safe for
// concurrent mutation after that.
type Registry struct {
	jobs map[string]Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Job)}
}

func (r *Registry) Register(jobType string, j Job) {
	r.jobs[jobType] = j
}

func (r *Registry) Resolve(jobType string) (Job, bool) {
	j, ok := r.jobs[jobType]
	return j, ok
}

func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.jobs))
	for t := range r.jobs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
