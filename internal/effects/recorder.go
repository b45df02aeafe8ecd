package effects

import "sync"

// Recorder captures notifications and redirects. It is meant for tests and
// for the CLI's summary output.
type Recorder struct {
	mu        sync.Mutex
	errors    []string
	redirects []string
}

func (r *Recorder) Error(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

func (r *Recorder) Redirect(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirects = append(r.redirects, path)
}

// Errors returns a copy of the error messages seen so far
func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

// Redirects returns a copy of the redirect targets seen so far
func (r *Recorder) Redirects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.redirects...)
}
