package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// JobPlan scripts the lifecycle of one fake job.
type JobPlan struct {
	// Polls is how many status requests report "in progress" before the
	// job completes.
	Polls int
	// Passed is reported once the job completes.
	Passed bool
	// Errored makes the job end in the "error" state.
	Errored bool
	// Never keeps the job in progress forever.
	Never bool
}

// SubmittedJob is a job request as received by the fake.
type SubmittedJob struct {
	ID      string
	Payload map[string]any
}

type fakeJob struct {
	plan  JobPlan
	polls int
	done  bool
}

// FakeSauce is an httptest server implementing the parts of the Sauce Labs
// REST API the client uses. Its fields may be set before the first request.
type FakeSauce struct {
	Server    *httptest.Server
	Username  string
	AccessKey string

	// UserType and Concurrency are returned by the account endpoint.
	UserType    string
	Concurrency int
	// Plan decides how each submitted job behaves; the default passes on
	// the first poll.
	Plan func(payload map[string]any) JobPlan
	// UploadStatus, SubmitStatus and StatusStatus force an error status
	// on the matching endpoint when non-zero.
	UploadStatus int
	SubmitStatus int
	StatusStatus int
	// BuildVisibleAfter hides the build from the listing for that many
	// listing requests after the first submission.
	BuildVisibleAfter int

	mu          sync.Mutex
	uploads     []string
	submitted   []SubmittedJob
	jobs        map[string]*fakeJob
	buildName   string
	buildLists  int
	inFlight    int
	maxInFlight int
}

// NewFakeSauce starts a fake API and registers its shutdown with t.
func NewFakeSauce(t *testing.T) *FakeSauce {
	t.Helper()
	f := &FakeSauce{
		Username:    "test-user",
		AccessKey:   "test-key",
		UserType:    "enterprise",
		Concurrency: 10,
		jobs:        map[string]*fakeJob{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/v1/{first}/{second}", f.handleRest)
	mux.HandleFunc("POST /v1/storage/upload", f.handleUpload)
	mux.HandleFunc("POST /v1/testcomposer/jobs", f.handleSubmit)
	mux.HandleFunc("GET /rest/v1/{user}/jobs/{id}", f.handleStatus)
	f.Server = httptest.NewServer(f.authenticate(mux))
	t.Cleanup(f.Server.Close)
	return f
}

// Configure changes settings while requests may be in flight.
func (f *FakeSauce) Configure(fn func(f *FakeSauce)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// URL is the base URL to hand to the client.
func (f *FakeSauce) URL() string { return f.Server.URL }

// Uploads returns the file names of the received archives.
func (f *FakeSauce) Uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

// Submitted returns the received job requests in arrival order.
func (f *FakeSauce) Submitted() []SubmittedJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SubmittedJob(nil), f.submitted...)
}

// MaxInFlight is the largest number of jobs that were submitted but not yet
// observed complete at the same time.
func (f *FakeSauce) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *FakeSauce) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, key, ok := r.BasicAuth()
		if !ok || user != f.Username || key != f.AccessKey {
			http.Error(w, `{"message": "Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// handleRest serves /rest/v1/users/{user} and /rest/v1/{user}/builds, which
// cannot be told apart by pattern alone.
func (f *FakeSauce) handleRest(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.PathValue("first") == "users" && r.PathValue("second") == f.Username:
		f.handleAccount(w, r)
	case r.PathValue("first") == f.Username && r.PathValue("second") == "builds":
		f.handleBuilds(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeSauce) handleAccount(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, map[string]any{
		"user_type":         f.UserType,
		"concurrency_limit": map[string]any{"overall": f.Concurrency},
	})
}

func (f *FakeSauce) handleUpload(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	status := f.UploadStatus
	f.mu.Unlock()
	if status != 0 {
		http.Error(w, "upload rejected", status)
		return
	}
	file, hdr, err := r.FormFile("payload")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	if _, err := io.Copy(io.Discard, file); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.uploads = append(f.uploads, hdr.Filename)
	id := fmt.Sprintf("storage-%d", len(f.uploads))
	f.mu.Unlock()
	writeJSON(w, map[string]any{"item": map[string]any{"id": id}})
}

func (f *FakeSauce) handleSubmit(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitStatus != 0 {
		http.Error(w, "submission rejected", f.SubmitStatus)
		return
	}
	plan := JobPlan{Passed: true}
	if f.Plan != nil {
		plan = f.Plan(payload)
	}
	id := fmt.Sprintf("job-%d", len(f.submitted)+1)
	f.jobs[id] = &fakeJob{plan: plan}
	f.submitted = append(f.submitted, SubmittedJob{ID: id, Payload: payload})
	if b, ok := payload["build"].(string); ok && f.buildName == "" {
		f.buildName = b
	}
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	writeJSON(w, map[string]any{"jobID": id})
}

func (f *FakeSauce) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatusStatus != 0 {
		http.Error(w, "status unavailable", f.StatusStatus)
		return
	}
	id := r.PathValue("id")
	job, ok := f.jobs[id]
	if !ok {
		http.NotFound(w, r)
		return
	}

	job.polls++
	resp := map[string]any{"id": id, "build": f.buildName}
	switch {
	case job.plan.Never || job.polls <= job.plan.Polls:
		resp["status"] = "in progress"
		resp["passed"] = nil
	case job.plan.Errored:
		resp["status"] = "error"
		resp["error"] = "Internal error"
		f.finish(job)
	default:
		resp["status"] = "complete"
		resp["passed"] = job.plan.Passed
		f.finish(job)
	}
	writeJSON(w, resp)
}

func (f *FakeSauce) finish(job *fakeJob) {
	if !job.done {
		job.done = true
		f.inFlight--
	}
}

func (f *FakeSauce) handleBuilds(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	builds := []map[string]any{{"id": "other-build", "name": "someone else's build", "status": "running"}}
	if f.buildName != "" {
		f.buildLists++
		if f.buildLists > f.BuildVisibleAfter {
			builds = append(builds, map[string]any{"id": "build-1", "name": f.buildName, "status": "running"})
		}
	}
	if s := r.URL.Query().Get("status"); s != "" && !strings.EqualFold(s, "running") {
		builds = nil
	}
	writeJSON(w, builds)
}
