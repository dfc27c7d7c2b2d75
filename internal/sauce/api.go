package sauce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Account is the subset of the user record used for pre-flight checks.
type Account struct {
	UserType         string `json:"user_type"`
	ConcurrencyLimit struct {
		Overall int `json:"overall"`
	} `json:"concurrency_limit"`
}

// IsFree reports whether the account is on the free tier.
func (a *Account) IsFree() bool { return a.UserType == "free" }

// MaxConcurrency is the number of jobs the account may run at once, or 0
// when the API did not report a limit.
func (a *Account) MaxConcurrency() int { return a.ConcurrencyLimit.Overall }

// Account fetches the authenticated user's account record.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	var a Account
	if err := c.doJSON(ctx, http.MethodGet, "/rest/v1/users/"+url.PathEscape(c.creds.Username), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

type uploadResponse struct {
	Item struct {
		ID string `json:"id"`
	} `json:"item"`
}

// UploadArchive streams the file at path to application storage and returns
// its storage id. The file is never loaded into memory.
func (c *Client) UploadArchive(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		part, err := mw.CreateFormFile("payload", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/storage/upload", pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out uploadResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	if out.Item.ID == "" {
		return "", errors.New("upload failed: response carried no storage id")
	}
	return out.Item.ID, nil
}

// TunnelRef names the tunnel a job should route through.
type TunnelRef struct {
	ID string `json:"id"`
}

// JobRequest is the test composer payload for one suite.
type JobRequest struct {
	Name             string     `json:"name"`
	BrowserName      string     `json:"browserName"`
	BrowserVersion   string     `json:"browserVersion"`
	PlatformName     string     `json:"platformName"`
	ScreenResolution string     `json:"screenResolution,omitempty"`
	App              string     `json:"app"`
	Suite            string     `json:"suite"`
	Framework        string     `json:"framework"`
	FrameworkVersion string     `json:"frameworkVersion"`
	Build            string     `json:"build"`
	Tags             []string   `json:"tags,omitempty"`
	Tunnel           *TunnelRef `json:"tunnel,omitempty"`
}

type submitResponse struct {
	JobID string `json:"jobID"`
}

// SubmitJob starts a job and returns its id.
func (c *Client) SubmitJob(ctx context.Context, req *JobRequest) (string, error) {
	var out submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/testcomposer/jobs", req, &out); err != nil {
		return "", fmt.Errorf("job submission failed: %w", err)
	}
	if out.JobID == "" {
		return "", errors.New("job submission failed: response carried no job id")
	}
	return out.JobID, nil
}

// Remote job states.
const (
	JobNew        = "new"
	JobQueued     = "queued"
	JobInProgress = "in progress"
	JobComplete   = "complete"
	JobError      = "error"
)

// Job is the status record of a submitted job.
type Job struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Passed *bool  `json:"passed"`
	Error  string `json:"error"`
	Build  string `json:"build"`
}

// JobStatus fetches the current state of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*Job, error) {
	var j Job
	path := fmt.Sprintf("/rest/v1/%s/jobs/%s", url.PathEscape(c.creds.Username), url.PathEscape(jobID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &j); err != nil {
		return nil, err
	}
	j.Status = strings.ToLower(strings.TrimSpace(j.Status))
	return &j, nil
}

// Build is one entry of the build listing.
type Build struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ListBuilds returns the account's builds in the given status, for example
// "running".
func (c *Client) ListBuilds(ctx context.Context, status string) ([]Build, error) {
	path := fmt.Sprintf("/rest/v1/%s/builds", url.PathEscape(c.creds.Username))
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var builds []Build
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &builds); err != nil {
		return nil, err
	}
	return builds, nil
}
