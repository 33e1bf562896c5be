package stems

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/warriorguo/stemflow/services"
	"github.com/warriorguo/stemflow/types"
)

const (
	// consecutive transient poll failures tolerated before giving up
	maxPollRetries = 5

	defaultRetryBackoff = time.Second
	defaultStemExt      = ".wav"
)

var (
	_ Service  = &HTTPClient{}
	_ Uploader = &HTTPClient{}
)

type HTTPClient struct {
	client       *services.Client
	pollInterval time.Duration
	retryBackoff time.Duration
}

func NewHTTPClient(config *types.StemsConfig) (*HTTPClient, error) {
	if config == nil || config.BaseURL == "" {
		return nil, errors.NotValidf("empty stems service url")
	}
	interval := config.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HTTPClient{
		client:       services.NewClient(&config.ServiceConfig),
		pollInterval: interval,
		retryBackoff: defaultRetryBackoff,
	}, nil
}

type addJobRequest struct {
	Name     string     `json:"name"`
	Workflow string     `json:"workflow"`
	Params   types.Data `json:"params"`
}

type addJobResponse struct {
	ID string `json:"id"`
}

func (c *HTTPClient) AddJob(ctx context.Context, sessionID, jobType string, params types.Data) (string, error) {
	resp := &addJobResponse{}
	err := c.client.DoJSON(ctx, http.MethodPost, "/v1/job", &addJobRequest{
		Name:     sessionID,
		Workflow: jobType,
		Params:   params,
	}, resp)
	if err != nil {
		return "", errors.Annotatef(err, "add %s job for session %s", jobType, sessionID)
	}
	if resp.ID == "" {
		return "", errors.NotValidf("empty job id")
	}
	return resp.ID, nil
}

func (c *HTTPClient) getJob(ctx context.Context, jobID string) (*Job, error) {
	job := &Job{}
	err := c.client.DoJSON(ctx, http.MethodGet, "/v1/job/"+url.PathEscape(jobID), nil, job)
	if err == nil {
		return job, nil
	}

	var se *services.StatusError
	if errors.As(err, &se) && (se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500) {
		backoff := se.RetryAfter
		if backoff <= 0 {
			backoff = c.retryBackoff
		}
		return nil, types.NewRetryError(err, backoff)
	}
	return nil, errors.Trace(err)
}

func (c *HTTPClient) WaitForJobCompletion(ctx context.Context, jobID string) (*Job, error) {
	limiter := rate.NewLimiter(rate.Every(c.pollInterval), 1)
	retries := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, errors.Annotatef(err, "wait for job %s", jobID)
		}

		job, err := c.getJob(ctx, jobID)
		if re, ok := types.IsRetry(err); ok {
			retries++
			if retries > maxPollRetries {
				return nil, errors.Annotatef(err, "poll job %s", jobID)
			}
			log.Debugf("poll job %s failed, retry in %v: %v", jobID, re.Backoff, err)
			if err := sleep(ctx, re.Backoff); err != nil {
				return nil, errors.Annotatef(err, "wait for job %s", jobID)
			}
			continue
		}
		if err != nil {
			return nil, errors.Annotatef(err, "poll job %s", jobID)
		}
		retries = 0

		if job.Status.Terminal() {
			return job, nil
		}
		log.Debugf("job %s is %s", jobID, job.Status)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DownloadJobResults fetches every stem into destDir as <stem><ext>.
func (c *HTTPClient) DownloadJobResults(ctx context.Context, job *Job, destDir string) (map[string]string, error) {
	if !job.Succeeded() {
		return nil, errors.NotValidf("download of unfinished job")
	}
	if len(job.Result) == 0 {
		return nil, errors.NotFoundf("stems of job %s", job.ID)
	}
	if err := os.MkdirAll(destDir, 0750); err != nil {
		return nil, errors.Annotatef(err, "create stems directory %s", destDir)
	}

	names := make([]string, 0, len(job.Result))
	for name := range job.Result {
		if !ValidStemName(name) {
			return nil, errors.NotValidf("stem name %q of job %s", name, job.ID)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	paths := make(map[string]string, len(names))
	for _, name := range names {
		p, err := c.download(ctx, job.Result[name], destDir, name)
		if err != nil {
			return nil, errors.Annotatef(err, "download stem %s", name)
		}
		paths[name] = p
	}
	return paths, nil
}

// ValidStemName reports whether name can be used as a file name inside a session directory.
func ValidStemName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`+"\x00")
}

func (c *HTTPClient) download(ctx context.Context, rawURL, destDir, name string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Trace(err)
	}
	ext := path.Ext(u.Path)
	if ext == "" {
		ext = defaultStemExt
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", errors.Trace(err)
	}
	// result URLs are pre-signed, the api key is not sent
	resp, err := c.client.HTTPClient().Do(req)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("GET %s returned status %d", u.Path, resp.StatusCode)
	}

	dest := filepath.Join(destDir, name+ext)
	f, err := os.Create(dest)
	if err != nil {
		return "", errors.Trace(err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", errors.Trace(err)
	}
	return dest, errors.Trace(f.Close())
}

func (c *HTTPClient) DeleteJob(ctx context.Context, jobID string) error {
	err := c.client.DoJSON(ctx, http.MethodDelete, "/v1/job/"+url.PathEscape(jobID), nil, nil)
	if services.IsStatus(err, http.StatusNotFound) {
		return nil
	}
	return errors.Annotatef(err, "delete job %s", jobID)
}

type uploadSlot struct {
	UploadURL   string `json:"uploadUrl"`
	DownloadURL string `json:"downloadUrl"`
}

// Upload requests a signed upload slot from the service and PUTs the file to it.
func (c *HTTPClient) Upload(ctx context.Context, localPath string) (string, error) {
	slot := &uploadSlot{}
	if err := c.client.DoJSON(ctx, http.MethodGet, "/v1/upload", nil, slot); err != nil {
		return "", errors.Annotate(err, "request upload slot")
	}
	if slot.UploadURL == "" || slot.DownloadURL == "" {
		return "", errors.NotValidf("upload slot %+v", *slot)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", errors.Trace(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, slot.UploadURL, f)
	if err != nil {
		return "", errors.Trace(err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.HTTPClient().Do(req)
	if err != nil {
		return "", errors.Annotatef(err, "upload %s", localPath)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.Errorf("upload %s returned status %d", localPath, resp.StatusCode)
	}
	return slot.DownloadURL, nil
}
