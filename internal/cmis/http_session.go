package cmis

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/imroc/req/v3"
)

const (
	userAgent           = "cmissync/1.0"
	objectByPathCacheCap = 4096
	defaultRetryCount    = 3
)

// apiError is the JSON error body the server is expected to return.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// HTTPSession is the Session implementation talking to a CMIS-like
// repository over its browser-binding-style REST API, the way the
// teacher's SyftSDK talks to its own server.
type HTTPSession struct {
	client       *req.Client
	repositoryID string

	// pathCache avoids a network round trip for GetObjectByPath lookups
	// the assembler performs repeatedly for the same parent directories
	// within one run.
	pathCache *lru.Cache[string, *Object]
}

// HTTPSessionConfig configures a new HTTPSession.
type HTTPSessionConfig struct {
	BaseURL      string
	RepositoryID string
	AccessToken  string
	Timeout      time.Duration
}

// NewHTTPSession builds a Session backed by req/v3, mirroring the
// teacher's SyftSDK client construction (TLS floor, retries, JSON codec,
// common error result).
func NewHTTPSession(cfg HTTPSessionConfig) (*HTTPSession, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("cmis: base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := req.C().
		SetBaseURL(cfg.BaseURL).
		SetTLSClientConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetTimeout(cfg.Timeout).
		SetCommonRetryCount(defaultRetryCount).
		SetCommonRetryFixedInterval(500 * time.Millisecond).
		SetUserAgent(userAgent).
		SetCommonErrorResult(&apiError{})

	if cfg.AccessToken != "" {
		client.SetCommonBearerAuthToken(cfg.AccessToken)
	}

	cache, err := lru.New[string, *Object](objectByPathCacheCap)
	if err != nil {
		return nil, fmt.Errorf("cmis: create path cache: %w", err)
	}

	return &HTTPSession{
		client:       client,
		repositoryID: cfg.RepositoryID,
		pathCache:    cache,
	}, nil
}

func classifyError(err error, res *req.Response) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportTransient, err)
	}
	if res == nil {
		return nil
	}
	status := res.GetStatusCode()
	switch {
	case status == http.StatusNotFound:
		return ErrObjectNotFound
	case status == http.StatusNotImplemented:
		return ErrChangeLogUnsupported
	case status >= 500:
		if apiErr, ok := res.Error().(*apiError); ok && apiErr != nil && apiErr.Message != "" {
			return fmt.Errorf("%w: %s", ErrTransportTransient, apiErr.Message)
		}
		return fmt.Errorf("%w: status %d", ErrTransportTransient, status)
	case res.IsErrorState():
		if apiErr, ok := res.Error().(*apiError); ok && apiErr != nil {
			return fmt.Errorf("cmis: %s", apiErr.Error())
		}
		return fmt.Errorf("cmis: unexpected status %d", status)
	}
	return nil
}

func (s *HTTPSession) GetChangeLogToken(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	res, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetQueryParam("repositoryId", s.repositoryID).
		Get("/changelog/token")
	if cerr := classifyError(err, res); cerr != nil {
		return "", cerr
	}
	return out.Token, nil
}

func (s *HTTPSession) GetContentChanges(ctx context.Context, token string, maxItems int) (*ChangeBatch, error) {
	var out ChangeBatch
	res, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetQueryParams(map[string]string{
			"repositoryId": s.repositoryID,
			"changeLogToken": token,
			"maxItems":      fmt.Sprintf("%d", maxItems),
		}).
		Get("/changelog")
	if cerr := classifyError(err, res); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

func (s *HTTPSession) GetObject(ctx context.Context, id string) (*Object, error) {
	var out Object
	res, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetPathParam("id", id).
		Get("/objects/{id}")
	if cerr := classifyError(err, res); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

func (s *HTTPSession) GetObjectByPath(ctx context.Context, path string) (*Object, error) {
	if cached, ok := s.pathCache.Get(path); ok {
		return cached, nil
	}

	var out Object
	res, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetQueryParam("path", path).
		Get("/objects/by-path")
	if cerr := classifyError(err, res); cerr != nil {
		return nil, cerr
	}
	s.pathCache.Add(path, &out)
	return &out, nil
}

func (s *HTTPSession) GetChildren(ctx context.Context, folderID string) ([]*Object, error) {
	var out struct {
		Children []*Object `json:"children"`
	}
	res, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetPathParam("id", folderID).
		Get("/objects/{id}/children")
	if cerr := classifyError(err, res); cerr != nil {
		return nil, cerr
	}
	return out.Children, nil
}

func (s *HTTPSession) CreateDocument(ctx context.Context, parentID, name string, content io.Reader) (*Object, error) {
	var out Object
	res, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetQueryParams(map[string]string{"parentId": parentID, "name": name}).
		SetBody(content).
		Post("/objects/documents")
	if cerr := classifyError(err, res); cerr != nil {
		return nil, cerr
	}
	s.pathCache.Remove(out.Path)
	return &out, nil
}

func (s *HTTPSession) CreateFolder(ctx context.Context, parentID, name string) (*Object, error) {
	var out Object
	res, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetBody(map[string]string{"parentId": parentID, "name": name}).
		Post("/objects/folders")
	if cerr := classifyError(err, res); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

func (s *HTTPSession) UpdateContent(ctx context.Context, id string, content io.Reader) (*Object, error) {
	var out Object
	res, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetPathParam("id", id).
		SetBody(content).
		Put("/objects/{id}/content")
	if cerr := classifyError(err, res); cerr != nil {
		return nil, cerr
	}
	s.pathCache.Remove(out.Path)
	return &out, nil
}

func (s *HTTPSession) DeleteObject(ctx context.Context, id string) error {
	res, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Delete("/objects/{id}")
	return classifyError(err, res)
}

func (s *HTTPSession) DownloadContent(ctx context.Context, id string) (io.ReadCloser, error) {
	res, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Get("/objects/{id}/content")
	if cerr := classifyError(err, res); cerr != nil {
		return nil, cerr
	}
	return io.NopCloser(bytes.NewReader(res.Bytes())), nil
}
