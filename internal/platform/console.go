package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/pagination"
)

// Import statuses answered by POST /console/api/apps/imports.
const (
	ImportCompleted             = "completed"
	ImportCompletedWithWarnings = "completed-with-warnings"
	ImportPending               = "pending"
	ImportFailed                = "failed"
)

// ImportResult is the parsed answer of a DSL import.
type ImportResult struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	AppID              string `json:"app_id"`
	AppMode            string `json:"app_mode"`
	CurrentDSLVersion  string `json:"current_dsl_version"`
	ImportedDSLVersion string `json:"imported_dsl_version"`
	Error              string `json:"error"`
}

// ConsoleAPI talks to the /console/api app endpoints. It logs in lazily with
// email and password the first time a call needs a token, and once more when
// the token is rejected.
type ConsoleAPI struct {
	client   *Client
	email    string
	password string

	mu       sync.Mutex
	loggedIn bool
	session  int // bumped on every successful login
}

// NewConsoleAPI creates a ConsoleAPI for one endpoint.
func NewConsoleAPI(ep models.Endpoint, opts ClientOptions) *ConsoleAPI {
	if ep.Insecure {
		opts.Insecure = true
	}
	return &ConsoleAPI{
		client:   NewClient(ep.ConsoleURL(), "", opts),
		email:    ep.Email,
		password: ep.Password,
	}
}

// Login exchanges email and password for a console access token.
func (c *ConsoleAPI) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

func (c *ConsoleAPI) login(ctx context.Context) error {
	const op = "POST /console/api/login"
	if c.email == "" || c.password == "" {
		return &APIError{Kind: KindAuth, Op: op, Err: fmt.Errorf("email and password required for console login")}
	}
	var resp struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	err := c.client.PostJSON(ctx, "/console/api/login", map[string]string{
		"email":    c.email,
		"password": c.password,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Data.AccessToken == "" {
		return &APIError{Kind: KindAuth, Op: op, Err: fmt.Errorf("no access token in login response")}
	}
	c.client.SetToken(resp.Data.AccessToken)
	c.loggedIn = true
	c.session++
	return nil
}

// ensureLogin logs in if needed and returns the current session.
func (c *ConsoleAPI) ensureLogin(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loggedIn {
		if err := c.login(ctx); err != nil {
			return 0, err
		}
	}
	return c.session, nil
}

// authorized runs call with a valid token. A call rejected as unauthorized
// is retried once after a fresh login; concurrent callers that saw the same
// expired session share that login.
func (c *ConsoleAPI) authorized(ctx context.Context, call func() error) error {
	session, err := c.ensureLogin(ctx)
	if err != nil {
		return err
	}
	if err = call(); !errors.Is(err, ErrAuth) {
		return err
	}

	c.mu.Lock()
	if c.session == session {
		err = c.login(ctx)
	} else {
		err = nil
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return call()
}

// AppsPage returns one page of apps.
func (c *ConsoleAPI) AppsPage(ctx context.Context, cursor string, pageSize int) (pagination.Page[models.TopLevelResource], error) {
	params, err := pageParams(cursor, pageSize)
	if err != nil {
		return pagination.Page[models.TopLevelResource]{}, payloadError("GET /console/api/apps", err)
	}
	var env pageEnvelope
	err = c.authorized(ctx, func() error {
		env = pageEnvelope{}
		return c.client.GetJSON(ctx, "/console/api/apps", url.Values(params), &env)
	})
	if err != nil {
		return pagination.Page[models.TopLevelResource]{}, err
	}
	items := make([]models.TopLevelResource, 0, len(env.Data))
	for _, r := range env.Data {
		items = append(items, toTopLevel(r, models.KindWorkflow))
	}
	return pagination.Page[models.TopLevelResource]{Items: items, HasMore: env.HasMore}, nil
}

// ExportDSL downloads an app's DSL. Dify answers either {"data": "<yaml>"}
// or the YAML document itself; both are accepted.
func (c *ConsoleAPI) ExportDSL(ctx context.Context, appID string, includeSecrets bool) ([]byte, error) {
	path := "/console/api/apps/" + url.PathEscape(appID) + "/export"
	var body []byte
	err := c.authorized(ctx, func() (err error) {
		body, err = c.client.Get(ctx, path, url.Values{"include_secret": {strconv.FormatBool(includeSecrets)}})
		return err
	})
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Data *string `json:"data"`
	}
	if json.Unmarshal(body, &wrapped) == nil && wrapped.Data != nil {
		return []byte(*wrapped.Data), nil
	}
	return body, nil
}

// ImportDSL imports a DSL document and returns the target app id. When req.AppID
// is set the existing app is overwritten. A pending import is confirmed.
func (c *ConsoleAPI) ImportDSL(ctx context.Context, req models.ImportRequest) (*ImportResult, error) {
	const op = "POST /console/api/apps/imports"
	payload := map[string]interface{}{
		"mode":         "yaml-content",
		"yaml_content": string(req.Content),
	}
	if req.Name != "" {
		payload["name"] = req.Name
	}
	if req.Description != "" {
		payload["description"] = req.Description
	}
	if req.AppID != "" {
		payload["app_id"] = req.AppID
	}

	var raw models.Resource
	err := c.authorized(ctx, func() error {
		raw = nil
		return c.client.PostLong(ctx, "/console/api/apps/imports", payload, &raw)
	})
	if err != nil {
		return nil, err
	}
	result := parseImportResult(raw)

	if result.Status == ImportPending && result.ID != "" {
		path := "/console/api/apps/imports/" + url.PathEscape(result.ID) + "/confirm"
		err := c.authorized(ctx, func() error {
			raw = nil
			return c.client.PostLong(ctx, path, nil, &raw)
		})
		if err != nil {
			return nil, err
		}
		confirmed := parseImportResult(raw)
		if confirmed.AppID == "" {
			confirmed.AppID = result.AppID
		}
		result = confirmed
	}

	if result.Status == ImportFailed {
		return result, payloadError(op, fmt.Errorf("import failed: %s", result.Error))
	}
	if result.AppID == "" {
		return result, payloadError(op, fmt.Errorf("import response has no app id"))
	}
	return result, nil
}

// parseImportResult reads both the current import envelope and the older
// {"data": {"app": {...}}} shape.
func parseImportResult(r models.Resource) *ImportResult {
	res := &ImportResult{
		ID:                 resourceID(r),
		Status:             stringField(r, "status"),
		AppID:              stringField(r, "app_id"),
		AppMode:            stringField(r, "app_mode"),
		CurrentDSLVersion:  stringField(r, "current_dsl_version"),
		ImportedDSLVersion: stringField(r, "imported_dsl_version"),
		Error:              stringField(r, "error"),
	}
	if data, ok := r["data"].(map[string]interface{}); ok {
		if app, ok := data["app"].(map[string]interface{}); ok && res.AppID == "" {
			res.AppID = resourceID(app)
		}
	}
	if res.Status == "" && res.AppID != "" {
		res.Status = ImportCompleted
	}
	return res
}

// CheckAuth verifies console credentials by logging in again.
func (c *ConsoleAPI) CheckAuth(ctx context.Context) error {
	return c.Login(ctx)
}
