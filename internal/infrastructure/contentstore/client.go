package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"flujos-esign/internal/config"
	"flujos-esign/internal/domain/entity"
)

const (
	maxBodyLogLength = 500 // Maximum characters to log for body
	maxStoredBody    = 10000
	pageSize         = 100

	coreAPIPath   = "/alfresco/api/-default-/public/alfresco/versions/1"
	searchAPIPath = "/alfresco/api/-default-/public/search/versions/1/search"
)

// Client talks to an Alfresco-compatible repository. Status codes are
// reported through *Error; nothing is retried.
type Client interface {
	GetNode(ctx context.Context, nodeID string) (*entity.RepoNode, error)
	// ListChildren walks every page of a folder's children
	ListChildren(ctx context.Context, parentID string, filter ChildFilter) ([]entity.RepoNode, error)
	// FindChild returns the child called name, or ErrNotFound
	FindChild(ctx context.Context, parentID, name string, filter ChildFilter) (*entity.RepoNode, error)
	// CreateFolder creates a folder; an existing one of the same name is returned as is
	CreateFolder(ctx context.Context, parentID, name string, props map[string]string) (*entity.RepoNode, error)
	// UploadFile creates a content node; a 409 resolves to the existing node
	UploadFile(ctx context.Context, parentID, filename string, content []byte, mimeType string, props map[string]string) (*entity.RepoNode, error)
	// UpdateContent stores content as a new version of the node
	UpdateContent(ctx context.Context, nodeID string, content []byte, mimeType string) (*entity.RepoNode, error)
	DownloadContent(ctx context.Context, nodeID string) ([]byte, error)
	SearchAFTS(ctx context.Context, query string, maxItems int) ([]entity.RepoNode, error)
	// SearchByName finds a file by exact name below an ancestor folder
	SearchByName(ctx context.Context, name, ancestorID string) (*entity.RepoNode, error)
	// ContentURL is the download URL of a node's current content
	ContentURL(nodeID string) string
}

// APILogSaver interface for saving API logs
type APILogSaver interface {
	Save(ctx context.Context, log *entity.APILog) error
}

type actorKey struct{}

// WithActor tags outgoing calls made with ctx with the acting user for the API log
func WithActor(ctx context.Context, login string) context.Context {
	return context.WithValue(ctx, actorKey{}, login)
}

func actorFrom(ctx context.Context) string {
	login, _ := ctx.Value(actorKey{}).(string)
	return login
}

type client struct {
	http        *http.Client
	baseURL     string
	user        string
	pass        string
	apiLogSaver APILogSaver
	logger      *zap.Logger
}

func NewClient(cfg *config.Config, apiLogSaver APILogSaver, logger *zap.Logger) Client {
	logger.Info("Content store client initialized",
		zap.String("base_url", cfg.ContentStore.URL),
		zap.String("user", cfg.ContentStore.User),
		zap.Duration("timeout", cfg.ContentStore.Timeout),
	)

	return &client{
		http: &http.Client{
			Timeout: cfg.ContentStore.Timeout,
		},
		baseURL:     cfg.ContentStore.URL,
		user:        cfg.ContentStore.User,
		pass:        cfg.ContentStore.Pass,
		apiLogSaver: apiLogSaver,
		logger:      logger,
	}
}

type request struct {
	op          string
	method      string
	url         string
	body        []byte
	contentType string
	// logBody replaces body in logs when the payload is binary or multipart
	logBody []byte
}

func (c *client) nodeURL(nodeID string, suffix string) string {
	return c.baseURL + coreAPIPath + "/nodes/" + url.PathEscape(nodeID) + suffix
}

func (c *client) do(ctx context.Context, r request) ([]byte, error) {
	var bodyReader io.Reader
	if r.body != nil {
		bodyReader = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, bodyReader)
	if err != nil {
		return nil, &Error{Op: r.op, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.SetBasicAuth(c.user, c.pass)
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	logBody := r.logBody
	if logBody == nil {
		logBody = r.body
	}
	c.logRequest(r.method, r.url, req.Header, logBody)

	startTime := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: r.op, Err: fmt.Errorf("failed to execute request: %w", err)}
	}
	defer resp.Body.Close()

	duration := time.Since(startTime)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: r.op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	respLogBody := respBody
	if !isTextual(resp.Header.Get("Content-Type")) {
		respLogBody = []byte(fmt.Sprintf("[binary %d bytes]", len(respBody)))
	}
	c.logResponse(resp.StatusCode, resp.Status, duration, resp.Header, respLogBody)
	c.saveAPILog(ctx, r.method, r.url, logBody, respLogBody, resp.StatusCode, duration)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(r.op, resp.StatusCode, respBody)
	}

	return respBody, nil
}

func (c *client) doJSON(ctx context.Context, r request, result interface{}) error {
	respBody, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return &Error{Op: r.op, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
		}
	}
	return nil
}

func (c *client) GetNode(ctx context.Context, nodeID string) (*entity.RepoNode, error) {
	var resp nodeResponse
	err := c.doJSON(ctx, request{
		op:     "get_node",
		method: http.MethodGet,
		url:    c.nodeURL(nodeID, ""),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Entry.toRepoNode(), nil
}

func (c *client) ListChildren(ctx context.Context, parentID string, filter ChildFilter) ([]entity.RepoNode, error) {
	var nodes []entity.RepoNode
	skip := 0

	for {
		q := url.Values{}
		q.Set("include", "isFolder")
		q.Set("skipCount", fmt.Sprint(skip))
		q.Set("maxItems", fmt.Sprint(pageSize))
		if where := filter.where(); where != "" {
			q.Set("where", where)
		}

		var resp listResponse
		err := c.doJSON(ctx, request{
			op:     "list_children",
			method: http.MethodGet,
			url:    c.nodeURL(parentID, "/children?"+q.Encode()),
		}, &resp)
		if err != nil {
			return nil, err
		}

		for _, e := range resp.List.Entries {
			nodes = append(nodes, *e.Entry.toRepoNode())
		}

		count := len(resp.List.Entries)
		if !resp.List.Pagination.HasMoreItems || count == 0 {
			break
		}
		skip += count
	}

	return nodes, nil
}

func (c *client) FindChild(ctx context.Context, parentID, name string, filter ChildFilter) (*entity.RepoNode, error) {
	children, err := c.ListChildren(ctx, parentID, filter)
	if err != nil {
		return nil, err
	}
	for i := range children {
		if children[i].Name == name {
			return &children[i], nil
		}
	}
	return nil, &Error{Op: "find_child", StatusCode: http.StatusNotFound, Body: name}
}

func (c *client) CreateFolder(ctx context.Context, parentID, name string, props map[string]string) (*entity.RepoNode, error) {
	body, err := json.Marshal(createNodeRequest{
		Name:       name,
		NodeType:   "cm:folder",
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal folder request: %w", err)
	}

	var resp nodeResponse
	err = c.doJSON(ctx, request{
		op:          "create_folder",
		method:      http.MethodPost,
		url:         c.nodeURL(parentID, "/children"),
		body:        body,
		contentType: "application/json",
	}, &resp)
	if IsConflict(err) {
		c.logger.Info("Folder already exists, resolving by name",
			zap.String("parent_id", parentID),
			zap.String("name", name),
		)
		return c.FindChild(ctx, parentID, name, ChildFilter{FoldersOnly: true})
	}
	if err != nil {
		return nil, err
	}
	return resp.Entry.toRepoNode(), nil
}

func (c *client) UploadFile(ctx context.Context, parentID, filename string, content []byte, mimeType string, props map[string]string) (*entity.RepoNode, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// node metadata travels as a json part ahead of the file
	meta, err := json.Marshal(createNodeRequest{
		Name:       filename,
		NodeType:   "cm:content",
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload metadata: %w", err)
	}
	metaHeader := make(textproto.MIMEHeader)
	metaHeader.Set("Content-Disposition", `form-data; name="json"`)
	metaHeader.Set("Content-Type", "application/json")
	metaPart, err := writer.CreatePart(metaHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create json part: %w", err)
	}
	if _, err := metaPart.Write(meta); err != nil {
		return nil, fmt.Errorf("failed to write json part: %w", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="filedata"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write file content: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	// Build multipart body summary for logging
	summary := fmt.Sprintf("{json: %s, files: [filedata(%s, %d bytes)]}",
		meta, filename, len(content))

	var resp nodeResponse
	err = c.doJSON(ctx, request{
		op:          "upload_file",
		method:      http.MethodPost,
		url:         c.nodeURL(parentID, "/children?autoRename=true"),
		body:        buf.Bytes(),
		contentType: writer.FormDataContentType(),
		logBody:     []byte(summary),
	}, &resp)
	if IsConflict(err) {
		c.logger.Info("File already exists, resolving by name",
			zap.String("parent_id", parentID),
			zap.String("name", filename),
		)
		return c.FindChild(ctx, parentID, filename, ChildFilter{FilesOnly: true})
	}
	if err != nil {
		return nil, err
	}
	return resp.Entry.toRepoNode(), nil
}

func (c *client) UpdateContent(ctx context.Context, nodeID string, content []byte, mimeType string) (*entity.RepoNode, error) {
	var resp nodeResponse
	err := c.doJSON(ctx, request{
		op:          "update_content",
		method:      http.MethodPut,
		url:         c.nodeURL(nodeID, "/content?majorVersion=false"),
		body:        content,
		contentType: mimeType,
		logBody:     []byte(fmt.Sprintf("[%s %d bytes]", mimeType, len(content))),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Entry.toRepoNode(), nil
}

func (c *client) DownloadContent(ctx context.Context, nodeID string) ([]byte, error) {
	return c.do(ctx, request{
		op:     "download_content",
		method: http.MethodGet,
		url:    c.nodeURL(nodeID, "/content"),
	})
}

func (c *client) SearchAFTS(ctx context.Context, query string, maxItems int) ([]entity.RepoNode, error) {
	if maxItems <= 0 {
		maxItems = pageSize
	}

	var search searchRequest
	search.Query.Language = "afts"
	search.Query.Query = query
	search.Paging.MaxItems = maxItems

	body, err := json.Marshal(search)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	var resp listResponse
	err = c.doJSON(ctx, request{
		op:          "search",
		method:      http.MethodPost,
		url:         c.baseURL + searchAPIPath,
		body:        body,
		contentType: "application/json",
	}, &resp)
	if err != nil {
		return nil, err
	}

	nodes := make([]entity.RepoNode, 0, len(resp.List.Entries))
	for _, e := range resp.List.Entries {
		nodes = append(nodes, *e.Entry.toRepoNode())
	}
	return nodes, nil
}

func (c *client) SearchByName(ctx context.Context, name, ancestorID string) (*entity.RepoNode, error) {
	query := fmt.Sprintf(`cm:name:"%s" AND ANCESTOR:"workspace://SpacesStore/%s"`, escapeQuotes(name), ancestorID)
	nodes, err := c.SearchAFTS(ctx, query, 1)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, &Error{Op: "search", StatusCode: http.StatusNotFound, Body: name}
	}
	return &nodes[0], nil
}

func (c *client) ContentURL(nodeID string) string {
	return c.nodeURL(nodeID, "/content")
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func isTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "json") || strings.HasPrefix(ct, "text/")
}

// truncateString truncates a string if it exceeds maxLength
func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength] + fmt.Sprintf("... [truncated, total %d chars]", len(s))
}

var base64Pattern = regexp.MustCompile(`"([A-Za-z0-9+/=]{100,})"`)

// truncateBase64InJSON truncates base64-like values in JSON string
func truncateBase64InJSON(jsonStr string, maxLength int) string {
	return base64Pattern.ReplaceAllStringFunc(jsonStr, func(match string) string {
		content := match[1 : len(match)-1]
		if len(content) > maxLength {
			return fmt.Sprintf(`"%s... [base64 truncated, total %d chars]"`, content[:maxLength], len(content))
		}
		return match
	})
}

// formatHeadersForLog formats HTTP headers for logging; credentials are redacted
func formatHeadersForLog(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		for _, value := range headers[key] {
			if strings.EqualFold(key, "Authorization") {
				value = "[redacted]"
			} else if len(value) > 100 {
				value = value[:100] + "..."
			}
			sb.WriteString(fmt.Sprintf("Header %s=%s\n", key, value))
		}
	}
	return sb.String()
}

// logRequest logs the HTTP request details
func (c *client) logRequest(method, url string, headers http.Header, body []byte) {
	var logBuilder strings.Builder

	logBuilder.WriteString("\n>>> [CONTENT-STORE-REQ]\n")
	logBuilder.WriteString(fmt.Sprintf("Method: %s\n", method))
	logBuilder.WriteString(fmt.Sprintf("URL: %s\n", url))
	logBuilder.WriteString(formatHeadersForLog(headers))

	if len(body) > 0 {
		bodyStr := truncateBase64InJSON(string(body), 100)
		bodyStr = truncateString(bodyStr, maxBodyLogLength)
		logBuilder.WriteString(fmt.Sprintf("REQUEST BODY: %s\n", bodyStr))
	}

	c.logger.Debug(logBuilder.String())
}

// logResponse logs the HTTP response details
func (c *client) logResponse(statusCode int, statusText string, duration time.Duration, headers http.Header, body []byte) {
	var logBuilder strings.Builder

	logBuilder.WriteString("\n>>> [CONTENT-STORE-RESPONSE]\n")
	logBuilder.WriteString(fmt.Sprintf("Status: %d %s\n", statusCode, statusText))
	logBuilder.WriteString(fmt.Sprintf("Duration: %s\n", duration))
	logBuilder.WriteString(formatHeadersForLog(headers))

	bodyStr := truncateString(string(body), maxBodyLogLength)
	logBuilder.WriteString(fmt.Sprintf("Body: %s\n", bodyStr))

	c.logger.Debug(logBuilder.String())
}

// saveAPILog saves the API request/response log to database
func (c *client) saveAPILog(ctx context.Context, method, endpoint string, requestBody []byte, responseBody []byte, statusCode int, duration time.Duration) {
	if c.apiLogSaver == nil {
		return
	}

	reqBodyStr := ""
	if len(requestBody) > 0 {
		reqBodyStr = truncateString(truncateBase64InJSON(string(requestBody), 100), maxStoredBody)
	}

	apiLog := &entity.APILog{
		Endpoint:     endpoint,
		Method:       method,
		RequestBody:  reqBodyStr,
		ResponseBody: truncateString(string(responseBody), maxStoredBody),
		StatusCode:   statusCode,
		Duration:     duration.Milliseconds(),
		Actor:        actorFrom(ctx),
		CreatedAt:    time.Now(),
	}

	// Save asynchronously to not block the request
	go func() {
		if err := c.apiLogSaver.Save(context.Background(), apiLog); err != nil {
			c.logger.Warn("Failed to save API log to database",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
		}
	}()
}
