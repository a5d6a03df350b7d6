// Package contentstoretest provides an in-memory Alfresco-compatible server
// for tests.
package contentstoretest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"flujos-esign/internal/config"
	"flujos-esign/internal/domain/entity"
)

const (
	// RootID is the REST alias of the repository root; RootNodeID is its
	// real id, the only form search queries accept
	RootID     = "-root-"
	RootNodeID = "company-home-0000"

	User     = "svc-sign"
	Password = "secret"

	corePath   = "/alfresco/api/-default-/public/alfresco/versions/1"
	searchPath = "/alfresco/api/-default-/public/search/versions/1/search"
)

// Node is a stored repository node
type Node struct {
	ID          string
	Name        string
	ParentID    string
	IsFolder    bool
	MimeType    string
	Content     []byte
	ModifiedAt  time.Time
	Versions    int
	Title       string
	Description string
}

// Server is an httptest server speaking the subset of the repository REST
// API the client uses
type Server struct {
	*httptest.Server

	mu    sync.Mutex
	nodes map[string]*Node
	seq   int
	calls map[string]int

	// RejectDuplicates answers 409 to uploads of an existing name instead of renaming
	RejectDuplicates bool
	// RaceOnCreateFolder creates the named folder and still answers 409
	RaceOnCreateFolder map[string]bool
	// FailUpdateContent maps node ids to the status returned by PUT content
	FailUpdateContent map[string]int
	// FailUploadStatus, when set, is returned for every upload
	FailUploadStatus int
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		nodes:              map[string]*Node{RootNodeID: {ID: RootNodeID, Name: "Company Home", IsFolder: true}},
		calls:              map[string]int{},
		RaceOnCreateFolder: map[string]bool{},
		FailUpdateContent:  map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+corePath+"/nodes/{id}", s.getNode)
	mux.HandleFunc("GET "+corePath+"/nodes/{id}/children", s.listChildren)
	mux.HandleFunc("POST "+corePath+"/nodes/{id}/children", s.createChild)
	mux.HandleFunc("GET "+corePath+"/nodes/{id}/content", s.getContent)
	mux.HandleFunc("PUT "+corePath+"/nodes/{id}/content", s.putContent)
	mux.HandleFunc("POST "+searchPath, s.search)

	s.Server = httptest.NewServer(s.authenticate(mux))
	t.Cleanup(s.Close)
	return s
}

// Config returns a service configuration pointing at the server
func (s *Server) Config() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "flujos-esign", Env: "test"},
		ContentStore: config.ContentStoreConfig{
			URL:            s.URL,
			User:           User,
			Pass:           Password,
			RootID:         RootID,
			TimeoutSeconds: 5,
			Timeout:        5 * time.Second,
		},
		Signature: config.SignatureConfig{
			DefaultPosition: entity.PositionRight,
			MaxImageWidth:   205,
			Location:        "Madrid",
		},
		Workflow: config.WorkflowConfig{
			RecipientActivityTTLDays: 7,
			RootFolder:               "Sites/Flujos",
			DedupWindowHours:         24,
		},
	}
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != User || pass != Password {
			writeError(w, http.StatusUnauthorized, "bad credentials")
			return
		}
		s.mu.Lock()
		s.calls[r.Method+" "+operation(r.URL.Path)]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func operation(p string) string {
	switch {
	case strings.HasSuffix(p, "/children"):
		return "children"
	case strings.HasSuffix(p, "/content"):
		return "content"
	case strings.HasSuffix(p, "/search"):
		return "search"
	}
	return "node"
}

// Calls counts requests by "<METHOD> <children|content|search|node>"
func (s *Server) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func (s *Server) nextID() string {
	s.seq++
	return fmt.Sprintf("node-%04d", s.seq)
}

// canonical maps the root alias to the root's id
func canonical(id string) string {
	if id == RootID {
		return RootNodeID
	}
	return id
}

func (s *Server) addLocked(n *Node) *Node {
	n.ID = s.nextID()
	n.ParentID = canonical(n.ParentID)
	if n.ModifiedAt.IsZero() {
		n.ModifiedAt = time.Now().UTC()
	}
	s.nodes[n.ID] = n
	return n
}

// AddFolder seeds a folder
func (s *Server) AddFolder(parentID, name string) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(&Node{Name: name, ParentID: parentID, IsFolder: true})
}

// AddFile seeds a content node
func (s *Server) AddFile(parentID, name string, content []byte) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(&Node{Name: name, ParentID: parentID, MimeType: "application/pdf", Content: content, Versions: 1})
}

// Node returns a copy of the stored node
func (s *Server) Node(id string) (Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[canonical(id)]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Children returns copies of the children of parentID named name
func (s *Server) Children(parentID, name string) []Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	parentID = canonical(parentID)
	var out []Node
	for _, n := range s.nodes {
		if n.ParentID == parentID && n.Name == name {
			out = append(out, *n)
		}
	}
	return out
}

// FindPath resolves a slash separated path of names below the root
func (s *Server) FindPath(p string) (Node, bool) {
	current := RootID
	for _, segment := range strings.Split(strings.Trim(p, "/"), "/") {
		children := s.Children(current, segment)
		if len(children) != 1 {
			return Node{}, false
		}
		current = children[0].ID
	}
	return s.Node(current)
}

func (s *Server) childrenLocked(parentID string) []*Node {
	var out []*Node
	for _, n := range s.nodes {
		if n.ParentID == parentID {
			out = append(out, n)
		}
	}
	// stable order by id
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ID < out[j-1].ID; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (s *Server) isAncestorLocked(ancestorID string, n *Node) bool {
	for parent := n.ParentID; parent != ""; {
		if parent == ancestorID {
			return true
		}
		p, ok := s.nodes[parent]
		if !ok {
			return false
		}
		parent = p.ParentID
	}
	return false
}

func entry(n *Node) map[string]interface{} {
	e := map[string]interface{}{
		"id":         n.ID,
		"name":       n.Name,
		"parentId":   n.ParentID,
		"isFolder":   n.IsFolder,
		"isFile":     !n.IsFolder,
		"modifiedAt": n.ModifiedAt.Format("2006-01-02T15:04:05.000-0700"),
	}
	if n.IsFolder {
		e["nodeType"] = "cm:folder"
	} else {
		e["nodeType"] = "cm:content"
		e["content"] = map[string]interface{}{
			"mimeType":    n.MimeType,
			"sizeInBytes": len(n.Content),
		}
	}
	return e
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{"statusCode": status, "briefSummary": msg},
	})
}

func writeList(w http.ResponseWriter, nodes []*Node, skip, maxItems, total int) {
	entries := make([]map[string]interface{}, 0, len(nodes))
	for _, n := range nodes {
		entries = append(entries, map[string]interface{}{"entry": entry(n)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"list": map[string]interface{}{
			"pagination": map[string]interface{}{
				"count":        len(nodes),
				"hasMoreItems": skip+len(nodes) < total,
				"totalItems":   total,
				"skipCount":    skip,
				"maxItems":     maxItems,
			},
			"entries": entries,
		},
	})
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[canonical(r.PathValue("id"))]
	if !ok {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entry": entry(n)})
}

func (s *Server) listChildren(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parentID := canonical(r.PathValue("id"))
	if _, ok := s.nodes[parentID]; !ok {
		writeError(w, http.StatusNotFound, "parent not found")
		return
	}

	skip, _ := strconv.Atoi(r.URL.Query().Get("skipCount"))
	maxItems, _ := strconv.Atoi(r.URL.Query().Get("maxItems"))
	if maxItems <= 0 {
		maxItems = 100
	}

	var filtered []*Node
	for _, n := range s.childrenLocked(parentID) {
		switch r.URL.Query().Get("where") {
		case "(isFolder=true)":
			if !n.IsFolder {
				continue
			}
		case "(isFile=true)":
			if n.IsFolder {
				continue
			}
		}
		filtered = append(filtered, n)
	}

	total := len(filtered)
	end := skip + maxItems
	if skip > total {
		skip = total
	}
	if end > total {
		end = total
	}
	writeList(w, filtered[skip:end], skip, maxItems, total)
}

func (s *Server) existsLocked(parentID, name string) bool {
	for _, n := range s.childrenLocked(parentID) {
		if n.Name == name {
			return true
		}
	}
	return false
}

func (s *Server) createChild(w http.ResponseWriter, r *http.Request) {
	parentID := canonical(r.PathValue("id"))

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		s.upload(w, r, parentID)
		return
	}

	var req struct {
		Name       string            `json:"name"`
		NodeType   string            `json:"nodeType"`
		Properties map[string]string `json:"properties"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[parentID]; !ok {
		writeError(w, http.StatusNotFound, "parent not found")
		return
	}
	if s.existsLocked(parentID, req.Name) {
		writeError(w, http.StatusConflict, "duplicate child name")
		return
	}

	n := s.addLocked(&Node{
		Name:        req.Name,
		ParentID:    parentID,
		IsFolder:    req.NodeType == "cm:folder",
		Title:       req.Properties["cm:title"],
		Description: req.Properties["cm:description"],
	})
	if s.RaceOnCreateFolder[req.Name] {
		delete(s.RaceOnCreateFolder, req.Name)
		writeError(w, http.StatusConflict, "duplicate child name")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"entry": entry(n)})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request, parentID string) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	file, header, err := r.FormFile("filedata")
	if err != nil {
		writeError(w, http.StatusBadRequest, "filedata missing")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var meta struct {
		Name       string            `json:"name"`
		NodeType   string            `json:"nodeType"`
		Properties map[string]string `json:"properties"`
	}
	if err := json.Unmarshal([]byte(r.FormValue("json")), &meta); err != nil {
		writeError(w, http.StatusBadRequest, "json part missing or invalid")
		return
	}
	if meta.NodeType != "cm:content" {
		writeError(w, http.StatusBadRequest, "unsupported node type "+meta.NodeType)
		return
	}
	name := meta.Name
	if name == "" {
		name = header.Filename
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUploadStatus != 0 {
		writeError(w, s.FailUploadStatus, "upload rejected")
		return
	}
	if _, ok := s.nodes[parentID]; !ok {
		writeError(w, http.StatusNotFound, "parent not found")
		return
	}
	if s.existsLocked(parentID, name) {
		if s.RejectDuplicates || r.URL.Query().Get("autoRename") != "true" {
			writeError(w, http.StatusConflict, "duplicate child name")
			return
		}
		ext := path.Ext(name)
		base := strings.TrimSuffix(name, ext)
		for i := 1; s.existsLocked(parentID, name); i++ {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
	}

	n := s.addLocked(&Node{
		Name:        name,
		ParentID:    parentID,
		MimeType:    header.Header.Get("Content-Type"),
		Content:     content,
		Versions:    1,
		Title:       meta.Properties["cm:title"],
		Description: meta.Properties["cm:description"],
	})
	writeJSON(w, http.StatusCreated, map[string]interface{}{"entry": entry(n)})
}

func (s *Server) getContent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[r.PathValue("id")]
	if !ok || n.IsFolder {
		writeError(w, http.StatusNotFound, "content not found")
		return
	}
	w.Header().Set("Content-Type", n.MimeType)
	_, _ = w.Write(n.Content)
}

func (s *Server) putContent(w http.ResponseWriter, r *http.Request) {
	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("id")
	if status, ok := s.FailUpdateContent[id]; ok {
		writeError(w, status, "update rejected")
		return
	}
	n, ok := s.nodes[id]
	if !ok || n.IsFolder {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	n.Content = content
	n.MimeType = r.Header.Get("Content-Type")
	n.Versions++
	n.ModifiedAt = time.Now().UTC().Add(time.Duration(n.Versions) * time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]interface{}{"entry": entry(n)})
}

var aftsName = regexp.MustCompile(`cm:name:"((?:[^"\\]|\\.)*)" AND ANCESTOR:"workspace://SpacesStore/([^"]*)"`)

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query struct {
			Query string `json:"query"`
		} `json:"query"`
		Paging struct {
			MaxItems int `json:"maxItems"`
		} `json:"paging"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m := aftsName.FindStringSubmatch(req.Query.Query)
	if m == nil {
		writeError(w, http.StatusBadRequest, "unsupported query")
		return
	}
	name := strings.ReplaceAll(m[1], `\"`, `"`)

	s.mu.Lock()
	defer s.mu.Unlock()
	// ANCESTOR takes a node id as is; the -root- alias matches nothing
	var found []*Node
	for _, n := range s.nodes {
		if n.Name == name && s.isAncestorLocked(m[2], n) {
			found = append(found, n)
		}
	}
	if req.Paging.MaxItems > 0 && len(found) > req.Paging.MaxItems {
		found = found[:req.Paging.MaxItems]
	}
	writeList(w, found, 0, req.Paging.MaxItems, len(found))
}
