package contentstore

import (
	"strings"
	"time"

	"flujos-esign/internal/domain/entity"
)

const alfrescoTimeLayout = "2006-01-02T15:04:05.000-0700"

// alfrescoTime accepts both the repository's +0000 offsets and RFC 3339
type alfrescoTime struct {
	time.Time
}

func (t *alfrescoTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	parsed, err := time.Parse(alfrescoTimeLayout, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
	}
	t.Time = parsed
	return nil
}

type nodeEntry struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	NodeType   string       `json:"nodeType"`
	IsFolder   bool         `json:"isFolder"`
	IsFile     bool         `json:"isFile"`
	ParentID   string       `json:"parentId"`
	ModifiedAt alfrescoTime `json:"modifiedAt"`
	Content    *struct {
		MimeType    string `json:"mimeType"`
		SizeInBytes int64  `json:"sizeInBytes"`
	} `json:"content,omitempty"`
}

func (n nodeEntry) toRepoNode() *entity.RepoNode {
	node := &entity.RepoNode{
		NodeID:     n.ID,
		Name:       n.Name,
		IsFolder:   n.IsFolder,
		ModifiedAt: n.ModifiedAt.Time,
	}
	if n.Content != nil {
		node.MimeType = n.Content.MimeType
		node.Size = n.Content.SizeInBytes
	}
	return node
}

type nodeResponse struct {
	Entry nodeEntry `json:"entry"`
}

type listResponse struct {
	List struct {
		Pagination struct {
			Count        int  `json:"count"`
			HasMoreItems bool `json:"hasMoreItems"`
			TotalItems   int  `json:"totalItems"`
			SkipCount    int  `json:"skipCount"`
			MaxItems     int  `json:"maxItems"`
		} `json:"pagination"`
		Entries []nodeResponse `json:"entries"`
	} `json:"list"`
}

type createNodeRequest struct {
	Name       string            `json:"name"`
	NodeType   string            `json:"nodeType"`
	Properties map[string]string `json:"properties,omitempty"`
}

type searchRequest struct {
	Query struct {
		Language string `json:"language"`
		Query    string `json:"query"`
	} `json:"query"`
	Paging struct {
		MaxItems  int `json:"maxItems"`
		SkipCount int `json:"skipCount"`
	} `json:"paging"`
}

// ChildFilter narrows ListChildren results
type ChildFilter struct {
	FoldersOnly bool
	FilesOnly   bool
}

func (f ChildFilter) where() string {
	switch {
	case f.FoldersOnly:
		return "(isFolder=true)"
	case f.FilesOnly:
		return "(isFile=true)"
	}
	return ""
}
