package onedrive

import (
	"path"
	"strings"
	"time"
)

// Item is a drive item as returned by Graph. Exactly one of File, Folder is
// set for live items; Deleted is set when a delta reports a removal.
type Item struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	Size                 int64          `json:"size"`
	CreatedDateTime      *time.Time     `json:"createdDateTime,omitempty"`
	LastModifiedDateTime *time.Time     `json:"lastModifiedDateTime,omitempty"`
	WebURL               string         `json:"webUrl,omitempty"`
	File                 *FileFacet     `json:"file,omitempty"`
	Folder               *FolderFacet   `json:"folder,omitempty"`
	Deleted              *DeletedFacet  `json:"deleted,omitempty"`
	ParentReference      *ItemReference `json:"parentReference,omitempty"`
}

// FileFacet marks an item as a file
type FileFacet struct {
	MimeType string `json:"mimeType,omitempty"`
}

// FolderFacet marks an item as a folder
type FolderFacet struct {
	ChildCount int `json:"childCount"`
}

// DeletedFacet marks an item removed since the previous delta
type DeletedFacet struct {
	State string `json:"state,omitempty"`
}

// ItemReference points at an item's parent
type ItemReference struct {
	ID   string `json:"id,omitempty"`
	Path string `json:"path,omitempty"`
}

// IsFile reports whether the item is a live file
func (i Item) IsFile() bool { return i.File != nil && i.Deleted == nil }

// IsFolder reports whether the item is a live folder
func (i Item) IsFolder() bool { return i.Folder != nil && i.Deleted == nil }

// IsDeleted reports whether the item is a deletion notice
func (i Item) IsDeleted() bool { return i.Deleted != nil }

// Ext returns the lowercase file extension including the dot
func (i Item) Ext() string {
	return strings.ToLower(path.Ext(i.Name))
}

// itemPage is one page of a collection or delta response
type itemPage struct {
	Value     []Item `json:"value"`
	NextLink  string `json:"@odata.nextLink,omitempty"`
	DeltaLink string `json:"@odata.deltaLink,omitempty"`
}
