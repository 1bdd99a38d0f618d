package httpapi

import (
	"time"

	"github.com/docker/go-units"

	"stash-go/internal/model"
	"stash-go/internal/stash"
)

// RESPONSES

type ErrResponse struct {
	Error string `json:"error"`
	// Files lists uploads stored before a multipart request failed.
	Files []FileResponse `json:"files,omitempty"`
}

type FileResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DirectoryID string    `json:"directory_id"`
	Hash        string    `json:"hash"`
	Size        int64     `json:"size"`
	SizeHuman   string    `json:"size_human"`
	CreatedAt   time.Time `json:"created_at"`
}

type DirectoryResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ListingResponse struct {
	Directory   DirectoryResponse   `json:"directory"`
	Directories []DirectoryResponse `json:"directories"`
	Files       []FileResponse      `json:"files"`
}

type UploadResponse struct {
	Files []FileResponse `json:"files"`
}

type DeleteDirectoryResponse struct {
	DeletedFiles int `json:"deleted_files"`
}

// REQUESTS

type NameRequest struct {
	Name string `json:"name"`
}

func fileResponse(f *model.FileEntry) FileResponse {
	return FileResponse{
		ID:          f.ID,
		Name:        f.Name,
		DirectoryID: f.DirectoryID,
		Hash:        f.Hash.String(),
		Size:        f.Size,
		SizeHuman:   units.HumanSize(float64(f.Size)),
		CreatedAt:   f.CreatedAt,
	}
}

func directoryResponse(d *model.DirectoryEntry) DirectoryResponse {
	return DirectoryResponse{
		ID:        d.ID,
		Name:      d.Name,
		Path:      "/" + d.Path,
		ParentID:  d.ParentID,
		CreatedAt: d.CreatedAt,
	}
}

func listingResponse(l *stash.Listing) ListingResponse {
	out := ListingResponse{
		Directory:   directoryResponse(l.Directory),
		Directories: make([]DirectoryResponse, 0, len(l.Directories)),
		Files:       make([]FileResponse, 0, len(l.Files)),
	}
	for _, d := range l.Directories {
		out.Directories = append(out.Directories, directoryResponse(d))
	}
	for _, f := range l.Files {
		out.Files = append(out.Files, fileResponse(f))
	}
	return out
}
