package project

import "time"

// Collection is the document-store collection holding project metadata.
const Collection = "projects"

// DefaultCompany is stored when an upload names no company.
const DefaultCompany = "Unknown"

// RepositoryFileName is the blob name of archives fetched from a remote source.
const RepositoryFileName = "repository.zip"

// Project is an uploaded codebase plus its descriptive metadata. Its blobs
// live under the "{ID}/" prefix.
type Project struct {
	ID          string     `json:"id,omitempty" bson:"-"`
	Name        string     `json:"name" bson:"name"`
	Description string     `json:"description" bson:"description"`
	Company     string     `json:"company" bson:"company"`
	FileURL     string     `json:"fileUrl,omitempty" bson:"fileUrl,omitempty"`
	GithubURL   string     `json:"githubUrl,omitempty" bson:"githubUrl,omitempty"`
	CreatedAt   time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty" bson:"updatedAt,omitempty"`
}

// Artifact is an uploaded file.
type Artifact struct {
	FileName    string
	ContentType string
	Data        []byte
}

// CreateInput holds the descriptive fields of a new project.
type CreateInput struct {
	Name        string
	Description string
	Company     string
}

// RecreateInput replaces a project's metadata and, optionally, its source.
// File takes precedence over GithubURL.
type RecreateInput struct {
	Name        string
	Description string
	Company     string
	File        *Artifact
	GithubURL   string
}

// RecreateMode reports which source a recreate attached.
type RecreateMode string

const (
	RecreateWithFile     RecreateMode = "file"
	RecreateWithGithub   RecreateMode = "github"
	RecreateMetadataOnly RecreateMode = "metadata"
)

// MetadataPatch carries the fields to change. Nil and empty fields keep their
// stored value.
type MetadataPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Company     *string `json:"company,omitempty"`
}
