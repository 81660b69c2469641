package api

import (
	"fmt"
	"io"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"

	perrors "github.com/novuscode/novuscode-api/internal/errors"
	"github.com/novuscode/novuscode-api/internal/project"
)

type projectForm struct {
	Name        string `json:"name" form:"name"`
	Description string `json:"description" form:"description"`
	Company     string `json:"company" form:"company"`
	GithubURL   string `json:"githubUrl" form:"githubUrl"`
}

type projectResponse struct {
	Message   string `json:"message"`
	URL       string `json:"url,omitempty"`
	ProjectID string `json:"projectId"`
}

// uploadGithub handles POST /uploadGithub.
func (s *Server) uploadGithub(c *fiber.Ctx) error {
	var req projectForm
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	p, err := s.deps.Projects.CreateFromGithubURL(c.UserContext(), req.GithubURL, project.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		Company:     req.Company,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(projectResponse{
		Message:   "File uploaded and project added successfully.",
		URL:       p.FileURL,
		ProjectID: p.ID,
	})
}

// uploadLocal handles POST /uploadLocal (multipart, field "file").
func (s *Server) uploadLocal(c *fiber.Ctx) error {
	var req projectForm
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	file, err := formArtifact(c)
	if err != nil {
		return writeError(c, err)
	}
	if file == nil {
		return problemResponse(c, fiber.StatusBadRequest, string(perrors.KindValidation), "Bad Request", "No file uploaded.")
	}

	p, err := s.deps.Projects.CreateFromUpload(c.UserContext(), project.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		Company:     req.Company,
	}, *file)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(projectResponse{
		Message:   "File uploaded and project added successfully.",
		URL:       p.FileURL,
		ProjectID: p.ID,
	})
}

// recreateProject handles POST /recreateProject/:id (multipart or JSON).
func (s *Server) recreateProject(c *fiber.Ctx) error {
	id := c.Params("id")
	var req projectForm
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	file, err := formArtifact(c)
	if err != nil {
		return writeError(c, err)
	}

	p, mode, err := s.deps.Projects.Recreate(c.UserContext(), id, project.RecreateInput{
		Name:        req.Name,
		Description: req.Description,
		Company:     req.Company,
		File:        file,
		GithubURL:   req.GithubURL,
	})
	if err != nil {
		return writeError(c, err)
	}

	resp := projectResponse{ProjectID: p.ID}
	switch mode {
	case project.RecreateWithFile:
		resp.Message = "Project recreated successfully with new file."
		resp.URL = p.FileURL
	case project.RecreateWithGithub:
		resp.Message = "Project recreated successfully with GitHub URL."
		resp.URL = p.GithubURL
	default:
		resp.Message = "Project recreated successfully."
	}
	return c.JSON(resp)
}

// updateMetadata handles PUT /updateMetadata/:id.
func (s *Server) updateMetadata(c *fiber.Ctx) error {
	id := c.Params("id")
	var patch project.MetadataPatch
	if err := c.BodyParser(&patch); err != nil {
		return invalidBody(c, err)
	}
	if err := s.deps.Projects.UpdateMetadata(c.UserContext(), id, patch); err != nil {
		return writeError(c, err)
	}
	return c.JSON(projectResponse{Message: "Project metadata updated successfully.", ProjectID: id})
}

// deleteProject handles DELETE /delete/:id.
func (s *Server) deleteProject(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.deps.Projects.Delete(c.UserContext(), id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"message": fmt.Sprintf("Project %s deleted successfully.", id)})
}

func (s *Server) listProjects(c *fiber.Ctx) error {
	projects, err := s.deps.Projects.List(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(projects)
}

func (s *Server) getProject(c *fiber.Ctx) error {
	p, err := s.deps.Projects.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(p)
}

// readProjectFile handles GET /file/:projectId/:filename.
func (s *Server) readProjectFile(c *fiber.Ctx) error {
	data, err := s.deps.Projects.ReadFile(c.UserContext(), c.Params("projectId"), c.Params("filename"))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlain)
	return c.Send(data)
}

// fetchFileContent handles GET /api/fetch-file-content?url=.
func (s *Server) fetchFileContent(c *fiber.Ctx) error {
	url := c.Query("url")
	if url == "" {
		return problemResponse(c, fiber.StatusBadRequest, string(perrors.KindValidation), "Bad Request", "URL parameter is required")
	}
	res, err := s.deps.Fetcher.Get(c.UserContext(), url)
	if err != nil {
		return writeError(c, perrors.E(perrors.KindUpstreamFetch, "api.fetchFileContent", "Error fetching file content", err))
	}
	if res.ContentType != "" {
		c.Set(fiber.HeaderContentType, res.ContentType)
	}
	return c.Send(res.Data)
}

// formArtifact reads the optional "file" part of a multipart request.
func formArtifact(c *fiber.Ctx) (*project.Artifact, error) {
	fh, err := c.FormFile("file")
	if err != nil || fh == nil {
		return nil, nil
	}
	data, err := readFormFile(fh)
	if err != nil {
		return nil, perrors.E(perrors.KindStorage, "api.formArtifact", "Error reading uploaded file.", err)
	}
	return &project.Artifact{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Data:        data,
	}, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func invalidBody(c *fiber.Ctx, err error) error {
	return problemResponse(c, fiber.StatusBadRequest,
		"invalid_body", "Bad Request",
		"Invalid request body: "+err.Error())
}
