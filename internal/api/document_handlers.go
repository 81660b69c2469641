package api

import (
	"mime"
	"path"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/novuscode/novuscode-api/internal/document"
	perrors "github.com/novuscode/novuscode-api/internal/errors"
)

type documentForm struct {
	Title       string `json:"title" form:"title"`
	Description string `json:"description" form:"description"`
	ProjectID   string `json:"projectId" form:"projectId"`
	URL         string `json:"url" form:"url"`
}

// uploadDocument handles POST /uploadDocument (multipart "file" or a url).
func (s *Server) uploadDocument(c *fiber.Ctx) error {
	var req documentForm
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	in := document.CreateInput{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		URL:         req.URL,
	}
	if fh, err := c.FormFile("file"); err == nil && fh != nil {
		data, err := readFormFile(fh)
		if err != nil {
			return writeError(c, perrors.E(perrors.KindStorage, "api.uploadDocument", "Error reading uploaded file.", err))
		}
		in.File = &document.File{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get(fiber.HeaderContentType),
			Data:        data,
		}
	}

	doc, err := s.deps.Documents.Create(c.UserContext(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":    "Document uploaded successfully.",
		"url":        doc.FileURL,
		"documentId": doc.ID,
		"document":   doc,
	})
}

func (s *Server) listDocuments(c *fiber.Ctx) error {
	docs, err := s.deps.Documents.List(c.UserContext(), c.Query("projectId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(docs)
}

func (s *Server) getDocument(c *fiber.Ctx) error {
	doc, err := s.deps.Documents.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(doc)
}

func (s *Server) readDocumentFile(c *fiber.Ctx) error {
	data, doc, err := s.deps.Documents.ReadFile(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType("inline", map[string]string{"filename": doc.FileName}))
	c.Type(strings.TrimPrefix(path.Ext(doc.FileName), "."))
	return c.Send(data)
}

func (s *Server) deleteDocument(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.deps.Documents.Delete(c.UserContext(), id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Document " + id + " deleted successfully."})
}
