package api

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/novuscode/novuscode-api/internal/chat"
	perrors "github.com/novuscode/novuscode-api/internal/errors"
)

type chatRequest struct {
	Message      string           `json:"message"`
	CodebaseURL  string           `json:"codebaseUrl"`
	SelectedChat *chat.SessionRef `json:"selectedChat"`
}

type saveChatRequest struct {
	UID       string         `json:"uid"`
	ProjectID string         `json:"projectID"`
	Title     string         `json:"title"`
	Messages  []chat.Message `json:"messages"`
}

type saveChatResponse struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chatId"`
	UID       string         `json:"uid"`
	ProjectID string         `json:"projectID"`
	Title     string         `json:"title"`
	Messages  []chat.Message `json:"messages"`
	Timestamp string         `json:"timestamp"`
	Message   string         `json:"message"`
}

type updateChatRequest struct {
	ChatID     string          `json:"chatId"`
	NewMessage json.RawMessage `json:"newMessage"`
}

type retrieveChatsRequest struct {
	UID       string `json:"uid"`
	ProjectID string `json:"projectID"`
}

type sessionView struct {
	ID        string         `json:"id"`
	UID       string         `json:"uid"`
	ProjectID string         `json:"projectID"`
	Title     string         `json:"title"`
	Messages  []chat.Message `json:"messages"`
	Timestamp string         `json:"timestamp"`
}

// chatProject handles POST /chatProject.
func (s *Server) chatProject(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	text, err := s.deps.Chats.SendProjectMessage(c.UserContext(), req.Message, req.CodebaseURL, req.SelectedChat)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"response": text})
}

// chatDocuments handles POST /chatDocuments.
func (s *Server) chatDocuments(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	text, err := s.deps.Chats.SendDocumentMessage(c.UserContext(), req.Message, req.CodebaseURL, req.SelectedChat)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"response": text})
}

// saveChat handles POST /saveChat.
func (s *Server) saveChat(c *fiber.Ctx) error {
	return s.save(c, s.deps.Chats.SaveSession)
}

// saveDocumentChat handles POST /saveDocumentChat.
func (s *Server) saveDocumentChat(c *fiber.Ctx) error {
	return s.save(c, s.deps.Chats.SaveDocumentSession)
}

type saveFunc func(ctx context.Context, in chat.SaveInput) (*chat.Session, error)

func (s *Server) save(c *fiber.Ctx, fn saveFunc) error {
	var req saveChatRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if !isOwner(c, req.UID) {
		return forbidOwner(c)
	}

	sess, err := fn(c.UserContext(), chat.SaveInput{
		UID:       req.UID,
		ProjectID: req.ProjectID,
		Title:     req.Title,
		Messages:  req.Messages,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(saveChatResponse{
		ID:        sess.ID,
		ChatID:    sess.ID,
		UID:       sess.UID,
		ProjectID: sess.ProjectID,
		Title:     sess.Title,
		Messages:  sess.Messages,
		Timestamp: isoTime(sess.Timestamp),
		Message:   "Chat message saved successfully.",
	})
}

// updateChat handles POST /updateChat. newMessage is one message or an
// array of messages.
func (s *Server) updateChat(c *fiber.Ctx) error {
	var req updateChatRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	msgs, err := parseNewMessages(req.NewMessage)
	if err != nil {
		return writeError(c, err)
	}

	if uid, _ := c.Locals(localUID).(string); uid != "" && req.ChatID != "" {
		sess, err := s.deps.Chats.GetSession(c.UserContext(), req.ChatID)
		if err != nil {
			return writeError(c, err)
		}
		if !isOwner(c, sess.UID) {
			return forbidOwner(c)
		}
	}

	if err := s.deps.Chats.AppendMessages(c.UserContext(), req.ChatID, msgs...); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Chat updated successfully."})
}

// retrieveChats handles POST /retrieveChats.
func (s *Server) retrieveChats(c *fiber.Ctx) error {
	var req retrieveChatsRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if !isOwner(c, req.UID) {
		return forbidOwner(c)
	}

	sessions, err := s.deps.Chats.RetrieveSessions(c.UserContext(), req.UID, req.ProjectID)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionView{
			ID:        sess.ID,
			UID:       sess.UID,
			ProjectID: sess.ProjectID,
			Title:     sess.Title,
			Messages:  sess.Messages,
			Timestamp: isoTime(sess.Timestamp),
		})
	}
	return c.JSON(out)
}

func parseNewMessages(raw json.RawMessage) ([]chat.Message, error) {
	const op = "api.updateChat"
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, perrors.Validation(op, "chatId and newMessage are required")
	}
	if raw[0] == '[' {
		var msgs []chat.Message
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, perrors.Validation(op, "newMessage must be a message or an array of messages")
		}
		return msgs, nil
	}
	var msg chat.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, perrors.Validation(op, "newMessage must be a message or an array of messages")
	}
	return []chat.Message{msg}, nil
}

func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
