// Package chat manages chat transcripts scoped to a user and a project, and
// drives the completion service with the codebase context of that project.
package chat

import "time"

const (
	// Collection holds every chat session, project and document scoped.
	Collection = "chats"

	// ContextFileName is the companion file stored next to a project artifact.
	ContextFileName = "codebase_analysis.json"

	RoleUser     = "user"
	RoleResponse = "response"
)

// Message is one entry of a transcript. Timestamp is kept as sent by the
// client.
type Message struct {
	ID        string `json:"id,omitempty" bson:"id,omitempty"`
	Content   string `json:"content" bson:"content"`
	Role      string `json:"role" bson:"role"`
	Timestamp string `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
}

// Session is a titled, append-only transcript owned by one (uid, projectID).
type Session struct {
	ID        string    `json:"id,omitempty" bson:"-"`
	UID       string    `json:"uid" bson:"uid"`
	ProjectID string    `json:"projectID" bson:"projectID"`
	Title     string    `json:"title" bson:"title"`
	Messages  []Message `json:"messages" bson:"messages"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// SessionRef identifies the conversation a new message continues. Messages
// are used as history only when the session cannot be loaded by ID.
type SessionRef struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages,omitempty"`
}

// SaveInput is the payload of a new session.
type SaveInput struct {
	UID       string
	ProjectID string
	Title     string
	Messages  []Message
}
