package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/novuscode/novuscode-api/internal/docstore"
	perrors "github.com/novuscode/novuscode-api/internal/errors"
	"github.com/novuscode/novuscode-api/internal/fetch"
	"github.com/novuscode/novuscode-api/internal/llm"
	"github.com/novuscode/novuscode-api/internal/metrics"
	"github.com/novuscode/novuscode-api/internal/prompt"
	"github.com/novuscode/novuscode-api/internal/requestid"
)

const defaultCompletionTimeout = 120 * time.Second

// Fetcher downloads remote context documents.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*fetch.Result, error)
}

// BlobReader reads context documents that live in our own bucket.
type BlobReader interface {
	Read(ctx context.Context, path string) ([]byte, error)
	PathFromURL(raw string) (string, bool)
}

// Manager drives chat completions and persists transcripts.
type Manager struct {
	ds       docstore.Store
	provider llm.Provider
	fetcher  Fetcher
	blobs    BlobReader
	prompts  *prompt.Set
	cache    *ContextCache
	metrics  *metrics.Metrics
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCompletionTimeout bounds each completion call.
func WithCompletionTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithBlobReader reads context files under the public bucket address
// straight from the bucket instead of over HTTP.
func WithBlobReader(b BlobReader) Option {
	return func(m *Manager) { m.blobs = b }
}

func WithContextCache(c *ContextCache) Option {
	return func(m *Manager) { m.cache = c }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a chat manager.
func NewManager(ds docstore.Store, provider llm.Provider, fetcher Fetcher, prompts *prompt.Set, logger zerolog.Logger, opts ...Option) *Manager {
	if prompts == nil {
		prompts = prompt.Default()
	}
	m := &Manager{
		ds:       ds,
		provider: provider,
		fetcher:  fetcher,
		prompts:  prompts,
		timeout:  defaultCompletionTimeout,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With().Str("component", "chat.manager").Logger(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SendProjectMessage asks the completion service about a project codebase.
// A new conversation wraps message in the project instruction template; a
// continued one sends it unmodified after the session's prior turns.
func (m *Manager) SendProjectMessage(ctx context.Context, message, codebaseURL string, existing *SessionRef) (string, error) {
	return m.send(ctx, "chat.SendProjectMessage", prompt.KindProject, message, codebaseURL, existing)
}

// SendDocumentMessage is SendProjectMessage for document material.
func (m *Manager) SendDocumentMessage(ctx context.Context, message, documentURL string, existing *SessionRef) (string, error) {
	return m.send(ctx, "chat.SendDocumentMessage", prompt.KindDocument, message, documentURL, existing)
}

func (m *Manager) send(ctx context.Context, op string, kind prompt.Kind, message, sourceURL string, existing *SessionRef) (_ string, err error) {
	defer m.observe(ctx, op, &err)

	if strings.TrimSpace(message) == "" || strings.TrimSpace(sourceURL) == "" {
		return "", perrors.Validation(op, "message and codebaseUrl are required")
	}

	contextText, err := m.loadContext(ctx, op, ContextURL(sourceURL))
	if err != nil {
		return "", err
	}

	history, err := m.history(ctx, kind, contextText, existing)
	if err != nil {
		return "", err
	}

	query := message
	if existing == nil {
		if query, err = m.prompts.Render(kind, contextText, message); err != nil {
			return "", perrors.E(perrors.KindInternal, op, "Error building the prompt.", err)
		}
	}

	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	resp, err := m.provider.Complete(cctx, llm.CompletionRequest{History: history, Prompt: query})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		m.metrics.RecordCompletion(m.provider.ModelID(), "error", elapsed)
		if errors.Is(err, context.DeadlineExceeded) {
			return "", perrors.E(perrors.KindUpstream, op, "The completion service timed out.", err)
		}
		return "", perrors.E(perrors.KindUpstream, op, "An error occurred while processing your request.", err)
	}

	text, err := llm.FirstText(resp)
	if err != nil {
		m.metrics.RecordCompletion(m.provider.ModelID(), "empty", elapsed)
		return "", err
	}
	m.metrics.RecordCompletion(m.provider.ModelID(), "ok", elapsed)

	m.logger.Debug().
		Str("op", op).
		Bool("continued", existing != nil).
		Int("history", len(history)).
		Int("input_tokens", resp.InputTokens).
		Int("output_tokens", resp.OutputTokens).
		Msg("completion received")
	return text, nil
}

// loadContext returns the codebase context document at url.
func (m *Manager) loadContext(ctx context.Context, op, url string) (string, error) {
	if v, ok := m.cache.Get(url); ok {
		return v, nil
	}

	var (
		data []byte
		err  error
	)
	if p, ok := m.blobPath(url); ok {
		data, err = m.blobs.Read(ctx, p)
	} else {
		var res *fetch.Result
		if res, err = m.fetcher.Get(ctx, url); err == nil {
			data = res.Data
		}
	}
	if err != nil {
		return "", perrors.E(perrors.KindUpstream, op, "Error fetching the codebase context.", err)
	}

	content := string(data)
	m.cache.Put(url, content)
	return content, nil
}

func (m *Manager) blobPath(url string) (string, bool) {
	if m.blobs == nil {
		return "", false
	}
	return m.blobs.PathFromURL(url)
}

// history rebuilds the prior turns of ref. The first user turn is wrapped
// again with the context so the completion service sees what it saw then.
func (m *Manager) history(ctx context.Context, kind prompt.Kind, contextText string, ref *SessionRef) ([]llm.Message, error) {
	if ref == nil {
		return nil, nil
	}

	msgs := ref.Messages
	if ref.ID != "" {
		s, err := m.GetSession(ctx, ref.ID)
		switch {
		case err == nil:
			msgs = s.Messages
		case errors.Is(err, perrors.ErrNotFound):
			m.logger.Debug().Str("chat_id", ref.ID).Msg("session not stored, using caller history")
		default:
			return nil, err
		}
	}

	out := make([]llm.Message, 0, len(msgs))
	wrapped := false
	for _, msg := range msgs {
		if msg.Content == "" {
			continue
		}
		if msg.Role != RoleUser {
			out = append(out, llm.Message{Role: llm.RoleModel, Content: msg.Content})
			continue
		}
		content := msg.Content
		if !wrapped {
			rendered, err := m.prompts.Render(kind, contextText, content)
			if err != nil {
				return nil, perrors.E(perrors.KindInternal, "chat.history", "Error building the prompt.", err)
			}
			content = rendered
			wrapped = true
		}
		out = append(out, llm.Message{Role: llm.RoleUser, Content: content})
	}
	return out, nil
}

// SaveSession persists a new project chat under the id
// "{uid}-{projectID}-{unixMillis}" with exactly the given messages.
func (m *Manager) SaveSession(ctx context.Context, in SaveInput) (_ *Session, err error) {
	const op = "chat.SaveSession"
	defer m.observe(ctx, op, &err)

	s, err := m.newSession(op, in)
	if err != nil {
		return nil, err
	}
	s.ID = fmt.Sprintf("%s-%s-%d", in.UID, in.ProjectID, s.Timestamp.UnixMilli())

	if err := m.ds.Insert(context.WithoutCancel(ctx), Collection, s.ID, s); err != nil {
		return nil, perrors.Wrap(perrors.KindMetadata, op, "Error saving chat", err)
	}
	m.logger.Info().Str("chat_id", s.ID).Int("messages", len(s.Messages)).Msg("chat saved")
	return s, nil
}

// SaveDocumentSession persists a new document chat under a store-assigned id.
func (m *Manager) SaveDocumentSession(ctx context.Context, in SaveInput) (_ *Session, err error) {
	const op = "chat.SaveDocumentSession"
	defer m.observe(ctx, op, &err)

	s, err := m.newSession(op, in)
	if err != nil {
		return nil, err
	}
	id, err := m.ds.Create(context.WithoutCancel(ctx), Collection, s)
	if err != nil {
		return nil, perrors.Wrap(perrors.KindMetadata, op, "Error saving chat", err)
	}
	s.ID = id
	m.logger.Info().Str("chat_id", s.ID).Int("messages", len(s.Messages)).Msg("document chat saved")
	return s, nil
}

func (m *Manager) newSession(op string, in SaveInput) (*Session, error) {
	if in.UID == "" || in.ProjectID == "" || in.Title == "" {
		return nil, perrors.Validation(op, "uid, projectID, and title are required")
	}
	if err := validateMessages(op, in.Messages); err != nil {
		return nil, err
	}
	msgs := in.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	return &Session{
		UID:       in.UID,
		ProjectID: in.ProjectID,
		Title:     in.Title,
		Messages:  msgs,
		Timestamp: m.now(),
	}, nil
}

// AppendMessages adds msgs to the end of an existing session in one atomic
// store operation. Unknown sessions are never created.
func (m *Manager) AppendMessages(ctx context.Context, chatID string, msgs ...Message) (err error) {
	const op = "chat.AppendMessages"
	defer m.observe(ctx, op, &err)

	if chatID == "" || len(msgs) == 0 {
		return perrors.Validation(op, "chatId and newMessage are required")
	}
	if err := validateMessages(op, msgs); err != nil {
		return err
	}

	elems := make([]any, len(msgs))
	for i, msg := range msgs {
		elems[i] = msg
	}
	if err := m.ds.Append(context.WithoutCancel(ctx), Collection, chatID, "messages", elems...); err != nil {
		if errors.Is(err, perrors.ErrNotFound) {
			return perrors.NotFound(op, "Chat not found")
		}
		return perrors.Wrap(perrors.KindMetadata, op, "Error updating chat", err)
	}
	m.logger.Debug().Str("chat_id", chatID).Int("messages", len(msgs)).Msg("chat appended")
	return nil
}

// GetSession returns one session by id.
func (m *Manager) GetSession(ctx context.Context, chatID string) (*Session, error) {
	const op = "chat.GetSession"
	if chatID == "" {
		return nil, perrors.Validation(op, "chatId is required")
	}
	snap, err := m.ds.Get(ctx, Collection, chatID)
	if err != nil {
		if errors.Is(err, perrors.ErrNotFound) {
			return nil, perrors.NotFound(op, "Chat not found")
		}
		return nil, perrors.Wrap(perrors.KindMetadata, op, "Error fetching chat", err)
	}
	return decode(op, snap)
}

// RetrieveSessions returns the sessions of (uid, projectID), newest first.
func (m *Manager) RetrieveSessions(ctx context.Context, uid, projectID string) (_ []*Session, err error) {
	const op = "chat.RetrieveSessions"
	defer m.observe(ctx, op, &err)

	if uid == "" || projectID == "" {
		return nil, perrors.Validation(op, "Both uid and projectID are required")
	}

	snaps, err := m.ds.Query(ctx, Collection, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("uid", uid),
			docstore.Where("projectID", projectID),
		},
		OrderBy: "timestamp",
		Desc:    true,
	})
	if err != nil {
		return nil, perrors.Wrap(perrors.KindMetadata, op, "Failed to retrieve chats", err)
	}

	out := make([]*Session, 0, len(snaps))
	for _, snap := range snaps {
		s, err := decode(op, snap)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *Manager) observe(ctx context.Context, op string, err *error) {
	if *err == nil {
		return
	}
	kind := perrors.KindOf(*err)
	m.metrics.RecordError("chat", string(kind))
	if kind != perrors.KindValidation && kind != perrors.KindNotFound {
		requestid.Logger(ctx, m.logger).Error().Err(*err).Str("op", op).Msg("chat operation failed")
	}
}

func decode(op string, snap *docstore.Snapshot) (*Session, error) {
	var s Session
	if err := snap.DataTo(&s); err != nil {
		return nil, perrors.E(perrors.KindMetadata, op, "Error decoding chat", err)
	}
	s.ID = snap.ID
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	return &s, nil
}

func validateMessages(op string, msgs []Message) error {
	for i, msg := range msgs {
		if msg.Role != RoleUser && msg.Role != RoleResponse {
			return perrors.Validation(op, fmt.Sprintf("message %d: role must be %q or %q", i, RoleUser, RoleResponse))
		}
	}
	return nil
}
