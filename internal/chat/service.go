package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/ai-chatdoc/internal/ai"
	"github.com/suPer8Hu/ai-chatdoc/internal/apperr"
	"github.com/suPer8Hu/ai-chatdoc/internal/common"
	"github.com/suPer8Hu/ai-chatdoc/internal/conversation"
	"github.com/suPer8Hu/ai-chatdoc/internal/metrics"
	"github.com/suPer8Hu/ai-chatdoc/internal/tokens"
)

type Service struct {
	provider          ai.Provider
	store             conversation.Store
	accountant        *tokens.Accountant
	contextWindowSize int
	systemPrompt      string
}

func NewService(provider ai.Provider, store conversation.Store, accountant *tokens.Accountant, contextWindowSize int, systemPrompt string) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	return &Service{
		provider:          provider,
		store:             store,
		accountant:        accountant,
		contextWindowSize: contextWindowSize,
		systemPrompt:      systemPrompt,
	}
}

type Reply struct {
	Text           string
	ConversationID string
	Timestamp      time.Time
	Usage          *ai.Usage
	Report         *tokens.Report
}

func (s *Service) Capabilities() ai.Capabilities {
	return ai.CapabilitiesOf(s.provider)
}

func validateQuestion(question string) error {
	if strings.TrimSpace(question) == "" {
		return apperr.Field("message", "must not be blank")
	}
	return nil
}

func validateConversationID(id string) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Field("conversation_id", "must not be blank")
	}
	return nil
}

// Chat is a single stateless turn under a fresh conversation id.
func (s *Service) Chat(ctx context.Context, question string) (*Reply, error) {
	if err := validateQuestion(question); err != nil {
		return nil, err
	}
	return s.oneShot(ctx, []ai.Message{{Role: ai.RoleUser, Content: question}})
}

// ChatWithContext is Chat with the configured system prompt in front.
func (s *Service) ChatWithContext(ctx context.Context, question string) (*Reply, error) {
	if err := validateQuestion(question); err != nil {
		return nil, err
	}
	msgs := make([]ai.Message, 0, 2)
	if strings.TrimSpace(s.systemPrompt) != "" {
		msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: s.systemPrompt})
	}
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: question})
	return s.oneShot(ctx, msgs)
}

func (s *Service) oneShot(ctx context.Context, msgs []ai.Message) (*Reply, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	comp, err := s.complete(ctx, msgs)
	if err != nil {
		return nil, err
	}
	return s.reply(ctx, id, comp), nil
}

// ChatWithHistory runs one turn of conversationID, creating it when blank.
// The user and assistant messages are stored together only after the
// provider answered, so a failed turn leaves the history untouched.
func (s *Service) ChatWithHistory(ctx context.Context, question, conversationID string) (*Reply, error) {
	if err := validateQuestion(question); err != nil {
		return nil, err
	}

	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		id, err := common.NewULID()
		if err != nil {
			return nil, err
		}
		conversationID = id
	}

	history, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	sent := history
	if s.accountant != nil && s.accountant.ShouldTrimHistory(history) && len(history) > s.contextWindowSize {
		sent = history[len(history)-s.contextWindowSize:]
		log.Ctx(ctx).Info().
			Str("conversation_id", conversationID).
			Int("history", len(history)).
			Int("sent", len(sent)).
			Msg("history trimmed for provider call")
	}

	userMsg := ai.Message{Role: ai.RoleUser, Content: question}
	msgs := make([]ai.Message, 0, len(sent)+1)
	msgs = append(msgs, sent...)
	msgs = append(msgs, userMsg)

	comp, err := s.complete(ctx, msgs)
	if err != nil {
		return nil, err
	}

	if err := s.store.Append(ctx, conversationID, userMsg, ai.Message{Role: ai.RoleAssistant, Content: comp.Text}); err != nil {
		return nil, err
	}
	return s.reply(ctx, conversationID, comp), nil
}

func (s *Service) complete(ctx context.Context, msgs []ai.Message) (*ai.Completion, error) {
	comp, err := s.provider.Chat(ctx, msgs)
	if err != nil {
		return nil, providerFailure(ctx, err)
	}
	if comp == nil || strings.TrimSpace(comp.Text) == "" {
		return nil, apperr.EmptyResponse()
	}
	return comp, nil
}

func providerFailure(ctx context.Context, err error) error {
	var pe *ai.ProviderError
	retryable, retryAfter := false, time.Duration(0)
	if errors.As(err, &pe) {
		retryable, retryAfter = pe.Retryable, pe.RetryAfter
	}
	metrics.RecordProviderError(retryable)
	log.Ctx(ctx).Warn().Err(err).Bool("retryable", retryable).Msg("completion provider call failed")
	return apperr.ProviderUnavailable(err, retryable, retryAfter)
}

func (s *Service) reply(ctx context.Context, conversationID string, comp *ai.Completion) *Reply {
	r := &Reply{
		Text:           comp.Text,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
		Usage:          comp.Usage,
	}
	if comp.Usage != nil && s.accountant != nil {
		report := s.accountant.Summarize(ctx, comp.Model, *comp.Usage)
		r.Report = &report
	}
	return r
}

// ChatStream starts a streamed single turn. It never touches conversation
// history. Callers must Close the stream.
func (s *Service) ChatStream(ctx context.Context, question string) (*Stream, error) {
	if err := validateQuestion(question); err != nil {
		return nil, err
	}
	sp, ok := s.provider.(ai.StreamProvider)
	if !ok {
		return nil, apperr.ProviderUnavailable(errors.New("provider does not support streaming"), false, 0)
	}

	ctx, cancel := context.WithCancel(ctx)
	chunks, errs := sp.StreamChat(ctx, []ai.Message{{Role: ai.RoleUser, Content: question}})
	return &Stream{ctx: ctx, chunks: chunks, errs: errs, cancel: cancel}, nil
}

func (s *Service) History(ctx context.Context, conversationID string) ([]ai.Message, error) {
	if err := validateConversationID(conversationID); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, conversationID)
}

func (s *Service) ClearConversation(ctx context.Context, conversationID string) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	return s.store.Clear(ctx, conversationID)
}

func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.store.ClearAll(ctx); err != nil {
		return err
	}
	log.Ctx(ctx).Warn().Msg("all conversations cleared")
	return nil
}

// Stream is a lazily produced, non-restartable sequence of text fragments.
type Stream struct {
	ctx    context.Context
	chunks <-chan string
	errs   <-chan error
	cancel context.CancelFunc

	once sync.Once
	err  error
}

// Chunks is closed when the provider finishes, fails or the stream is closed.
func (s *Stream) Chunks() <-chan string { return s.chunks }

// Err blocks until the producer has stopped and reports why it stopped;
// nil means the provider signalled completion.
func (s *Stream) Err() error {
	s.once.Do(func() {
		for range s.chunks {
		}
		if err, ok := <-s.errs; ok && err != nil {
			s.err = providerFailure(s.ctx, err)
			return
		}
		if err := s.ctx.Err(); err != nil {
			s.err = err
		}
	})
	return s.err
}

// Close cancels the upstream request. Safe to call more than once.
func (s *Stream) Close() {
	s.cancel()
}
