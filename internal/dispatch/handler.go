// Package dispatch consumes crawl assignments from a message stream and runs
// them through the orchestrator.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/clipstream/clipcrawler/internal/crawler"
)

// Crawler runs one target crawl; *crawler.Orchestrator satisfies it.
type Crawler interface {
	CrawlTarget(ctx context.Context, targetID string) error
}

// Message is one assignment as it arrives off the wire.
type Message struct {
	Data       []byte
	Attributes map[string]string
}

// Assignment is a decoded crawl request.
type Assignment struct {
	TargetID   string `json:"target_id"`
	SessionID  string `json:"session_id,omitempty"`
	RetryCount int    `json:"-"`
}

// ParseAssignment accepts either a JSON body or a bare target ID, with the
// retry count carried as a message attribute.
func ParseAssignment(msg Message) (Assignment, error) {
	var a Assignment
	data := strings.TrimSpace(string(msg.Data))
	if data == "" {
		return Assignment{}, errors.New("empty assignment")
	}
	if strings.HasPrefix(data, "{") {
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return Assignment{}, err
		}
	} else {
		a.TargetID = data
	}
	if a.TargetID == "" {
		return Assignment{}, errors.New("assignment has no target_id")
	}
	if raw, ok := msg.Attributes["retry_count"]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			a.RetryCount = n
		}
	}
	return a, nil
}

// Handler decides, per message, whether to ack or request redelivery.
type Handler struct {
	crawler    Crawler
	logger     *zap.Logger
	maxRetries int
}

func NewHandler(c Crawler, logger *zap.Logger, maxRetries int) *Handler {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Handler{crawler: c, logger: logger, maxRetries: maxRetries}
}

// Handle runs one assignment and reports whether to ack. Unparseable
// messages and target-level failures are acked: redelivering them cannot
// succeed, and per-item progress is already durable in the ledger.
// Run-level failures (lost session, shutdown) are nacked for redelivery,
// up to the retry cap.
func (h *Handler) Handle(ctx context.Context, msg Message) bool {
	assignment, err := ParseAssignment(msg)
	if err != nil {
		h.logger.Error("dropping malformed assignment", zap.Error(err), zap.ByteString("data", msg.Data))
		return true
	}
	logger := h.logger.With(
		zap.String("target_id", assignment.TargetID),
		zap.Int("retry_count", assignment.RetryCount),
	)

	err = h.crawler.CrawlTarget(ctx, assignment.TargetID)
	if err == nil {
		logger.Info("assignment done")
		return true
	}
	if errors.Is(err, crawler.ErrTargetNotFound) || errors.Is(err, crawler.ErrNotFound) {
		logger.Info("assignment target gone", zap.Error(err))
		return true
	}
	if assignment.RetryCount >= h.maxRetries {
		logger.Error("assignment exhausted retries, dropping", zap.Error(err))
		return true
	}
	logger.Warn("assignment failed, requesting redelivery", zap.Error(err))
	return false
}
