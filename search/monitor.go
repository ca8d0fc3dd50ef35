package search

import (
	"log/slog"
	"time"

	"github.com/poiesic/syllabus/core"
)

// SearchMonitor observes each stage of a search.
type SearchMonitor interface {
	Start(req Request)
	AfterScopeResolution(scope *Scope)
	AfterQueryEmbedding(dimension int)
	AfterStoreQuery(hits []*core.Hit)
	Finish(hits []*core.Hit, err error)
}

type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ Request)               {}
func (n *noopMonitor) AfterScopeResolution(_ *Scope) {}
func (n *noopMonitor) AfterQueryEmbedding(_ int)     {}
func (n *noopMonitor) AfterStoreQuery(_ []*core.Hit) {}
func (n *noopMonitor) Finish(_ []*core.Hit, _ error) {}

// LogMonitor traces search stages to a logger at debug level.
type LogMonitor struct {
	Logger *slog.Logger
	start  time.Time
}

var _ SearchMonitor = (*LogMonitor)(nil)

func (m *LogMonitor) Start(req Request) {
	m.start = time.Now()
	m.Logger.Debug("search started", "query", req.Query, "book", req.BookID,
		"profile", req.ProfileID, "owner", req.OwnerUserID, "limit", req.Limit)
}

func (m *LogMonitor) AfterScopeResolution(scope *Scope) {
	m.Logger.Debug("scope resolved", "books", scope.BookIDs, "owner", scope.OwnerUserID,
		"max_sequence", scope.MaxSequenceIndex)
}

func (m *LogMonitor) AfterQueryEmbedding(dimension int) {
	m.Logger.Debug("query embedded", "dimension", dimension, "elapsed", time.Since(m.start))
}

func (m *LogMonitor) AfterStoreQuery(hits []*core.Hit) {
	m.Logger.Debug("store query finished", "hits", len(hits), "elapsed", time.Since(m.start))
}

func (m *LogMonitor) Finish(hits []*core.Hit, err error) {
	if err != nil {
		m.Logger.Debug("search failed", "err", err, "elapsed", time.Since(m.start))
		return
	}
	m.Logger.Debug("search finished", "hits", len(hits), "elapsed", time.Since(m.start))
}
