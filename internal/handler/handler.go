// Package handler exposes the read-only HTTP surface: health, recent
// analysis records, and poller status. Nothing here mutates pipeline state.
package handler

import (
	"context"

	"forum-alpha/internal/domain"
	"forum-alpha/internal/job"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type AnalysisReader interface {
	RecentAnalyses(ctx context.Context, ticker string, limit int) ([]domain.AnalysisRecord, error)
	CountSeen(ctx context.Context) (int, error)
}

type StatusSource interface {
	Status() job.Status
}

type Handler struct {
	tracer   trace.Tracer
	analyses AnalysisReader
	poller   StatusSource
}

func New(tracer trace.Tracer, analyses AnalysisReader, poller StatusSource) *Handler {
	return &Handler{
		tracer:   tracer,
		analyses: analyses,
		poller:   poller,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Health)
	r.GET("/api/v1/analyses", h.GetAnalyses)
	r.GET("/api/v1/status", h.GetStatus)
}
