package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/funnelvalue/conversions/internal/application/delivery"
	"github.com/funnelvalue/conversions/internal/domain/conversion"
	"github.com/funnelvalue/conversions/internal/infrastructure/logger"
	"github.com/funnelvalue/conversions/internal/interfaces/http/dto"
)

// Publisher turns a canonical event into delivery jobs
type Publisher interface {
	Publish(ctx context.Context, event *conversion.CanonicalEvent, platforms ...conversion.Platform) ([]delivery.PublishResult, error)
}

// ConversionHandler accepts conversions recorded by the lead pipeline
type ConversionHandler struct {
	BaseHandler
	publisher Publisher
}

// NewConversionHandler creates a ConversionHandler
func NewConversionHandler(publisher Publisher) *ConversionHandler {
	return &ConversionHandler{publisher: publisher}
}

// UserDataRequest is the raw PII of a conversion; it is hashed before queueing
type UserDataRequest struct {
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	ExternalID string `json:"external_id"`
	ClientIP   string `json:"client_ip"`
	UserAgent  string `json:"user_agent"`
	FBC        string `json:"fbc"`
	FBP        string `json:"fbp"`
	GCLID      string `json:"gclid"`
}

// PublishConversionRequest is the body of POST /conversions
type PublishConversionRequest struct {
	ID             string          `json:"id" binding:"required"`
	OrganizationID string          `json:"organization_id" binding:"required"`
	LeadID         string          `json:"lead_id" binding:"required"`
	Name           string          `json:"name" binding:"required"`
	OccurredAt     time.Time       `json:"occurred_at" binding:"required"`
	Value          decimal.Decimal `json:"value"`
	Currency       string          `json:"currency" binding:"required"`
	PageURL        string          `json:"page_url"`
	UserData       UserDataRequest `json:"user_data"`
	Platforms      []string        `json:"platforms"`
}

// PublishedJob is one queued delivery
type PublishedJob struct {
	Platform string `json:"platform"`
	JobKey   string `json:"job_key"`
	Added    bool   `json:"added"`
}

// Publish validates the conversion and queues one delivery per platform.
// Replaying the same event id is a no-op reported with added=false.
func (h *ConversionHandler) Publish(c *gin.Context) {
	var req PublishConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	platforms := make([]conversion.Platform, 0, len(req.Platforms))
	for _, raw := range req.Platforms {
		p, err := conversion.ParsePlatform(raw)
		if err != nil {
			h.BadRequest(c, err.Error())
			return
		}
		platforms = append(platforms, p)
	}

	event := &conversion.CanonicalEvent{
		ID:             req.ID,
		OrganizationID: req.OrganizationID,
		LeadID:         req.LeadID,
		Name:           req.Name,
		OccurredAt:     req.OccurredAt,
		Value:          req.Value,
		Currency:       req.Currency,
		PageURL:        req.PageURL,
		UserData: conversion.UserData{
			Email:      req.UserData.Email,
			Phone:      req.UserData.Phone,
			ExternalID: req.UserData.ExternalID,
			ClientIP:   req.UserData.ClientIP,
			UserAgent:  req.UserData.UserAgent,
			FBC:        req.UserData.FBC,
			FBP:        req.UserData.FBP,
			GCLID:      req.UserData.GCLID,
		},
	}

	results, err := h.publisher.Publish(c.Request.Context(), event, platforms...)
	switch {
	case errors.Is(err, conversion.ErrInvalidEvent), errors.Is(err, conversion.ErrUnsupportedPlatform):
		h.BadRequest(c, err.Error())
		return
	case err != nil:
		h.InternalError(c, err)
		return
	}

	out := make([]PublishedJob, len(results))
	for i, r := range results {
		out[i] = PublishedJob{Platform: r.Platform.String(), JobKey: r.JobKey, Added: r.Added}
	}
	logger.GetGinLogger(c).Info("conversion queued",
		zap.String("conversion_event_id", req.ID),
		zap.String("organization_id", req.OrganizationID),
		zap.Int("jobs", len(out)),
	)
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(out))
}

// RegisterRoutes mounts the conversion endpoint on rg
func (h *ConversionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/conversions", h.Publish)
}
