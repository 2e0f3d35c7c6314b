package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/wwfm-backend/internal/domain/ratings"
	"github.com/yungbote/wwfm-backend/internal/http/response"
	"github.com/yungbote/wwfm-backend/internal/platform/apierr"
	"github.com/yungbote/wwfm-backend/internal/services"
)

type RatingHandler struct {
	ratings services.RatingService
}

func NewRatingHandler(ratings services.RatingService) *RatingHandler {
	return &RatingHandler{ratings: ratings}
}

type recordRatingRequest struct {
	GoalID             uuid.UUID        `json:"goal_id"`
	ImplementationID   uuid.UUID        `json:"implementation_id"`
	UserID             *uuid.UUID       `json:"user_id"`
	EffectivenessScore int              `json:"effectiveness_score"`
	SolutionCategory   string           `json:"solution_category"`
	SolutionFields     json.RawMessage  `json:"solution_fields"`
	DataSource         types.DataSource `json:"data_source"`
}

type recordRatingResponse struct {
	Rating     *types.Rating                 `json:"rating"`
	Link       *types.GoalImplementationLink `json:"link"`
	Transition *types.TransitionEvent        `json:"transition,omitempty"`
}

// POST /api/ratings
func (h *RatingHandler) RecordRating(c *gin.Context) {
	var req recordRatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.BadRequest(err))
		return
	}
	res, err := h.ratings.RecordRating(c.Request.Context(), services.RecordRatingInput{
		GoalID:             req.GoalID,
		ImplementationID:   req.ImplementationID,
		UserID:             req.UserID,
		EffectivenessScore: req.EffectivenessScore,
		SolutionCategory:   req.SolutionCategory,
		SolutionFields:     req.SolutionFields,
		DataSource:         req.DataSource,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidRating) {
			err = apierr.BadRequest(err)
		}
		response.RespondAPIError(c, err)
		return
	}
	c.JSON(http.StatusCreated, recordRatingResponse{
		Rating:     res.Rating,
		Link:       res.Link,
		Transition: res.Transition,
	})
}

// GET /api/goals/:goalId/implementations/:implementationId
func (h *RatingHandler) GetLink(c *gin.Context) {
	goalID, err := uuid.Parse(c.Param("goalId"))
	if err != nil {
		response.RespondAPIError(c, apierr.BadRequest(errors.New("invalid goal id")))
		return
	}
	implementationID, err := uuid.Parse(c.Param("implementationId"))
	if err != nil {
		response.RespondAPIError(c, apierr.BadRequest(errors.New("invalid implementation id")))
		return
	}
	link, err := h.ratings.GetLink(c.Request.Context(), goalID, implementationID)
	if err != nil {
		if errors.Is(err, services.ErrLinkNotFound) {
			err = apierr.NotFound(err)
		}
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"link": link})
}
