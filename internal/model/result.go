package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GradingStatus tracks whether a result still needs manual review.
type GradingStatus string

const (
	GradingStatusAuto    GradingStatus = "AUTO"
	GradingStatusPending GradingStatus = "PENDING_REVIEW"
	GradingStatusGraded  GradingStatus = "GRADED"
)

// NotificationState is part of the result lifecycle so "already
// notified" never lives in an ad-hoc client-side flag.
type NotificationState string

const (
	NotificationStatePending   NotificationState = "PENDING"
	NotificationStateDelivered NotificationState = "DELIVERED"
)

// ExamResult is the immutable, append-only record of one finalized
// attempt. SessionID is unique: a session finalizes into exactly one
// result no matter how many callers race.
type ExamResult struct {
	ID                uuid.UUID          `json:"id"`
	SessionID         uuid.UUID          `json:"session_id"`
	ExamID            uuid.UUID          `json:"exam_id"`
	StudentID         int                `json:"student_id"`
	Answers           AnswerMap          `json:"answers"`
	Score             float64            `json:"score"`
	AutoSubmitted     bool               `json:"auto_submitted"`
	SubmittedAt       time.Time          `json:"submitted_at"`
	GradingStatus     GradingStatus      `json:"grading_status"`
	ManualScores      json.RawMessage    `json:"manual_scores,omitempty"`
	Feedbacks         json.RawMessage    `json:"feedbacks,omitempty"`
	GradedBy          *int               `json:"graded_by,omitempty"`
	GradedAt          *time.Time         `json:"graded_at,omitempty"`
	NotificationState NotificationState  `json:"notification_state"`
}

// ManualGradeRequest is the payload for a proctor updating manual
// grading fields on a result.
type ManualGradeRequest struct {
	Score        *float64        `json:"score" binding:"omitempty,min=0,max=100"`
	ManualScores json.RawMessage `json:"manual_scores" binding:"omitempty"`
	Feedbacks    json.RawMessage `json:"feedbacks" binding:"omitempty"`
}
