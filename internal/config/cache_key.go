package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionAnswersKey returns the cache key holding the latest autosaved
// answers for a session (hash of question id → raw answer JSON).
func (r *CacheKeyStruct) SessionAnswersKey(sessionID string) string {
	return fmt.Sprintf("session:%s:answers", sessionID)
}

// SessionAttachKey returns the key used as the single-client attach
// lock for a session's WebSocket stream.
func (r *CacheKeyStruct) SessionAttachKey(sessionID string) string {
	return fmt.Sprintf("session:%s:attached", sessionID)
}

// ExamPayloadKey returns the cache key for an exam's student payload.
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ResultChannel returns the PubSub channel carrying finalized-result
// events for live proctoring views.
func (r *CacheKeyStruct) ResultChannel(examID string) string {
	return fmt.Sprintf("exam:%s:results", examID)
}

var CacheKey = NewCacheKeyStruct()
