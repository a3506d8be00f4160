package testutil

import (
	"context"
	"sync"
	"time"
)

// View is one call to Recorder.RecordView.
type View struct {
	VideoID string
	UserID  string
	Watch   time.Duration
}

// Recorder is a model.ViewRecorder that remembers every call.
// When Err is set the call is still remembered and Err is returned.
//
// Thread-safety: safe for concurrent use via internal mutex.
type Recorder struct {
	mu    sync.Mutex
	views []View
	Err   error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordView implements model.ViewRecorder.
func (r *Recorder) RecordView(_ context.Context, videoID, userID string, watch time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, View{VideoID: videoID, UserID: userID, Watch: watch})
	return r.Err
}

// Views returns a copy of the recorded calls in order.
func (r *Recorder) Views() []View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]View(nil), r.views...)
}

// Count returns the number of recorded calls.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}
