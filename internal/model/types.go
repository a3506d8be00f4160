package model

import (
	"context"
	"time"
)

// VideoRecord is an immutable video reference owned by the data source.
type VideoRecord struct {
	ID           string        `json:"id" yaml:"id"`
	MediaURL     string        `json:"media_url" yaml:"media_url"`
	ThumbnailURL string        `json:"thumbnail_url" yaml:"thumbnail_url"`
	CreatorID    string        `json:"creator_id" yaml:"creator_id"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
	Hypes        int64         `json:"hypes" yaml:"hypes"`
	Cools        int64         `json:"cools" yaml:"cools"`
	Views        int64         `json:"views" yaml:"views"`
}

// ThreadRecord is a parent video plus its ordered stitches.
//
// Stitch index 0 always addresses Parent; index k>0 addresses Children[k-1].
type ThreadRecord struct {
	ID       string        `json:"id" yaml:"id"`
	Parent   VideoRecord   `json:"parent" yaml:"parent"`
	Children []VideoRecord `json:"children" yaml:"children"`
}

// StitchCount returns the number of child videos (the highest valid stitch index).
func (t ThreadRecord) StitchCount() int {
	return len(t.Children)
}

// HasStitches reports whether horizontal navigation is possible in this thread.
func (t ThreadRecord) HasStitches() bool {
	return len(t.Children) > 0
}

// VideoAt returns the video addressed by a stitch index.
func (t ThreadRecord) VideoAt(stitch int) (VideoRecord, bool) {
	if stitch == 0 {
		return t.Parent, true
	}
	if stitch < 0 || stitch > len(t.Children) {
		return VideoRecord{}, false
	}
	return t.Children[stitch-1], true
}

// Lane returns the thread's videos in stitch order: parent first, then children.
// The returned slice is a copy.
func (t ThreadRecord) Lane() []VideoRecord {
	lane := make([]VideoRecord, 0, len(t.Children)+1)
	lane = append(lane, t.Parent)
	lane = append(lane, t.Children...)
	return lane
}

// GridPosition addresses one video in the feed: a thread and a stitch within it.
type GridPosition struct {
	Thread int `json:"thread" yaml:"thread"`
	Stitch int `json:"stitch" yaml:"stitch"`
}

// Valid reports whether the position addresses a video in threads.
func (p GridPosition) Valid(threads []ThreadRecord) bool {
	if p.Thread < 0 || p.Thread >= len(threads) {
		return false
	}
	return p.Stitch >= 0 && p.Stitch <= threads[p.Thread].StitchCount()
}

// Clamp returns the nearest valid position within threads.
// With no threads the zero position is returned.
func (p GridPosition) Clamp(threads []ThreadRecord) GridPosition {
	if len(threads) == 0 {
		return GridPosition{}
	}
	p.Thread = clamp(p.Thread, 0, len(threads)-1)
	p.Stitch = clamp(p.Stitch, 0, threads[p.Thread].StitchCount())
	return p
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ThreadIDs returns the ids of threads in order.
func ThreadIDs(threads []ThreadRecord) []string {
	ids := make([]string, len(threads))
	for i, t := range threads {
		ids[i] = t.ID
	}
	return ids
}

// Page is one batch of threads returned by a DataSource.
type Page struct {
	Threads []ThreadRecord
	Cursor  string
	HasMore bool
}

// DataSource fetches ordered thread batches. An empty cursor requests the first page.
type DataSource interface {
	FetchThreads(ctx context.Context, cursor string) (Page, error)
}

// ViewRecorder receives qualified views.
type ViewRecorder interface {
	RecordView(ctx context.Context, videoID, userID string, watch time.Duration) error
}
