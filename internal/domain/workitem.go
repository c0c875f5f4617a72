package domain

import "time"

// ItemKind enumerates supported work item categories.
type ItemKind string

const (
	ItemKindImageEdit    ItemKind = "image_edit"
	ItemKindTextEdit     ItemKind = "text_edit"
	ItemKindDesignSet    ItemKind = "design_set"
	ItemKindVideoChapter ItemKind = "video_chapter"
)

// QueueClass groups item kinds by the load they put on the external backend.
// Generation-class items are capped system-wide by the worker.
type QueueClass string

const (
	QueueClassGeneration QueueClass = "generation"
	QueueClassLight      QueueClass = "light"
)

// Class returns the queue class for the kind.
func (k ItemKind) Class() QueueClass {
	if k == ItemKindTextEdit {
		return QueueClassLight
	}
	return QueueClassGeneration
}

// WorkItem is a stage-tracked unit of generation work submitted by a user.
// Input and Output are opaque JSON blobs owned by the submitting surface.
type WorkItem struct {
	ID           string
	OwnerID      string
	Kind         ItemKind
	Model        string
	Progress     Stage
	ErrorMessage string
	Input        []byte
	Output       []byte
	Variants     int
	ParentID     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Ref returns the ledger trackable reference for the item.
func (w *WorkItem) Ref() TrackableRef {
	return TrackableRef{Kind: TrackableWorkItem, ID: w.ID}
}

// Failed reports whether the item has been force-failed or terminally failed.
func (w *WorkItem) Failed() bool {
	return w.Progress == StageFailed
}
