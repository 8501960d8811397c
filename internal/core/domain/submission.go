package domain

// Attachment is evidence sent with a report, either as raw bytes with the
// original filename or as a base64 / data-URL string.
type Attachment struct {
	Filename string
	Data     []byte
	Base64   string
}

// Empty reports whether the attachment carries no payload.
func (a *Attachment) Empty() bool {
	return a == nil || (len(a.Data) == 0 && a.Base64 == "")
}

// Submission is a downtime report as received from a client.
type Submission struct {
	MachineID       string
	Reason          string
	Category        string
	Description     string
	DurationMinutes *int
	OperatorID      UserID
	OperatorEmail   string

	Image *Attachment
	Audio *Attachment
}

type IngestStatus string

const (
	IngestSaved  IngestStatus = "saved"
	IngestQueued IngestStatus = "queued"
)

// IngestResult is what a submission produced. Queued results carry the queue
// file and the remote error instead of a stored record.
type IngestResult struct {
	Status     IngestStatus `json:"status"`
	Downtime   *Downtime    `json:"downtime,omitempty"`
	Verdict    *Verdict     `json:"ai_analysis,omitempty"`
	QueuedFile string       `json:"queued_file,omitempty"`
	Error      string       `json:"error,omitempty"`
}

type SyncError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// SyncSummary aggregates one replay pass over the local queue.
type SyncSummary struct {
	Synced int         `json:"synced"`
	Errors []SyncError `json:"errors"`
}
