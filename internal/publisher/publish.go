package publisher

import (
	"context"
	"log/slog"

	"github.com/strainline/strainline/internal/archive"
	"github.com/strainline/strainline/internal/candidate"
)

// StepResult is the outcome of one publish step.
type StepResult struct {
	Name string
	Err  error
}

// Report aggregates every step of one publish call. A report with failed
// steps is still a normal return value; the pipeline never escalates a
// broker failure.
type Report struct {
	CandidateID string
	EventID     string
	Steps       []StepResult
}

// OK reports whether every step succeeded.
func (r *Report) OK() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return false
		}
	}
	return true
}

func (r *Report) add(name string, err error) {
	r.Steps = append(r.Steps, StepResult{Name: name, Err: err})
}

// Publisher archives and uploads candidates.
type Publisher struct {
	broker  Broker
	archive *archive.Archive

	// OnDone, when set, observes every completed fire-and-forget dispatch.
	// Set it before the first Dispatch call.
	OnDone func(*Report)
}

func New(broker Broker, arch *archive.Archive) *Publisher {
	return &Publisher{broker: broker, archive: arch}
}

// Publish archives the candidate locally, creates the broker event and
// attaches each artifact in order. Each step is attempted independently and
// recorded in the report; a failed create-event skips the attachments, since
// there is no event to attach to, but the candidate remains archived.
func (p *Publisher) Publish(ctx context.Context, rec *candidate.Record, artifacts []candidate.Artifact) *Report {
	report := &Report{CandidateID: rec.ID}

	err := p.archive.Save(rec, artifacts)
	report.add("archive", err)
	if err != nil {
		slog.Error("publisher: local archive failed", "candidate", rec.ID, "err", err)
	}

	eventID, err := p.broker.CreateEvent(ctx, rec)
	report.add("create_event", err)
	if err != nil {
		slog.Error("publisher: create event failed", "candidate", rec.ID, "err", err)
		return report
	}
	report.EventID = eventID
	slog.Info("publisher: event created", "candidate", rec.ID, "event", eventID)

	if err := p.archive.MarkUploaded(rec.ID, eventID); err != nil {
		report.add("mark_uploaded", err)
		slog.Error("publisher: recording event id failed", "candidate", rec.ID, "err", err)
	}

	for _, art := range artifacts {
		err := p.broker.Attach(ctx, eventID, art)
		report.add("attach:"+art.Name, err)
		if err != nil {
			slog.Error("publisher: artifact upload failed",
				"candidate", rec.ID,
				"event", eventID,
				"artifact", art.Name,
				"err", err,
			)
		}
	}
	return report
}

// Dispatch runs Publish on its own goroutine so upload I/O never stalls the
// evaluation epoch. The report is logged when the publish completes.
func (p *Publisher) Dispatch(ctx context.Context, rec *candidate.Record, artifacts []candidate.Artifact) {
	go func() {
		report := p.Publish(ctx, rec, artifacts)
		if report.OK() {
			slog.Info("publisher: publish complete",
				"candidate", report.CandidateID,
				"event", report.EventID,
				"steps", len(report.Steps),
			)
		} else {
			var failed []string
			for _, s := range report.Steps {
				if s.Err != nil {
					failed = append(failed, s.Name)
				}
			}
			slog.Warn("publisher: publish completed with failures",
				"candidate", report.CandidateID,
				"event", report.EventID,
				"failed_steps", failed,
			)
		}
		if p.OnDone != nil {
			p.OnDone(report)
		}
	}()
}
