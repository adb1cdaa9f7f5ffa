package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"pipscreen/pkg/platform/audit/store/postgres"
)

// Printer writes each audit payload as one JSON line. Malformed payloads are
// logged and skipped.
type Printer struct {
	mu           sync.Mutex
	out          io.Writer
	logger       *slog.Logger
	organisation string
	action       string
}

type PrinterOption func(*Printer)

// ForOrganisation keeps only events of one organisation.
func ForOrganisation(orgID string) PrinterOption {
	return func(p *Printer) { p.organisation = orgID }
}

// ForAction keeps only one event type, e.g. bulk_screening_performed.
func ForAction(action string) PrinterOption {
	return func(p *Printer) { p.action = action }
}

func NewPrinter(out io.Writer, logger *slog.Logger, opts ...PrinterOption) *Printer {
	p := &Printer{out: out, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type printedEvent struct {
	Topic string `json:"topic"`
	postgres.Payload
}

func (p *Printer) Handle(ctx context.Context, msg *Message) error {
	var payload postgres.Payload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		p.logger.WarnContext(ctx, "skipping malformed audit payload",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	if p.organisation != "" && payload.OrganisationID != p.organisation {
		return nil
	}
	if p.action != "" && payload.Action != p.action {
		return nil
	}

	line, err := json.Marshal(printedEvent{Topic: msg.Topic, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintln(p.out, string(line)); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}
