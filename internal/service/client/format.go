package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/service/rules"
)

var errAssignment = errors.New("expected entity_id=state")

// FormatSnapshot renders a snapshot as one readable line.
func FormatSnapshot(s *alarm.Snapshot) string {
	if s == nil {
		return "<nil state>"
	}

	var b strings.Builder

	b.WriteString(string(s.CurrentState))

	if s.CurrentState == alarm.StateArming && s.TargetArmedState != "" {
		fmt.Fprintf(&b, " -> %s", s.TargetArmedState)
	}

	if !s.EnteredAt.IsZero() {
		fmt.Fprintf(&b, " since %s", s.EnteredAt.Format(time.RFC3339))
	}

	if s.ExitAt != nil {
		fmt.Fprintf(&b, " until %s", s.ExitAt.Format(time.RFC3339))
	}

	fmt.Fprintf(&b, " by %s", s.LastActor.String())

	if s.LastReason != "" {
		fmt.Fprintf(&b, " (%s)", s.LastReason)
	}

	return b.String()
}

func writeEvents(out io.Writer, list []*alarm.Event) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "TIME\tEVENT\tFROM\tTO\tACTOR\tSENSOR")

	for _, e := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Type, dash(string(e.StateFrom)), dash(string(e.StateTo)),
			e.Actor.String(), dash(e.SensorID))
	}

	return w.Flush()
}

func writeSimulation(out io.Writer, result *rules.SimulateResult) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "RULE\tNAME\tPRIORITY\tSTATUS\tACTIONS")

	for _, r := range result.Rules {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", r.RuleID, r.Name, r.Priority, r.Status, strings.Join(r.Actions, ","))
	}

	if err := w.Flush(); err != nil {
		return err
	}

	for _, r := range result.Rules {
		if r.Trace == nil || r.Matched {
			continue
		}

		trace, err := json.Marshal(r.Trace)
		if err != nil {
			return fmt.Errorf("encode trace: %w", err)
		}

		fmt.Fprintf(out, "rule %d trace: %s\n", r.RuleID, trace)
	}

	return nil
}

// ParseAssignments turns entity_id=state pairs into an overlay.
func ParseAssignments(pairs []string) (map[string]string, error) {
	overlay := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		id, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("%w, got %q", errAssignment, pair)
		}

		overlay[strings.TrimSpace(id)] = value
	}

	return overlay, nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
