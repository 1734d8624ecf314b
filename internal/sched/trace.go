package sched

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

type csvTrace struct {
	file   *os.File
	writer *csv.Writer
	boot   string
}

// EnableCSVLogging opens the given file path for CSV logging of events,
// tagging every row with boot. Must be called before Trace.
func (s *Scheduler) EnableCSVLogging(path, boot string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace %s: %w", path, err)
	}
	w := csv.NewWriter(f)

	// write header
	if err := w.Write([]string{"boot", "timestamp", "tick", "event", "task_id", "task", "priority", "switches"}); err != nil {
		f.Close()
		return fmt.Errorf("write trace header: %w", err)
	}
	w.Flush()
	s.trace = csvTrace{file: f, writer: w, boot: boot}
	return nil
}

// StatusChannel exposes the read-only event stream (optional consumers).
// Trace drains the same channel; use one or the other.
func (s *Scheduler) StatusChannel() <-chan StatusEvent { return s.statusCh }

// Trace prints every status event to w until ctx is done or the scheduler
// halts, mirroring them into the CSV trace when enabled.
func (s *Scheduler) Trace(ctx context.Context, w io.Writer) error {
	defer s.closeTrace()

	for {
		select {
		case ev := <-s.statusCh:
			if err := s.handleEvent(w, ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		case <-s.halted:
			return s.drain(w)
		}
	}
}

func (s *Scheduler) drain(w io.Writer) error {
	for {
		select {
		case ev := <-s.statusCh:
			if err := s.handleEvent(w, ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Scheduler) closeTrace() {
	if s.trace.file == nil {
		return
	}
	s.trace.writer.Flush()
	s.trace.file.Close()
	s.trace = csvTrace{}
}

func (s *Scheduler) handleEvent(w io.Writer, ev StatusEvent) error {
	// an auxiliary function to center the event kind in the output
	center := func(str string, width int) string {
		spaces := (width - len(str)) / 2
		return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
	}

	_, err := fmt.Fprintf(w, "%s = Tick: %07d [%s] => Task: %04d %-10s prio=%3d switches=%d\n",
		ev.Time.Format("Jan 02 15:04:05.000"),
		ev.Uptime,
		center(ev.Kind.String(), 10),
		ev.TaskID,
		ev.Task,
		ev.Priority,
		ev.Switches,
	)
	if err != nil {
		return err
	}

	// CSV output
	if s.trace.writer != nil {
		rec := []string{
			s.trace.boot,
			ev.Time.Format(time.RFC3339Nano),
			strconv.FormatUint(ev.Uptime, 10),
			ev.Kind.String(),
			strconv.FormatUint(uint64(ev.TaskID), 10),
			ev.Task,
			strconv.Itoa(ev.Priority),
			strconv.FormatUint(ev.Switches, 10),
		}
		if err := s.trace.writer.Write(rec); err != nil {
			return err
		}
		s.trace.writer.Flush()
	}
	return nil
}
