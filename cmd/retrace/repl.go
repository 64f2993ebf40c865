package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/retrace/internal/assist"
	"github.com/dshills/retrace/internal/event"
	"github.com/dshills/retrace/internal/logging"
	"github.com/dshills/retrace/internal/protocol"
	"github.com/dshills/retrace/internal/session"
	"github.com/dshills/retrace/internal/state"
	"github.com/dshills/retrace/internal/value"
)

const (
	commandTimeout  = 30 * time.Second
	explainTimeout  = 60 * time.Second
	excerptRadius   = 8
	maxReportFrames = 10
)

// shell is the interactive command loop in front of a session.
type shell struct {
	coord     *session.Coordinator
	explainer *assist.Explainer
	store     *state.Store
	doc       *state.Document
	logger    *logging.Logger
	out       io.Writer
}

type shellConfig struct {
	explainer *assist.Explainer
	store     *state.Store
	doc       *state.Document
	logger    *logging.Logger
	out       io.Writer
}

func newShell(coord *session.Coordinator, cfg shellConfig) *shell {
	logger := cfg.logger
	if logger == nil {
		logger = logging.Null
	}
	return &shell{
		coord:     coord,
		explainer: cfg.explainer,
		store:     cfg.store,
		doc:       cfg.doc,
		logger:    logger,
		out:       cfg.out,
	}
}

// run reads commands until quit or end of input.
func (s *shell) run(ctx context.Context, in io.Reader) error {
	s.subscribeDisplays()

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "retrace> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !s.dispatch(ctx, line) {
			return nil
		}
	}
}

// subscribeDisplays prints session activity as it happens. Handlers run
// on the delivery goroutine, so they only format and write.
func (s *shell) subscribeDisplays() {
	bus := s.coord.Bus()
	_, _ = bus.SubscribeFunc(event.TopicPaused, func(_ context.Context, ev event.Event) error {
		if p, ok := ev.Payload.(event.Paused); ok {
			fmt.Fprintf(s.out, "\n-- paused at %s (%.1fms)\n", p.Point, p.Time)
		}
		return nil
	})
	_, _ = bus.SubscribeFunc(event.TopicConsoleMessage, func(_ context.Context, ev event.Event) error {
		if m, ok := ev.Payload.(event.ConsoleMessage); ok {
			fmt.Fprintf(s.out, "\n-- console[%s] %s\n", m.Level, m.Text)
		}
		return nil
	})
}

// dispatch runs one command line. It returns false when the shell
// should exit.
func (s *shell) dispatch(ctx context.Context, line string) bool {
	args := strings.Fields(line)
	cmd, args := args[0], args[1:]

	qctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd {
	case "quit", "exit", "q":
		return false
	case "help":
		s.printHelp()
	case "pos":
		pos := s.coord.Position()
		fmt.Fprintf(s.out, "point %s (%.1fms)\n", pos.Point, pos.Time)
	case "step", "next":
		s.coord.StepOver(s.coord.Position().Point)
	case "in":
		s.coord.StepIn(s.coord.Position().Point)
	case "out":
		s.coord.StepOut(s.coord.Position().Point)
	case "reverse", "rev":
		s.coord.ReverseStepOver(s.coord.Position().Point)
	case "resume", "c":
		s.coord.Resume(s.coord.Position().Point)
	case "rewind":
		s.coord.Rewind(s.coord.Position().Point)
	case "warp":
		s.cmdWarp(args)
	case "frames", "bt":
		s.cmdFrames(qctx)
	case "async":
		s.cmdAsync(qctx)
	case "scopes":
		s.cmdScopes(qctx, args)
	case "eval":
		s.cmdEval(qctx, args)
	case "steps":
		s.cmdSteps(qctx, args)
	case "breakable":
		s.cmdBreakable(qctx, args)
	case "sources":
		s.cmdSources()
	case "prefer":
		s.cmdPrefer(args, true)
	case "unprefer":
		s.cmdPrefer(args, false)
	case "bp":
		s.cmdBreakpoint(qctx, args)
	case "blackbox":
		s.cmdBlackbox(qctx, args, true)
	case "unblackbox":
		s.cmdBlackbox(qctx, args, false)
	case "explain":
		s.cmdExplain(ctx, args)
	default:
		fmt.Fprintf(s.out, "unknown command %q (try 'help')\n", cmd)
	}
	return true
}

func (s *shell) printHelp() {
	fmt.Fprint(s.out, `Commands:
  pos                                 Show the current point
  step | next                         Step over the current statement
  in, out                             Step into or out of the current frame
  reverse | rev                       Step over backwards
  resume | c, rewind                  Run forward or backward to the next breakpoint
  warp <point> [time]                 Jump to an execution point
  frames | bt                         Show the call stack
  async                               Load one more level of async parent frames
  scopes <frameId>                    Show the scope chain of a frame
  eval <expr>                         Evaluate in the top frame
  steps <frameId>                     List the points executed within a frame
  breakable <sourceId> [begin [end]]  List positions a breakpoint can bind to
  sources                             List registered sources
  prefer | unprefer <sourceId>        Override which source variant is shown
  bp <url> <line> [col] [condition]   Set a breakpoint
  bp list                             List breakpoints
  bp rm <url> <line> [col]            Remove breakpoints at a location
  blackbox | unblackbox <sourceId>    Hide or unhide a source from stepping
  explain [question]                  Ask the assistant about this pause
  quit | exit | q                     Save state and leave
`)
}

func (s *shell) cmdWarp(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "usage: warp <point> [time]")
		return
	}
	var warpTime float64
	if len(args) > 1 {
		t, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			fmt.Fprintf(s.out, "bad time %q: %v\n", args[1], err)
			return
		}
		warpTime = t
	}
	s.coord.TimeWarp(protocol.Point(args[0]), warpTime, true, false)
}

func (s *shell) cmdFrames(ctx context.Context) {
	frames, err := s.coord.GetFrames(ctx)
	if err != nil {
		fmt.Fprintf(s.out, "frames failed: %v\n", err)
		return
	}
	if len(frames) == 0 {
		fmt.Fprintln(s.out, "no frames at this point")
		return
	}
	for i, f := range frames {
		fmt.Fprintf(s.out, "#%-2d %s at %s\n", i, frameName(f), s.locationString(f.Location))
	}
	if n := s.coord.AsyncChainLen(); n > 0 {
		fmt.Fprintf(s.out, "(%d async parent(s) loaded, 'async' loads more)\n", n)
	}
}

func (s *shell) cmdAsync(ctx context.Context) {
	frames, err := s.coord.LoadAsyncParentFrames(ctx)
	if err != nil {
		fmt.Fprintf(s.out, "async failed: %v\n", err)
		return
	}
	if len(frames) == 0 {
		fmt.Fprintln(s.out, "no further async parents")
		return
	}
	fmt.Fprintf(s.out, "async parent %d:\n", s.coord.AsyncChainLen())
	for i, f := range frames {
		fmt.Fprintf(s.out, "#%-2d %s at %s\n", i, frameName(f), s.locationString(f.Location))
	}
}

func (s *shell) cmdScopes(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "usage: scopes <frameId>")
		return
	}
	scopes, err := s.coord.GetScopes(ctx, 0, protocol.FrameID(args[0]))
	if err != nil {
		fmt.Fprintf(s.out, "scopes failed: %v\n", err)
		return
	}
	for _, sc := range scopes {
		name := sc.Type
		if sc.FunctionName != "" {
			name += " (" + sc.FunctionName + ")"
		}
		fmt.Fprintf(s.out, "%s:\n", name)
		for _, b := range sc.Bindings {
			fmt.Fprintf(s.out, "  %s = %s\n", b.Name, value.FromRaw(b.Value).Preview())
		}
	}
}

func (s *shell) cmdEval(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "usage: eval <expr>")
		return
	}
	frames, err := s.coord.GetFrames(ctx)
	if err != nil {
		fmt.Fprintf(s.out, "eval failed: %v\n", err)
		return
	}
	if len(frames) == 0 {
		fmt.Fprintln(s.out, "no frames at this point")
		return
	}
	front, err := s.coord.Evaluate(ctx, 0, frames[0].FrameID, strings.Join(args, " "))
	if err != nil {
		fmt.Fprintf(s.out, "eval failed: %v\n", err)
		return
	}
	if front.IsException() {
		fmt.Fprintf(s.out, "threw %s\n", front.String())
		return
	}
	fmt.Fprintln(s.out, front.String())
}

func (s *shell) cmdSteps(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "usage: steps <frameId>")
		return
	}
	steps, err := s.coord.GetFrameSteps(ctx, 0, protocol.FrameID(args[0]))
	if err != nil {
		fmt.Fprintf(s.out, "steps failed: %v\n", err)
		return
	}
	for _, step := range steps {
		loc := ""
		if step.HasFrame() {
			loc = " at " + s.locationString(step.Frame)
		}
		fmt.Fprintf(s.out, "%s (%.1fms)%s\n", step.Point, step.Time, loc)
	}
}

func (s *shell) cmdBreakable(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "usage: breakable <sourceId> [beginLine [endLine]]")
		return
	}
	var begin, end *protocol.SourcePosition
	if len(args) > 1 {
		line, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(s.out, "bad line %q: %v\n", args[1], err)
			return
		}
		begin = &protocol.SourcePosition{Line: line}
	}
	if len(args) > 2 {
		line, err := strconv.Atoi(args[2])
		if err != nil {
			fmt.Fprintf(s.out, "bad line %q: %v\n", args[2], err)
			return
		}
		end = &protocol.SourcePosition{Line: line}
	}
	locs, err := s.coord.PossibleBreakpoints(ctx, protocol.SourceID(args[0]), begin, end)
	if err != nil {
		fmt.Fprintf(s.out, "breakable failed: %v\n", err)
		return
	}
	if len(locs) == 0 {
		fmt.Fprintln(s.out, "no breakable positions")
		return
	}
	for _, ll := range locs {
		cols := make([]string, len(ll.Columns))
		for i, col := range ll.Columns {
			cols[i] = strconv.Itoa(col)
		}
		fmt.Fprintf(s.out, "line %d: columns %s\n", ll.Line, strings.Join(cols, " "))
	}
}

func (s *shell) cmdSources() {
	all := s.coord.Sources().All()
	if len(all) == 0 {
		fmt.Fprintln(s.out, "no sources registered yet")
		return
	}
	for _, src := range all {
		marker := "  "
		if s.coord.Sources().IsPreferred(src.ID) {
			marker = "* "
		}
		if s.coord.IsBlackboxed(src.ID) {
			marker = marker[:1] + "b"
		}
		fmt.Fprintf(s.out, "%s %-12s %-14s %s\n", marker, src.ID, src.Kind, src.URL)
	}
}

func (s *shell) cmdPrefer(args []string, preferred bool) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "usage: prefer|unprefer <sourceId>")
		return
	}
	s.coord.PreferSource(protocol.SourceID(args[0]), preferred)
	if s.doc != nil {
		s.doc.SetPreferred(args[0], preferred)
		s.saveState()
	}
}

func (s *shell) cmdBreakpoint(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "usage: bp <url> <line> [col] [condition] | bp list | bp rm <url> <line> [col]")
		return
	}
	switch args[0] {
	case "list":
		s.printBreakpoints()
	case "rm":
		s.removeBreakpoint(ctx, args[1:])
	default:
		s.setBreakpoint(ctx, args)
	}
}

func (s *shell) setBreakpoint(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.out, "usage: bp <url> <line> [col] [condition]")
		return
	}
	url := args[0]
	line, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(s.out, "bad line %q: %v\n", args[1], err)
		return
	}

	column := 0
	rest := args[2:]
	if len(rest) > 0 {
		if col, err := strconv.Atoi(rest[0]); err == nil {
			column = col
			rest = rest[1:]
		}
	}
	condition := strings.Join(rest, " ")

	s.coord.SetBreakpointByURL(ctx, url, line, column, condition)
	if err := s.coord.WaitForInvalidations(ctx); err != nil {
		fmt.Fprintf(s.out, "breakpoint pending: %v\n", err)
	}
	if s.doc != nil {
		s.doc.AddBreakpoint(state.Breakpoint{URL: url, Line: line, Column: column, Condition: condition})
		s.saveState()
	}
}

func (s *shell) removeBreakpoint(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.out, "usage: bp rm <url> <line> [col]")
		return
	}
	url := args[0]
	line, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(s.out, "bad line %q: %v\n", args[1], err)
		return
	}
	column := 0
	if len(args) > 2 {
		if col, err := strconv.Atoi(args[2]); err == nil {
			column = col
		}
	}

	s.coord.RemoveBreakpointsByURL(ctx, url, line, column)
	if s.doc != nil {
		s.doc.RemoveBreakpoint(url, line, column)
		s.saveState()
	}
}

func (s *shell) printBreakpoints() {
	bps := s.coord.Breakpoints()
	if len(bps) == 0 {
		fmt.Fprintln(s.out, "no breakpoints")
		return
	}
	ids := make([]protocol.BreakpointID, 0, len(bps))
	for id := range bps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(s.out, "%s at %s\n", id, s.formatLocation(bps[id]))
	}
}

func (s *shell) cmdBlackbox(ctx context.Context, args []string, blackbox bool) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "usage: blackbox|unblackbox <sourceId>")
		return
	}
	id := protocol.SourceID(args[0])
	var err error
	if blackbox {
		err = s.coord.BlackboxSource(ctx, id, nil, nil)
	} else {
		err = s.coord.UnblackboxSource(ctx, id, nil, nil)
	}
	if err != nil {
		fmt.Fprintf(s.out, "blackbox failed: %v\n", err)
	}
}

func (s *shell) cmdExplain(ctx context.Context, args []string) {
	if s.explainer == nil {
		fmt.Fprintln(s.out, "assist not configured (set assist.provider and an API key)")
		return
	}
	qctx, cancel := context.WithTimeout(ctx, explainTimeout)
	defer cancel()

	fmt.Fprintln(s.out, "thinking...")
	answer, err := s.explainer.Explain(qctx, s.buildReport(qctx, strings.Join(args, " ")))
	if err != nil {
		fmt.Fprintf(s.out, "explain failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, answer)
}

// buildReport collects what the assistant gets to see about the pause.
// Every section is best effort; a failed query just leaves it empty.
func (s *shell) buildReport(ctx context.Context, question string) assist.Report {
	pos := s.coord.Position()
	report := assist.Report{
		Point:    string(pos.Point),
		Time:     pos.Time,
		Question: question,
	}

	frames, err := s.coord.GetFrames(ctx)
	if err != nil || len(frames) == 0 {
		return report
	}
	for i, f := range frames {
		if i == maxReportFrames {
			break
		}
		report.Frames = append(report.Frames, assist.Frame{
			Name:     frameName(f),
			Location: s.locationString(f.Location),
		})
	}

	if scopes, err := s.coord.GetScopes(ctx, 0, frames[0].FrameID); err == nil {
		for _, sc := range scopes {
			for _, b := range sc.Bindings {
				report.Scopes = append(report.Scopes, fmt.Sprintf("%s = %s", b.Name, value.FromRaw(b.Value).Preview()))
			}
		}
	}

	if loc, ok := s.coord.GetPreferredLocation(frames[0].Location); ok {
		report.Source = s.sourceExcerpt(ctx, loc)
	}
	return report
}

// sourceExcerpt renders the lines around a location with the paused
// line marked.
func (s *shell) sourceExcerpt(ctx context.Context, loc protocol.Location) string {
	contents, err := s.coord.SourceContents(ctx, loc.SourceID)
	if err != nil {
		return ""
	}
	lines := strings.Split(contents.Contents, "\n")

	begin := loc.Line - excerptRadius
	if begin < 1 {
		begin = 1
	}
	end := loc.Line + excerptRadius
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for n := begin; n <= end; n++ {
		marker := "  "
		if n == loc.Line {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%4d  %s\n", marker, n, lines[n-1])
	}
	return b.String()
}

// saveState writes the persisted document if persistence is on.
func (s *shell) saveState() {
	if s.store == nil || s.doc == nil {
		return
	}
	if err := s.store.Save(s.doc); err != nil {
		s.logger.Warn("state save failed: %v", err)
	}
}

func (s *shell) locationString(locs []protocol.Location) string {
	loc, ok := s.coord.GetPreferredLocation(locs)
	if !ok {
		return "<unknown>"
	}
	return s.formatLocation(loc)
}

func (s *shell) formatLocation(loc protocol.Location) string {
	name := s.coord.Sources().URL(loc.SourceID)
	if name == "" {
		name = string(loc.SourceID)
	}
	return fmt.Sprintf("%s:%d:%d", name, loc.Line, loc.Column)
}

func frameName(f protocol.Frame) string {
	if f.FunctionName == "" {
		return "(anonymous)"
	}
	return f.FunctionName
}
