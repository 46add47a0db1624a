package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"codewright/internal/agent"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// Styles for the line-oriented REPL.
var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dangerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	statStyle   = lipgloss.NewStyle().Faint(true)
)

// repl is the interactive chat surface. All stdin reads go through the
// lines channel so the confirmation prompt and the input prompt never
// race on the same reader.
type repl struct {
	rt       *runtime
	lines    <-chan string
	renderer *glamour.TermRenderer
	sigCh    chan os.Signal

	// turnCtx is the context of the turn in flight, so the confirmation
	// prompt can give up when the turn is interrupted.
	turnCtx context.Context
}

// runREPL starts the interactive loop and blocks until /exit or EOF.
func runREPL() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &repl{
		lines:    stdinLines(),
		renderer: newRenderer(),
		turnCtx:  ctx,
	}

	rt, err := buildRuntime(r.callbacks())
	if err != nil {
		return err
	}
	defer rt.Close()
	r.rt = rt

	if err := rt.attachSession(sessionID, true); err != nil {
		return err
	}
	rt.watchConfig(ctx)

	r.sigCh = make(chan os.Signal, 1)
	signal.Notify(r.sigCh, os.Interrupt)
	defer signal.Stop(r.sigCh)

	r.printBanner()

	for {
		fmt.Print(promptStyle.Render("wright>") + " ")
		line, ok := <-r.lines
		if !ok {
			fmt.Println()
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := r.handleCommand(ctx, line); done {
				break
			}
			continue
		}
		r.turn(ctx, line)
	}

	fmt.Println(noticeStyle.Render("Goodbye."))
	return nil
}

// stdinLines owns os.Stdin and feeds lines to whoever is prompting.
// The channel closes on EOF.
func stdinLines() <-chan string {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	return lines
}

// turn runs one user message through the agent. Ctrl+C interrupts the
// turn without leaving the REPL.
func (r *repl) turn(ctx context.Context, input string) {
	turnCtx, cancel := context.WithCancel(ctx)
	r.turnCtx = turnCtx

	// Drop any interrupt pressed while idle at the prompt, so it cannot
	// abort the turn that is just starting.
	select {
	case <-r.sigCh:
	default:
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-r.sigCh:
			fmt.Println("\n" + noticeStyle.Render("Interrupted."))
			cancel()
		case <-done:
		}
	}()

	reply, err := r.rt.agent.Chat(turnCtx, input)
	close(done)
	cancel()
	r.turnCtx = ctx

	r.rt.saveSession()

	if err != nil {
		fmt.Println(errorStyle.Render("Error:") + " " + err.Error())
		return
	}
	fmt.Println(r.render(reply))
}

func (r *repl) callbacks() agent.Callbacks {
	return agent.Callbacks{
		OnToolCall: func(name string, input map[string]any) {
			fmt.Println(toolStyle.Render("⚙ "+name) + " " + noticeStyle.Render(compactArgs(input)))
		},
		OnToolResult: func(name, content string, isError bool) {
			if isError {
				fmt.Println(errorStyle.Render("✗ "+name) + " " + noticeStyle.Render(firstLine(content)))
			}
		},
		OnConfirm: r.confirm,
		OnCompaction: func(before, after int) {
			fmt.Println(noticeStyle.Render(fmt.Sprintf("Compacted conversation: %d -> %d messages", before, after)))
		},
		OnTurnComplete: func(stats agent.TurnStats) {
			fmt.Println(statStyle.Render(fmt.Sprintf(
				"%d iteration(s), %d tool call(s), %d in / %d out tokens, %s",
				stats.Iterations, stats.ToolCalls, stats.InputTokens, stats.OutputTokens,
				stats.Duration.Round(100*time.Millisecond))))
		},
	}
}

// confirm prompts for a destructive tool call. It runs on the agent's
// goroutine while the main loop is blocked inside Chat, so receiving
// from the shared lines channel is safe.
func (r *repl) confirm(c agent.Confirmation) agent.ConfirmationResult {
	fmt.Println()
	fmt.Println(dangerStyle.Render("⚠ " + c.ToolName))
	if args := compactArgs(c.Input); args != "" {
		fmt.Println("  " + args)
	}
	if c.IsDangerous {
		fmt.Println("  " + dangerStyle.Render("DANGER: "+c.DangerReason))
	}
	if c.DiffPreview != "" {
		fmt.Println(c.DiffPreview)
	}

	for {
		fmt.Print(promptStyle.Render("Allow? [y]es / [n]o / [a]bort:") + " ")
		select {
		case line, ok := <-r.lines:
			if !ok {
				return agent.Abort
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return agent.Approve
			case "n", "no":
				return agent.Deny
			case "a", "abort":
				return agent.Abort
			default:
				fmt.Println(noticeStyle.Render("Please answer y, n, or a."))
			}
		case <-r.turnCtx.Done():
			fmt.Println()
			return agent.Abort
		}
	}
}

func (r *repl) printBanner() {
	fmt.Println(promptStyle.Render("wright " + version))
	fmt.Println(noticeStyle.Render(fmt.Sprintf("provider %s (%s)", r.rt.provider.Name(), r.rt.provider.Model())))
	fmt.Println(noticeStyle.Render("workspace " + r.rt.workspace))
	if r.rt.session != nil {
		label := "session " + r.rt.session.ID
		if r.rt.session.MessageCount > 0 {
			label += fmt.Sprintf(" (resumed, %d messages)", r.rt.session.MessageCount)
		}
		fmt.Println(noticeStyle.Render(label))
	}
	fmt.Println(noticeStyle.Render("Type /help for commands."))
	fmt.Println()
}

// handleCommand runs a slash command. It reports true when the REPL
// should exit.
func (r *repl) handleCommand(ctx context.Context, line string) bool {
	cmd, _, _ := strings.Cut(line, " ")
	switch cmd {
	case "/exit", "/quit":
		return true
	case "/help":
		r.printHelp()
	case "/clear":
		r.rt.agent.Clear()
		fmt.Println(noticeStyle.Render("Conversation cleared."))
	case "/compact":
		r.compact(ctx)
	case "/tools":
		r.printTools()
	case "/version":
		fmt.Println("wright " + version)
	default:
		fmt.Println(noticeStyle.Render(fmt.Sprintf("Unknown command %s. Type /help.", cmd)))
	}
	return false
}

func (r *repl) compact(ctx context.Context) {
	res := r.rt.agent.ForceCompact(ctx)
	if res.MessagesBefore == res.MessagesAfter {
		fmt.Println(noticeStyle.Render("Nothing to compact."))
		return
	}
	fmt.Println(noticeStyle.Render(fmt.Sprintf("Compacted %d -> %d messages (%d -> %d tokens)",
		res.MessagesBefore, res.MessagesAfter, res.TokensBefore, res.TokensAfter)))
	r.rt.saveSession()
}

func (r *repl) printTools() {
	all := r.rt.registry.All()
	if len(all) == 0 {
		fmt.Println(noticeStyle.Render("No tools registered."))
		return
	}
	fmt.Println(promptStyle.Render("Tools"))
	fmt.Println(strings.Repeat("─", 50))
	for _, tool := range all {
		marker := "  "
		if tool.Destructive {
			marker = dangerStyle.Render("! ")
		}
		fmt.Printf("%s%-14s %s\n", marker, tool.Name, noticeStyle.Render(tool.Description))
	}
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("Total: %d tools (! asks for confirmation)\n", len(all))
}

func (r *repl) printHelp() {
	fmt.Println(promptStyle.Render("Commands"))
	fmt.Println("  /help      Show this help")
	fmt.Println("  /clear     Clear the conversation")
	fmt.Println("  /compact   Summarize older history to free context")
	fmt.Println("  /tools     List registered tools")
	fmt.Println("  /version   Print the version")
	fmt.Println("  /exit      Leave the REPL")
	fmt.Println()
	fmt.Println("Anything else is sent to the model. Ctrl+C interrupts a running")
	fmt.Println("turn, Ctrl+D exits.")
}

// render pretty-prints assistant markdown, falling back to the raw text
// when the renderer is unavailable or chokes on the input.
func (r *repl) render(text string) (out string) {
	if r.renderer == nil {
		return text
	}
	defer func() {
		if rec := recover(); rec != nil {
			out = text
		}
	}()
	rendered, err := r.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}

func newRenderer() *glamour.TermRenderer {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return nil
	}
	return renderer
}

// compactArgs renders tool input on one line for progress output.
func compactArgs(input map[string]any) string {
	if len(input) == 0 {
		return ""
	}
	if cmd, ok := input["command"].(string); ok {
		return firstLine(cmd)
	}
	if path, ok := input["path"].(string); ok && len(input) == 1 {
		return path
	}
	data, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	s := string(data)
	if len(s) > 120 {
		s = s[:120] + "…"
	}
	return s
}

func firstLine(s string) string {
	if line, _, ok := strings.Cut(s, "\n"); ok {
		return line + " …"
	}
	return s
}
