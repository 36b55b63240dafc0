package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/rs/zerolog/log"

	"chat-history-agent/internal/domain"
	"chat-history-agent/internal/usecase"
)

// Prompts handed to liner stay unstyled: liner rejects prompts containing
// control runes, which includes ANSI colour escapes.
const (
	inputPrompt   = "> "
	confirmPrompt = "[y/N] "
)

// Conversation is the controller the REPL drives.
type Conversation interface {
	Submit(ctx context.Context, text string) error
	Refresh(ctx context.Context) (int, error)
	ClearView(confirm func() bool) (bool, error)
	PurgeRemote(ctx context.Context) (int, error)
	Turns() []domain.Turn
	SetDraft(text string)
}

// LineReader is satisfied by *liner.State.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

type Options struct {
	Theme string
	// Rich enables markdown rendering; usually StdoutIsTerminal().
	Rich bool
}

// Chat is the interactive terminal client.
type Chat struct {
	conv  Conversation
	in    LineReader
	out   io.Writer
	rich  bool
	theme string
	style palette
	md    markdown
}

func NewChat(conv Conversation, in LineReader, out io.Writer, opts Options) (*Chat, error) {
	if conv == nil {
		return nil, errors.New("cli: conversation must not be nil")
	}
	if in == nil {
		return nil, errors.New("cli: line reader must not be nil")
	}
	if out == nil {
		out = os.Stdout
	}
	c := &Chat{conv: conv, in: in, out: out, rich: opts.Rich}
	c.setTheme(opts.Theme)
	return c, nil
}

func (c *Chat) setTheme(theme string) {
	if theme != ThemeLight {
		theme = ThemeDark
	}
	c.theme = theme
	c.style = paletteFor(theme)
	c.md = newMarkdown(theme, c.rich)
}

// Run loads the stored conversation and reads input until /quit or EOF.
func (c *Chat) Run(ctx context.Context) error {
	c.refresh(ctx)
	c.println(c.style.info.Render("Type a question, or /help for commands."))

	for {
		input, err := c.in.Prompt(inputPrompt)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				c.println("")
				return nil
			}
			return fmt.Errorf("cli: read input: %w", err)
		}
		if strings.TrimSpace(input) != "" {
			c.in.AppendHistory(input)
		}

		trimmed := strings.TrimSpace(input)
		if strings.HasPrefix(trimmed, "/") {
			if !c.command(ctx, trimmed) {
				return nil
			}
			continue
		}
		c.submit(ctx, input)
		if err := ctx.Err(); err != nil {
			return nil
		}
	}
}

func (c *Chat) submit(ctx context.Context, input string) {
	if strings.TrimSpace(input) == "" {
		return
	}
	before := len(c.conv.Turns())
	c.conv.SetDraft(input)
	c.println(c.style.info.Render("… thinking"))

	if err := c.conv.Submit(ctx, input); err != nil {
		c.warn(err)
		return
	}
	turns := c.conv.Turns()
	if len(turns) > before {
		// The question is already on screen as typed input.
		for _, t := range turns[before:] {
			if t.Type == domain.TurnAnswer {
				c.printTurn(t)
			}
		}
	}
}

// command runs a slash command and reports whether the loop continues.
func (c *Chat) command(ctx context.Context, input string) bool {
	name := strings.ToLower(strings.Fields(input)[0])
	switch name {
	case "/quit", "/exit":
		return false
	case "/help":
		c.println(helpText)
	case "/refresh":
		c.refresh(ctx)
	case "/history":
		c.printAll()
	case "/clear":
		cleared, err := c.conv.ClearView(func() bool { return c.confirm("Clear the conversation view?") })
		switch {
		case err != nil:
			c.warn(err)
		case cleared:
			c.println(c.style.info.Render("View cleared. Stored history is untouched; /refresh reloads it."))
		default:
			c.println(c.style.info.Render("Cancelled."))
		}
	case "/purge":
		if !c.confirm("Delete the entire stored history?") {
			c.println(c.style.info.Render("Cancelled."))
			return true
		}
		n, err := c.conv.PurgeRemote(ctx)
		if err != nil {
			c.warn(fmt.Errorf("deleted %d records before failing: %w", n, err))
			return true
		}
		c.println(c.style.info.Render(fmt.Sprintf("Deleted %d stored turns.", n)))
	case "/theme":
		if c.theme == ThemeDark {
			c.setTheme(ThemeLight)
		} else {
			c.setTheme(ThemeDark)
		}
		c.println(c.style.info.Render("Theme: " + c.theme))
	default:
		c.println(c.style.warn.Render("Unknown command " + name + ". Try /help."))
	}
	return true
}

func (c *Chat) refresh(ctx context.Context) {
	n, err := c.conv.Refresh(ctx)
	if err != nil {
		c.warn(err)
		return
	}
	log.Debug().Int("turns", n).Msg("cli: history loaded")
	c.printAll()
}

func (c *Chat) confirm(question string) bool {
	c.println(c.style.warn.Render(question))
	answer, err := c.in.Prompt(confirmPrompt)
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (c *Chat) printAll() {
	turns := c.conv.Turns()
	if len(turns) == 0 {
		c.println(c.style.info.Render("No messages yet."))
		return
	}
	for _, t := range turns {
		c.printTurn(t)
	}
}

func (c *Chat) printTurn(t domain.Turn) {
	if t.Type == domain.TurnQuestion {
		c.println(c.style.question.Render("You") + " " + c.style.info.Render(t.Timestamp))
		c.println(t.Content)
		return
	}
	c.println(c.style.answer.Render("Gemini") + " " + c.style.info.Render(t.Timestamp))
	fmt.Fprint(c.out, c.md.render(t.Content))
}

func (c *Chat) warn(err error) {
	if errors.Is(err, usecase.ErrBusy) {
		c.println(c.style.warn.Render("Still waiting for the previous answer."))
		return
	}
	c.println(c.style.warn.Render("Error: " + err.Error()))
}

func (c *Chat) println(s string) {
	fmt.Fprintln(c.out, s)
}

const helpText = `Commands:
  /refresh   reload the conversation from the store
  /history   print the conversation
  /clear     clear the view (asks first; the store is kept)
  /purge     delete the stored history (asks first; the view is kept)
  /theme     toggle light and dark output
  /help      show this help
  /quit      exit`

// Terminal wraps a liner state with a persisted input history file.
type Terminal struct {
	*liner.State
	historyFile string
}

// OpenTerminal starts line editing and loads input history from
// historyFile when set.
func OpenTerminal(historyFile string) *Terminal {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	t := &Terminal{State: line, historyFile: historyFile}
	if historyFile != "" {
		if f, err := os.Open(historyFile); err == nil {
			_, _ = line.ReadHistory(f)
			_ = f.Close()
		}
	}
	return t
}

// Close saves input history and restores the terminal.
func (t *Terminal) Close() error {
	if t.historyFile != "" {
		if err := os.MkdirAll(filepath.Dir(t.historyFile), 0o700); err == nil {
			if f, err := os.OpenFile(t.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
				_, _ = t.WriteHistory(f)
				_ = f.Close()
			}
		}
	}
	return t.State.Close()
}
