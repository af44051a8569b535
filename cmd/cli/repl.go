package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"fingenie/internal/domain"
	"fingenie/internal/usecase"
)

const helpText = `Commands:
  :upload <path>   upload a .csv, .xlsx or .xls dataset
  :dataset         show the active dataset
  :history         print the conversation so far
  :help            show this help
  :quit, exit      leave
Anything else is sent as a question about the active dataset.`

type repl struct {
	in       io.Reader
	out      io.Writer
	conv     *usecase.Conversation
	uploader *usecase.Uploader
	store    usecase.SessionStore
	notices  *usecase.NoticeQueue
	chartDir string
}

func (r *repl) run(ctx context.Context) error {
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(r.out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		if quit := r.handle(ctx, scanner.Text()); quit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handle processes one input line and reports whether the user asked to
// leave.
func (r *repl) handle(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == ":quit" || trimmed == "exit":
		fmt.Fprintln(r.out, "Goodbye!")
		return true
	case trimmed == ":help":
		fmt.Fprintln(r.out, helpText)
	case trimmed == ":dataset":
		if handle, ok := r.store.ActiveDataset(ctx); ok {
			fmt.Fprintf(r.out, "Active dataset: %s\n", handle)
		} else {
			fmt.Fprintln(r.out, "No dataset uploaded.")
		}
	case trimmed == ":history":
		for _, m := range r.conv.Messages() {
			r.printMessage(m)
		}
	case trimmed == ":upload" || strings.HasPrefix(trimmed, ":upload "):
		r.upload(ctx, strings.TrimSpace(strings.TrimPrefix(trimmed, ":upload")))
	case strings.HasPrefix(trimmed, ":"):
		fmt.Fprintf(r.out, "Unknown command %s. Type :help for commands.\n", trimmed)
	default:
		r.ask(ctx, line)
	}
	r.flushNotices()
	return false
}

func (r *repl) upload(ctx context.Context, path string) {
	file := domain.DatasetFile{Name: path}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(r.out, "Cannot open %s: %v\n", path, err)
			return
		}
		defer f.Close()
		if info, err := f.Stat(); err == nil {
			file.Size = info.Size()
		}
		file.Content = f
	}
	res, err := r.uploader.Upload(ctx, r.store, file)
	if err != nil {
		return
	}
	if res.Message != "" {
		fmt.Fprintln(r.out, res.Message)
	}
}

func (r *repl) ask(ctx context.Context, question string) {
	r.conv.SetDraft(question)
	done, err := r.conv.Submit(ctx)
	if err != nil {
		var ue *usecase.Error
		if errors.As(err, &ue) && ue.Code == usecase.ErrorBusy {
			fmt.Fprintln(r.out, "Still working on the previous question.")
		}
		return
	}
	fmt.Fprintln(r.out, "Thinking...")
	select {
	case out := <-done:
		r.printMessage(out.Assistant)
	case <-ctx.Done():
	}
}

func (r *repl) printMessage(m domain.Message) {
	who := "You"
	if m.Sender == domain.SenderAssistant {
		who = "FinGenie"
	}
	fmt.Fprintf(r.out, "[%s] %s: %s\n", m.Timestamp, who, m.Content)
	if !m.HasResult() {
		return
	}
	if m.Result.Query != "" {
		fmt.Fprintf(r.out, "SQL: %s\n", m.Result.Query)
	}
	renderPreview(r.out, m.Result.Preview, previewRows)
	if m.Result.Chart.Empty() {
		return
	}
	if r.chartDir == "" {
		fmt.Fprintln(r.out, "(chart returned; pass --chart-dir to save it)")
		return
	}
	path, err := writeChart(r.chartDir, m.ID, m.Result.Chart)
	if err != nil {
		fmt.Fprintf(r.out, "Could not save chart: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "Chart saved to %s\n", filepath.Clean(path))
}

func (r *repl) flushNotices() {
	for _, n := range r.notices.Drain() {
		if n.Description == "" {
			fmt.Fprintf(r.out, "[%s]\n", n.Title)
			continue
		}
		fmt.Fprintf(r.out, "[%s] %s\n", n.Title, n.Description)
	}
}
