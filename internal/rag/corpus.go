package rag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	jsonx "agentorch/internal/shared/json"
	"agentorch/internal/shared/logging"
	"agentorch/internal/shared/textutil"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Knowledge source types.
const (
	SourcePolicy = "policy"
	SourceDoc    = "doc"
	SourceTicket = "jira_ticket"
)

// Chunk is one searchable unit of the knowledge corpus.
type Chunk struct {
	Title      string
	Text       string
	SourceType string
	SourceID   string
	Service    string
	Severity   string
}

// IsPolicyOrRunbook reports whether the chunk title marks policy or runbook
// material.
func (c Chunk) IsPolicyOrRunbook() bool {
	title := strings.ToLower(c.Title)
	return strings.Contains(title, "policy") || strings.Contains(title, "runbook")
}

var blankLine = regexp.MustCompile(`\n\s*\n`)

// CorpusLoader loads and caches the knowledge corpus per company root.
type CorpusLoader struct {
	mu     sync.RWMutex
	cache  map[string][]Chunk
	group  singleflight.Group
	logger logging.Logger
}

// NewCorpusLoader creates an empty loader.
func NewCorpusLoader() *CorpusLoader {
	return &CorpusLoader{
		cache:  make(map[string][]Chunk),
		logger: logging.NewComponentLogger("KnowledgeCorpus"),
	}
}

// Load returns the corpus under root, building it at most once per root.
func (l *CorpusLoader) Load(ctx context.Context, root string) ([]Chunk, error) {
	key, err := filepath.Abs(root)
	if err != nil {
		key = filepath.Clean(root)
	}

	l.mu.RLock()
	chunks, ok := l.cache[key]
	l.mu.RUnlock()
	if ok {
		return chunks, nil
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		l.mu.RLock()
		cached, ok := l.cache[key]
		l.mu.RUnlock()
		if ok {
			return cached, nil
		}
		built, err := buildCorpus(ctx, root)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.cache[key] = built
		l.mu.Unlock()
		l.logger.Info("loaded %d knowledge chunks from %s", len(built), root)
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Chunk), nil
}

// Invalidate drops the cached corpus for root.
func (l *CorpusLoader) Invalidate(root string) {
	key, err := filepath.Abs(root)
	if err != nil {
		key = filepath.Clean(root)
	}
	l.mu.Lock()
	delete(l.cache, key)
	l.mu.Unlock()
}

// buildCorpus reads policies, runbooks and tickets concurrently and returns
// them in that order.
func buildCorpus(ctx context.Context, root string) ([]Chunk, error) {
	var policies, docs, tickets []Chunk
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		policies, err = loadMarkdownDir(gctx, filepath.Join(root, "policies"), SourcePolicy)
		return err
	})
	g.Go(func() error {
		var err error
		docs, err = loadDocsDir(gctx, filepath.Join(root, "docs"))
		return err
	})
	g.Go(func() error {
		var err error
		tickets, err = loadTickets(filepath.Join(root, "mock_systems", "data", "jira_tickets.json"))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Chunk, 0, len(policies)+len(docs)+len(tickets))
	out = append(out, policies...)
	out = append(out, docs...)
	out = append(out, tickets...)
	return out, nil
}

func sortedFiles(dir string, exts ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		for _, want := range exts {
			if ext == want {
				files = append(files, filepath.Join(dir, entry.Name()))
				break
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func loadMarkdownDir(ctx context.Context, dir, sourceType string) ([]Chunk, error) {
	files, err := sortedFiles(dir, ".md")
	if err != nil {
		return nil, err
	}
	var out []Chunk
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		out = append(out, chunksFromText(path, string(data), sourceType)...)
	}
	return out, nil
}

// loadDocsDir reads markdown and HTML runbooks in file-name order.
func loadDocsDir(ctx context.Context, dir string) ([]Chunk, error) {
	files, err := sortedFiles(dir, ".md", ".html", ".htm")
	if err != nil {
		return nil, err
	}
	var out []Chunk
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		text := string(data)
		if ext := strings.ToLower(filepath.Ext(path)); ext == ".html" || ext == ".htm" {
			text, err = htmlToText(data)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
		out = append(out, chunksFromText(path, text, SourceDoc)...)
	}
	return out, nil
}

// htmlToText keeps block-level text separated by blank lines so the result
// chunks the same way markdown does.
func htmlToText(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, nav").Remove()

	var blocks []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre, td").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			blocks = append(blocks, text)
		}
	})
	if len(blocks) == 0 {
		return strings.TrimSpace(doc.Text()), nil
	}
	return strings.Join(blocks, "\n\n"), nil
}

func chunksFromText(path, text, sourceType string) []Chunk {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	baseTitle := textutil.TitleWords(strings.NewReplacer("_", " ", "-", " ").Replace(stem))
	prefix := "Runbook"
	if sourceType == SourcePolicy {
		prefix = "Policy"
	}

	var out []Chunk
	section := 0
	for _, piece := range blankLine.Split(text, -1) {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		section++
		title := fmt.Sprintf("%s: %s", prefix, baseTitle)
		if section > 1 {
			title = fmt.Sprintf("%s (section %d)", title, section)
		}
		out = append(out, Chunk{
			Title:      title,
			Text:       piece,
			SourceType: sourceType,
			SourceID:   path,
		})
	}
	return out
}

type ticketFile struct {
	Tickets []map[string]any `json:"tickets"`
}

// loadTickets reads the ticket export. A malformed file yields no tickets.
func loadTickets(path string) ([]Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var parsed ticketFile
	if err := jsonx.Unmarshal(data, &parsed); err != nil {
		return nil, nil
	}

	out := make([]Chunk, 0, len(parsed.Tickets))
	for _, ticket := range parsed.Tickets {
		if ticket == nil {
			continue
		}
		out = append(out, chunkFromTicket(ticket))
	}
	return out, nil
}

func chunkFromTicket(ticket map[string]any) Chunk {
	field := func(name string) string {
		v, ok := ticket[name]
		if !ok || v == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(v))
	}
	key := field("key")
	if key == "" {
		key = "UNKNOWN"
	}
	summary := field("summary")
	project := field("project_key")
	severity := field("severity")

	text := fmt.Sprintf("Ticket %s. Summary: %s. Description: %s. Status: %s. Project: %s. Severity: %s.",
		key, summary, field("description"), field("status"), project, severity)

	return Chunk{
		Title:      fmt.Sprintf("Ticket %s: %s", key, summary),
		Text:       text,
		SourceType: SourceTicket,
		SourceID:   key,
		Service:    project,
		Severity:   severity,
	}
}
