package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/groundwork/internal/model"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Answerer defines the interface for answering one question
type Answerer interface {
	Generate(ctx context.Context, query, sessionID string, isEnhanced bool) (*model.Answer, error)
}

// BatchResult represents the result of one batch question
type BatchResult struct {
	Question string        `json:"question"`
	Answer   *model.Answer `json:"answer,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// BatchProcessor answers many independent questions concurrently
type BatchProcessor struct {
	answerer    Answerer
	concurrency int
	sessionID   func(i int) string
}

// NewBatchProcessor creates a new batch processor.
// Every question gets its own session so turns do not bleed into each other.
func NewBatchProcessor(answerer Answerer, concurrency int, sessionPrefix string) *BatchProcessor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchProcessor{
		answerer:    answerer,
		concurrency: concurrency,
		sessionID: func(i int) string {
			return fmt.Sprintf("%s-%d", sessionPrefix, i)
		},
	}
}

// ProcessQuestions answers the questions, preserving input order in the results
func (b *BatchProcessor) ProcessQuestions(ctx context.Context, questions []string) []*BatchResult {
	results := make([]*BatchResult, len(questions))
	if len(questions) == 0 {
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, q := range questions {
		i, q := i, q
		g.Go(func() error {
			res := &BatchResult{Question: q}
			answer, err := b.answerer.Generate(gctx, q, b.sessionID(i), false)
			if err != nil {
				res.Error = err.Error()
			}
			res.Answer = answer
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// ProcessFile reads questions from a file and answers them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*BatchResult, error) {
	questions, err := ReadQuestionsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}

	return b.ProcessQuestions(ctx, questions), nil
}

// ReadQuestionsFromFile reads questions from a text file (one per line) or a
// YAML file holding a list of strings
func ReadQuestionsFromFile(filePath string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == ".yaml" || ext == ".yml" {
		return readYAMLQuestions(filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return uniqueQuestions(lines), nil
}

func readYAMLQuestions(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	var raw []string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return uniqueQuestions(raw), nil
}

// uniqueQuestions trims, drops blanks and comments, and removes duplicates
func uniqueQuestions(lines []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !seen[line] {
			seen[line] = true
			out = append(out, line)
		}
	}
	return out
}
