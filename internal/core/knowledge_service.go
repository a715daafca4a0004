package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/zaibshamsi/Brofessor/internal/blob"
	"github.com/zaibshamsi/Brofessor/internal/logger"
	"github.com/zaibshamsi/Brofessor/internal/realtime"
	"github.com/zaibshamsi/Brofessor/internal/store"
)

// KnowledgeStore is the corpus persistence the controller round-trips through.
// UpdateKnowledgeBase must run mutate against the latest stored value and
// write the result atomically.
type KnowledgeStore interface {
	GetKnowledgeBase(ctx context.Context) (*store.KnowledgeBase, error)
	UpdateKnowledgeBase(ctx context.Context, mutate func(kb *store.KnowledgeBase) error) (*store.KnowledgeBase, error)
}

const fileHeaderFormat = "--- FILE: %s ---\n"

var fileHeaderPattern = regexp.MustCompile(`(?m)^--- FILE: (.*?) ---\n`)

// FileBlock renders one delimited corpus block.
func FileBlock(name, text string) string {
	return fmt.Sprintf(fileHeaderFormat, name) + text + "\n\n"
}

// KnowledgeBaseController mirrors the shared corpus in memory. Every mutation
// merges against the latest stored corpus, never against the mirror.
type KnowledgeBaseController struct {
	log   *logger.Logger
	store KnowledgeStore
	blobs blob.Store

	announcer changeAnnouncer

	mu      sync.RWMutex
	content string
	files   []store.KnowledgeFile
}

func NewKnowledgeBaseController(log *logger.Logger, st KnowledgeStore, blobs blob.Store) *KnowledgeBaseController {
	return &KnowledgeBaseController{
		log:   log.With("service", "KnowledgeBaseController"),
		store: st,
		blobs: blobs,
	}
}

// Refresh reloads the mirror from the store.
func (c *KnowledgeBaseController) Refresh(ctx context.Context) error {
	kb, err := c.store.GetKnowledgeBase(ctx)
	if err != nil {
		return fmt.Errorf("failed to load knowledge base: %w", err)
	}
	c.setMirror(kb)
	return nil
}

func (c *KnowledgeBaseController) setMirror(kb *store.KnowledgeBase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content = kb.Content
	c.files = append([]store.KnowledgeFile(nil), kb.Files...)
}

func (c *KnowledgeBaseController) Content() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.content
}

func (c *KnowledgeBaseController) Files() []store.KnowledgeFile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]store.KnowledgeFile(nil), c.files...)
}

// HasCorpus reports whether there is any corpus text to answer from.
func (c *KnowledgeBaseController) HasCorpus() bool {
	return strings.TrimSpace(c.Content()) != ""
}

// Append merges contentToAppend and filesToAppend into the latest corpus.
// Callers are expected to have filtered out names already in the manifest.
func (c *KnowledgeBaseController) Append(ctx context.Context, contentToAppend string, filesToAppend []store.KnowledgeFile) error {
	kb, err := c.store.UpdateKnowledgeBase(ctx, func(kb *store.KnowledgeBase) error {
		kb.Content = appendContent(kb.Content, contentToAppend)
		kb.Files = append(kb.Files, filesToAppend...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append to knowledge base: %w", err)
	}
	c.setMirror(kb)
	c.announcer.announce(ctx, realtime.EventKnowledgeChanged)
	c.log.Info("Knowledge base appended", "files", len(filesToAppend), "total_files", len(kb.Files))
	return nil
}

func appendContent(existing, addition string) string {
	existing = strings.TrimRight(existing, "\n")
	if existing == "" {
		return addition
	}
	if addition == "" {
		return existing
	}
	return existing + "\n\n" + addition
}

// DeleteByName drops the named file's manifest entry and corpus block, then
// deletes its stored blob. It returns ErrNotFound when neither exists.
func (c *KnowledgeBaseController) DeleteByName(ctx context.Context, name string) error {
	var locator string
	kb, err := c.store.UpdateKnowledgeBase(ctx, func(kb *store.KnowledgeBase) error {
		kept := make([]store.KnowledgeFile, 0, len(kb.Files))
		found := false
		for _, f := range kb.Files {
			if f.Name == name {
				found = true
				if f.StorageLocator != "" {
					locator = f.StorageLocator
				}
				continue
			}
			kept = append(kept, f)
		}
		content, removed := RemoveBlock(kb.Content, name)
		if !found && !removed {
			return fmt.Errorf("knowledge file %q: %w", name, ErrNotFound)
		}
		kb.Files = kept
		kb.Content = content
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete knowledge file: %w", err)
	}
	c.setMirror(kb)
	c.announcer.announce(ctx, realtime.EventKnowledgeChanged)
	if locator != "" {
		c.blobs.Delete(ctx, locator)
	}
	c.log.Info("Knowledge file deleted", "name", name)
	return nil
}

// RemoveBlock drops every block whose header names name. Text before the
// first header and all other blocks are kept verbatim and in order.
func RemoveBlock(content, name string) (string, bool) {
	headers := fileHeaderPattern.FindAllStringSubmatchIndex(content, -1)
	if len(headers) == 0 {
		return content, false
	}

	var b strings.Builder
	b.WriteString(content[:headers[0][0]])
	removed := false
	for i, h := range headers {
		end := len(content)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		if content[h[2]:h[3]] == name {
			removed = true
			continue
		}
		b.WriteString(content[h[0]:end])
	}
	return b.String(), removed
}

// MergeReport summarizes one MergeIngested call.
type MergeReport struct {
	Added     int `json:"added"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
}

// Notice is the assistant message announcing the outcome to a session. It
// is empty when there were no results at all.
func (r MergeReport) Notice() string {
	switch {
	case r.Added > 0 && r.Processed > 0:
		return fmt.Sprintf("My information has been updated with %d new document(s). You can now ask me about the new content.", r.Processed)
	case r.Added > 0:
		return "I couldn't process any of the new files. Please try uploading a valid .csv, .txt, or .pdf file."
	case r.Skipped > 0:
		return "No new files were added. The selected files may already be part of my knowledge."
	}
	return ""
}

// MergeIngested appends pipeline results whose names are not yet in the
// manifest. Only processed results with content contribute a corpus block.
// Blobs uploaded for results that end up not merged are deleted unless a
// manifest entry still references them.
func (c *KnowledgeBaseController) MergeIngested(ctx context.Context, results []IngestResult) (MergeReport, error) {
	var (
		report   MergeReport
		orphaned []string
	)
	kb, err := c.store.UpdateKnowledgeBase(ctx, func(kb *store.KnowledgeBase) error {
		report = MergeReport{}
		orphaned = orphaned[:0]
		seen := make(map[string]struct{}, len(kb.Files)+len(results))
		for _, f := range kb.Files {
			seen[f.Name] = struct{}{}
		}

		var content strings.Builder
		for _, r := range results {
			if _, dup := seen[r.File.Name]; dup {
				report.Skipped++
				if r.File.StorageLocator != "" {
					orphaned = append(orphaned, r.File.StorageLocator)
				}
				continue
			}
			seen[r.File.Name] = struct{}{}
			kb.Files = append(kb.Files, r.File)
			report.Added++
			if r.File.Status == store.FileProcessed {
				report.Processed++
				if r.Content != "" {
					content.WriteString(FileBlock(r.File.Name, r.Content))
				}
			}
		}
		referenced := make(map[string]struct{}, len(kb.Files))
		for _, f := range kb.Files {
			if f.StorageLocator != "" {
				referenced[f.StorageLocator] = struct{}{}
			}
		}
		kept := orphaned[:0]
		for _, locator := range orphaned {
			if _, inUse := referenced[locator]; !inUse {
				kept = append(kept, locator)
			}
		}
		orphaned = kept
		if report.Added == 0 {
			return nil
		}
		kb.Content = appendContent(kb.Content, strings.TrimRight(content.String(), "\n"))
		return nil
	})
	if err != nil {
		for _, r := range results {
			if r.File.StorageLocator != "" {
				c.blobs.Delete(context.WithoutCancel(ctx), r.File.StorageLocator)
			}
		}
		return MergeReport{}, fmt.Errorf("failed to merge ingested files: %w", err)
	}
	c.setMirror(kb)
	c.announcer.announce(ctx, realtime.EventKnowledgeChanged)
	for _, locator := range orphaned {
		c.blobs.Delete(ctx, locator)
	}
	c.log.Info("Ingested files merged", "added", report.Added, "processed", report.Processed, "skipped", report.Skipped)
	return report, nil
}
