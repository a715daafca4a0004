package core

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaibshamsi/Brofessor/internal/blob"
	"github.com/zaibshamsi/Brofessor/internal/logger"
	"github.com/zaibshamsi/Brofessor/internal/store"
)

func newKnowledgeFixture(t *testing.T, kb store.KnowledgeBase) (*KnowledgeBaseController, *memKnowledgeStore, *recordingBlobs) {
	t.Helper()
	st := &memKnowledgeStore{kb: kb}
	blobs := newMemBlobs()
	c := NewKnowledgeBaseController(logger.Nop(), st, blobs)
	require.NoError(t, c.Refresh(context.Background()))
	return c, st, blobs
}

func TestDeleteByName_KeepsOtherBlocksVerbatim(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	locator, err := blobs.Put(ctx, blob.Blob{Name: "b.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}, "1")
	require.NoError(t, err)

	a := FileBlock("a.txt", "alpha line one\nalpha line two")
	b := FileBlock("b.pdf", "beta")
	st := &memKnowledgeStore{kb: store.KnowledgeBase{
		Content: a + b,
		Files: []store.KnowledgeFile{
			{Name: "a.txt", Type: "text/plain", Status: store.FileProcessed},
			{Name: "b.pdf", Type: "application/pdf", Status: store.FileProcessed, StorageLocator: locator},
		},
	}}
	c := NewKnowledgeBaseController(logger.Nop(), st, blobs)

	require.NoError(t, c.DeleteByName(ctx, "b.pdf"))

	assert.Equal(t, a, st.kb.Content)
	require.Len(t, st.kb.Files, 1)
	assert.Equal(t, "a.txt", st.kb.Files[0].Name)
	assert.False(t, blobs.Exists(locator))
	assert.Equal(t, a, c.Content(), "mirror follows the write")
	assert.Equal(t, st.kb.Files, c.Files())
}

func TestDeleteByName_FirstBlockAndPreamble(t *testing.T) {
	preamble := "Campus facts curated by hand.\n\n"
	a := FileBlock("a.txt", "alpha")
	b := FileBlock("b.txt", "beta")
	c2 := FileBlock("c.txt", "gamma")
	c, st, _ := newKnowledgeFixture(t, store.KnowledgeBase{
		Content: preamble + a + b + c2,
		Files: []store.KnowledgeFile{
			{Name: "a.txt", Status: store.FileProcessed},
			{Name: "b.txt", Status: store.FileProcessed},
			{Name: "c.txt", Status: store.FileProcessed},
		},
	})

	require.NoError(t, c.DeleteByName(context.Background(), "b.txt"))
	assert.Equal(t, preamble+a+c2, st.kb.Content)

	require.NoError(t, c.DeleteByName(context.Background(), "a.txt"))
	assert.Equal(t, preamble+c2, st.kb.Content)
}

func TestDeleteByName_MalformedCorpus(t *testing.T) {
	c, st, _ := newKnowledgeFixture(t, store.KnowledgeBase{
		Content: "free text without any headers --- FILE: x.txt --- inline",
		Files:   []store.KnowledgeFile{{Name: "x.txt", Status: store.FileProcessed}},
	})

	require.NoError(t, c.DeleteByName(context.Background(), "x.txt"))
	assert.Equal(t, "free text without any headers --- FILE: x.txt --- inline", st.kb.Content)
	assert.Empty(t, st.kb.Files)

	err := c.DeleteByName(context.Background(), "x.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteByName_StoreFailurePropagates(t *testing.T) {
	c, st, _ := newKnowledgeFixture(t, store.KnowledgeBase{
		Content: FileBlock("a.txt", "alpha"),
		Files:   []store.KnowledgeFile{{Name: "a.txt", Status: store.FileProcessed}},
	})
	st.updateErr = errBoom

	err := c.DeleteByName(context.Background(), "a.txt")
	assert.ErrorIs(t, err, errBoom)
	assert.Len(t, c.Files(), 1, "mirror is untouched on failure")
}

func TestAppend(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		add      string
		want     string
	}{
		{"empty corpus", "", "B", "B"},
		{"blank line separator", "A", "B", "A\n\nB"},
		{"trailing newlines collapse", "A\n\n", "B", "A\n\nB"},
		{"nothing to add", "A", "", "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, st, _ := newKnowledgeFixture(t, store.KnowledgeBase{Content: tt.existing})
			require.NoError(t, c.Append(context.Background(), tt.add, nil))
			assert.Equal(t, tt.want, st.kb.Content)
			assert.Equal(t, tt.want, c.Content())
		})
	}
}

func TestAppend_ConcurrentCallsKeepBothUpdates(t *testing.T) {
	c, st, _ := newKnowledgeFixture(t, store.KnowledgeBase{Content: FileBlock("base.txt", "base")})
	// A second controller with a stale mirror, as another admin would have.
	other := NewKnowledgeBaseController(logger.Nop(), st, newMemBlobs())

	var wg sync.WaitGroup
	for i, ctrl := range []*KnowledgeBaseController{c, other} {
		i, ctrl := i, ctrl
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("f%d.txt", i)
			err := ctrl.Append(context.Background(), FileBlock(name, name), []store.KnowledgeFile{{Name: name, Status: store.FileProcessed}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	names := map[string]bool{}
	for _, f := range st.kb.Files {
		names[f.Name] = true
	}
	assert.Equal(t, map[string]bool{"f0.txt": true, "f1.txt": true}, names)
	assert.Contains(t, st.kb.Content, FileBlock("base.txt", "base"))
	assert.Contains(t, st.kb.Content, "--- FILE: f0.txt ---\nf0.txt")
	assert.Contains(t, st.kb.Content, "--- FILE: f1.txt ---\nf1.txt")
}

func TestMergeIngested(t *testing.T) {
	ctx := context.Background()
	c, st, blobs := newKnowledgeFixture(t, store.KnowledgeBase{
		Content: FileBlock("a.txt", "alpha"),
		Files:   []store.KnowledgeFile{{Name: "a.txt", Status: store.FileProcessed}},
	})
	dupLocator, err := blobs.Put(ctx, blob.Blob{Name: "a.txt", Data: []byte("x")}, "1")
	require.NoError(t, err)

	results := []IngestResult{
		{File: store.KnowledgeFile{Name: "a.txt", Status: store.FileProcessed, StorageLocator: dupLocator}, Content: "alpha again"},
		{File: store.KnowledgeFile{Name: "c.txt", Type: "text/plain", Status: store.FileProcessed}, Content: "gamma"},
		{File: store.KnowledgeFile{Name: "empty.pdf", Type: "application/pdf", Status: store.FileProcessed}},
		{File: store.KnowledgeFile{Name: "img.png", Type: "image/png", Status: store.FileUnsupported}},
		{File: store.KnowledgeFile{Name: "bad.pdf", Type: "application/pdf", Status: store.FileError}, Error: "boom"},
	}

	report, err := c.MergeIngested(ctx, results)
	require.NoError(t, err)

	assert.Equal(t, MergeReport{Added: 4, Processed: 2, Skipped: 1}, report)
	assert.Equal(t, FileBlock("a.txt", "alpha")+"--- FILE: c.txt ---\ngamma", st.kb.Content)
	require.Len(t, st.kb.Files, 5)
	assert.Equal(t, []string{"a.txt", "c.txt", "empty.pdf", "img.png", "bad.pdf"}, fileNames(st.kb.Files))
	assert.False(t, blobs.Exists(dupLocator), "blob of a skipped duplicate is removed")
	assert.Equal(t, "My information has been updated with 2 new document(s). You can now ask me about the new content.", report.Notice())

	// The appended block can be deleted again without touching the rest.
	require.NoError(t, c.DeleteByName(ctx, "c.txt"))
	assert.Equal(t, FileBlock("a.txt", "alpha"), st.kb.Content)
}

func TestMergeIngested_DuplicateNameInBatchKeepsStoredBlob(t *testing.T) {
	ctx := context.Background()
	c, st, blobs := newKnowledgeFixture(t, store.KnowledgeBase{})
	p := NewIngestionPipeline(logger.Nop(), blobs, &fakeExtractor{text: "Week 1: intro"})

	pdf := BytesUpload{FileName: "syllabus.pdf", Type: "application/pdf", Data: []byte("%PDF-1.7")}
	results := p.Process(ctx, "7", []Upload{pdf, pdf})
	require.Len(t, results, 2)

	report, err := c.MergeIngested(ctx, results)
	require.NoError(t, err)
	assert.Equal(t, MergeReport{Added: 1, Processed: 1, Skipped: 1}, report)

	require.Len(t, st.kb.Files, 1)
	kept := st.kb.Files[0].StorageLocator
	assert.True(t, blobs.Exists(kept), "manifest entry still resolves to a stored blob")
	assert.Equal(t, []string{kept}, blobs.Stored(), "only the duplicate's blob is removed")
}

func TestMergeIngested_NeverDeletesReferencedLocator(t *testing.T) {
	ctx := context.Background()
	c, st, blobs := newKnowledgeFixture(t, store.KnowledgeBase{})
	locator, err := blobs.Put(ctx, blob.Blob{Name: "syllabus.pdf", Data: []byte("%PDF")}, "7")
	require.NoError(t, err)

	shared := store.KnowledgeFile{Name: "syllabus.pdf", Type: "application/pdf", Status: store.FileProcessed, StorageLocator: locator}
	_, err = c.MergeIngested(ctx, []IngestResult{{File: shared, Content: "a"}, {File: shared, Content: "a"}})
	require.NoError(t, err)

	require.Len(t, st.kb.Files, 1)
	assert.True(t, blobs.Exists(locator))
}

func TestMergeReportNotice(t *testing.T) {
	assert.Equal(t, "I couldn't process any of the new files. Please try uploading a valid .csv, .txt, or .pdf file.",
		MergeReport{Added: 2}.Notice())
	assert.Equal(t, "No new files were added. The selected files may already be part of my knowledge.",
		MergeReport{Skipped: 1}.Notice())
	assert.Empty(t, MergeReport{}.Notice())
}

func TestRemoveBlock_NoHeaders(t *testing.T) {
	out, removed := RemoveBlock("", "a.txt")
	assert.Empty(t, out)
	assert.False(t, removed)
}

func fileNames(files []store.KnowledgeFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}
