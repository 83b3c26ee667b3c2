package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
)

func seedBlob(t *testing.T, store BlobStore, ownerID, category, fileName, contentType, content string) *BlobMetadata {
	t.Helper()
	meta := BlobMetadata{
		FileName:    fileName,
		ContentType: contentType,
		OwnerID:     ownerID,
		Category:    category,
		CreatedBy:   "test-user",
	}
	result, err := store.Upload(context.Background(), meta, strings.NewReader(content))
	if err != nil {
		t.Fatalf("seedBlob: %v", err)
	}
	return result
}

func TestInMemoryBlobStore_Upload(t *testing.T) {
	store := NewInMemoryBlobStore()
	content := "hello world"

	meta := BlobMetadata{
		FileName:    "bill.txt",
		ContentType: "text/plain",
		OwnerID:     "claim-1",
		Category:    CategoryClaimDocument,
		CreatedBy:   "user-1",
	}

	result, err := store.Upload(context.Background(), meta, strings.NewReader(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.ID == "" {
		t.Fatal("expected non-empty ID")
	}
	if result.FileName != "bill.txt" {
		t.Errorf("expected FileName=bill.txt, got %s", result.FileName)
	}
	if result.Size != int64(len(content)) {
		t.Errorf("expected Size=%d, got %d", len(content), result.Size)
	}
	if result.Hash == "" {
		t.Fatal("expected non-empty Hash")
	}
	if result.CreatedAt.IsZero() {
		t.Fatal("expected non-zero CreatedAt")
	}
	if result.OwnerID != "claim-1" {
		t.Errorf("expected OwnerID=claim-1, got %s", result.OwnerID)
	}
}

func TestInMemoryBlobStore_Download(t *testing.T) {
	store := NewInMemoryBlobStore()
	content := "binary-content-here"

	uploaded := seedBlob(t, store, "c1", CategoryClaimDocument, "summary.pdf", "application/pdf", content)

	rc, meta, err := store.Download(context.Background(), uploaded.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("error reading content: %v", err)
	}
	if string(data) != content {
		t.Errorf("expected content=%q, got %q", content, string(data))
	}
	if meta.FileName != "summary.pdf" {
		t.Errorf("expected FileName=summary.pdf, got %s", meta.FileName)
	}
}

func TestInMemoryBlobStore_DownloadNotFound(t *testing.T) {
	store := NewInMemoryBlobStore()

	_, _, err := store.Download(context.Background(), "nonexistent-id")
	if err != ErrBlobNotFound {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestReadAll(t *testing.T) {
	store := NewInMemoryBlobStore()
	uploaded := seedBlob(t, store, "c1", CategoryClaimDocument, "id.png", "image/png", "png-bytes")

	data, meta, err := ReadAll(context.Background(), store, uploaded.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("got %q", data)
	}
	if meta.ContentType != "image/png" {
		t.Errorf("expected image/png, got %s", meta.ContentType)
	}

	if _, _, err := ReadAll(context.Background(), store, "missing"); err != ErrBlobNotFound {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestInMemoryBlobStore_Delete(t *testing.T) {
	store := NewInMemoryBlobStore()
	uploaded := seedBlob(t, store, "c1", CategoryClaimDocument, "file.txt", "text/plain", "data")

	if err := store.Delete(context.Background(), uploaded.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, _, err := store.Download(context.Background(), uploaded.ID)
	if err != ErrBlobNotFound {
		t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
	}
}

func TestInMemoryBlobStore_DeleteNotFound(t *testing.T) {
	store := NewInMemoryBlobStore()

	if err := store.Delete(context.Background(), "nonexistent-id"); err != ErrBlobNotFound {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestInMemoryBlobStore_GetMetadata(t *testing.T) {
	store := NewInMemoryBlobStore()
	uploaded := seedBlob(t, store, "pol-1", CategoryPolicyDocument, "wording.pdf", "application/pdf", "pdf")

	meta, err := store.GetMetadata(context.Background(), uploaded.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.ID != uploaded.ID {
		t.Errorf("expected ID=%s, got %s", uploaded.ID, meta.ID)
	}
	if meta.Category != CategoryPolicyDocument {
		t.Errorf("expected Category=%s, got %s", CategoryPolicyDocument, meta.Category)
	}
}

func TestInMemoryBlobStore_ListByOwner(t *testing.T) {
	store := NewInMemoryBlobStore()
	seedBlob(t, store, "claim-A", CategoryClaimDocument, "a1.pdf", "application/pdf", "a1")
	seedBlob(t, store, "claim-A", CategoryPolicyDocument, "a2.png", "image/png", "a2")
	seedBlob(t, store, "claim-B", CategoryClaimDocument, "b1.txt", "text/plain", "b1")

	results, err := store.ListByOwner(context.Background(), "claim-A", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}

	results, err = store.ListByOwner(context.Background(), "claim-A", CategoryClaimDocument)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].FileName != "a1.pdf" {
		t.Errorf("unexpected filtered results %+v", results)
	}
}

func TestInMemoryBlobStore_Upload_FileTooLarge(t *testing.T) {
	store := NewInMemoryBlobStore()
	largeContent := make([]byte, MaxFileSize+1)

	meta := BlobMetadata{
		FileName:    "huge.pdf",
		ContentType: "application/pdf",
		Category:    CategoryClaimDocument,
	}

	_, err := store.Upload(context.Background(), meta, bytes.NewReader(largeContent))
	if err != ErrFileTooLarge {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestInMemoryBlobStore_Upload_MissingFileName(t *testing.T) {
	store := NewInMemoryBlobStore()

	meta := BlobMetadata{ContentType: "text/plain", Category: CategoryClaimDocument}

	_, err := store.Upload(context.Background(), meta, strings.NewReader("data"))
	if err != ErrMissingFileName {
		t.Errorf("expected ErrMissingFileName, got %v", err)
	}
}

func TestInMemoryBlobStore_Upload_InvalidContentType(t *testing.T) {
	store := NewInMemoryBlobStore()

	meta := BlobMetadata{FileName: "macro.exe", ContentType: "application/x-msdownload"}

	_, err := store.Upload(context.Background(), meta, strings.NewReader("MZ"))
	if err != ErrInvalidContentType {
		t.Errorf("expected ErrInvalidContentType, got %v", err)
	}
}

func TestInMemoryBlobStore_SHA256Hash(t *testing.T) {
	store := NewInMemoryBlobStore()
	content := "compute-my-hash"

	uploaded := seedBlob(t, store, "c1", CategoryClaimDocument, "hash.txt", "text/plain", content)

	h := sha256.Sum256([]byte(content))
	if expected := fmt.Sprintf("%x", h); uploaded.Hash != expected {
		t.Errorf("expected hash=%s, got %s", expected, uploaded.Hash)
	}
}

func TestInMemoryBlobStore_ConcurrentAccess(t *testing.T) {
	store := NewInMemoryBlobStore()
	var wg sync.WaitGroup
	const goroutines = 50

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(n int) {
			defer wg.Done()
			meta := BlobMetadata{
				FileName:    fmt.Sprintf("file-%d.txt", n),
				ContentType: "text/plain",
				OwnerID:     "concurrent-claim",
				Category:    CategoryClaimDocument,
			}
			result, err := store.Upload(context.Background(), meta, strings.NewReader(fmt.Sprintf("content-%d", n)))
			if err != nil {
				t.Errorf("upload goroutine %d: %v", n, err)
				return
			}

			rc, _, err := store.Download(context.Background(), result.ID)
			if err != nil {
				t.Errorf("download goroutine %d: %v", n, err)
				return
			}
			rc.Close()
		}(i)
	}
	wg.Wait()

	results, err := store.ListByOwner(context.Background(), "concurrent-claim", "")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(results) != goroutines {
		t.Errorf("expected %d results, got %d", goroutines, len(results))
	}
}
