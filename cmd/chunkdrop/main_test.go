package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dharsanguruparan/ChunkDrop/internal/api"
	"github.com/dharsanguruparan/ChunkDrop/internal/auth"
	"github.com/dharsanguruparan/ChunkDrop/internal/model"
	"github.com/dharsanguruparan/ChunkDrop/internal/storage"
	"github.com/dharsanguruparan/ChunkDrop/internal/upload"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("CHUNKDROP_SIGNING_SECRET", "cli-secret")
	out, err := execute(t, "token", "--user", "user-7")
	if err != nil {
		t.Fatal(err)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	claims, err := auth.NewSigner([]byte("cli-secret"), time.Hour).Verify(resp.Token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID() != "user-7" {
		t.Fatalf("sub = %s", claims.UserID())
	}
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Setenv("CHUNKDROP_SIGNING_SECRET", "")
	if _, err := execute(t, "token", "--user", "user-7"); err == nil {
		t.Fatal("token minted with a throwaway secret")
	}
}

func TestUploadAndStatusCommands(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	meta := storage.NewMemoryStore()
	if err := meta.CreateEntity(context.Background(), "ent-1", ""); err != nil {
		t.Fatal(err)
	}
	svc, err := upload.New(upload.Deps{
		Store: storage.NewMemoryObjects(""), Sessions: meta, Files: meta, Entities: meta, Logger: logger,
	}, upload.Options{Bucket: "uploads", MultipartThreshold: 100, DefaultChunkSize: 40, MinChunkSize: 10, MaxChunkSize: 100})
	if err != nil {
		t.Fatal(err)
	}
	signer := auth.NewSigner([]byte("cli-secret"), time.Hour)
	ts := httptest.NewServer(api.New(svc, signer, ":0", t.TempDir(), logger).Handler())
	defer ts.Close()
	token, _, _ := signer.Issue("user-1", "")

	t.Setenv("CHUNKDROP_TOKEN", "")
	t.Setenv("CHUNKDROP_MULTIPART_THRESHOLD", "100")
	t.Setenv("CHUNKDROP_MIN_CHUNK_SIZE", "10")
	t.Setenv("CHUNKDROP_DEFAULT_CHUNK_SIZE", "40")
	t.Setenv("CHUNKDROP_MAX_CHUNK_SIZE", "100")

	path := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(path, bytes.Repeat([]byte("z"), 130), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "--server", ts.URL, "--token", token, "upload", path, "--entity", "ent-1")
	if err != nil {
		t.Fatal(err)
	}
	var rec model.FileRecord
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if rec.FileSize != 130 || rec.FileName != "big.bin" {
		t.Fatalf("record = %+v", rec)
	}

	if _, err := execute(t, "--server", ts.URL, "--token", token, "status", "missing-id"); err == nil {
		t.Fatal("status of an unknown upload succeeded")
	}
	if _, err := execute(t, "--server", ts.URL, "upload", path, "--entity", "ent-1"); err == nil {
		t.Fatal("upload without a token succeeded")
	}
}
