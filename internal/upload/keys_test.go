package upload

import (
	"errors"
	"strings"
	"testing"
)

func TestCleanFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"report.pdf", "report.pdf", true},
		{"  My Report.pdf  ", "My Report.pdf", true},
		{"../../etc/passwd", "passwd", true},
		{`C:\Users\me\photo.jpg`, "photo.jpg", true},
		{"bad\x00name\n.txt", "badname.txt", true},
		{"", "", false},
		{"..", "", false},
		{"dir/", "dir", true},
		{"/", "", false},
		{strings.Repeat("a", 300), "", false},
	}
	for _, tc := range tests {
		got, ok := CleanFileName(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("CleanFileName(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("wiki/page 7", "My  Report (final).pdf", "tok")
	want := "entities/wiki_page_7/tok/My_Report__final_.pdf"
	if key != want {
		t.Fatalf("ObjectKey = %q, want %q", key, want)
	}
	long := ObjectKey("e", strings.Repeat("x", 400), "tok")
	if seg := long[strings.LastIndex(long, "/")+1:]; len(seg) != maxNameBytes {
		t.Fatalf("segment length = %d, want %d", len(seg), maxNameBytes)
	}
	if got := ObjectKey("e", "ünï.txt", "tok"); got != "entities/e/tok/_n_.txt" {
		t.Fatalf("non-ascii key = %q", got)
	}
}

func TestFileTypeAndContentType(t *testing.T) {
	if got := FileType("Archive.TAR.GZ"); got != "gz" {
		t.Fatalf("FileType = %q", got)
	}
	if got := FileType("README"); got != "" {
		t.Fatalf("FileType without extension = %q", got)
	}
	if got := ContentTypeFor("x.unknownext", ""); got != "application/octet-stream" {
		t.Fatalf("fallback content type = %q", got)
	}
	if got := ContentTypeFor("x.pdf", "text/plain"); got != "text/plain" {
		t.Fatalf("declared content type ignored: %q", got)
	}
}

func TestErrorKindsMatch(t *testing.T) {
	err := incomplete("up-1", 3)
	if !errors.Is(err, ErrIncompleteUpload) || errors.Is(err, ErrInvalidState) {
		t.Fatal("kind matching broken")
	}
	if !strings.Contains(err.Error(), "up-1") || !strings.Contains(err.Error(), "3 chunk(s) missing") {
		t.Fatalf("message = %q", err.Error())
	}

	perm := storeError("up-1", "put", &fakeStoreError{temporary: false})
	if perm.Retryable {
		t.Fatal("permanent store error marked retryable")
	}
	temp := storeError("up-1", "put", &fakeStoreError{temporary: true})
	if !temp.Retryable || !errors.Is(temp, ErrStoreUnavailable) {
		t.Fatal("temporary store error classification broken")
	}
	if !isStoreNotFound(&fakeStoreError{notFound: true}) || isStoreNotFound(errors.New("plain")) {
		t.Fatal("not-found detection broken")
	}
}
