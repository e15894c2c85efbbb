package pipeline

import (
	"errors"
	"testing"
)

func TestClassifyByExtension(t *testing.T) {
	cases := map[string]docType{
		"manual.pdf":      docPDF,
		"notes.md":        docMarkdown,
		"notes.markdown":  docMarkdown,
		"page.html":       docHTML,
		"page.htm":        docHTML,
		"report.docx":     docOffice,
		"report.doc":      docOffice,
		"sheet.xlsx":      docOffice,
		"slides.pptx":     docOffice,
		"archive.zip":     docOther,
		"noext":           docOther,
		"MANUAL.PDF":      docPDF,
	}
	for path, want := range cases {
		if got := classify(path); got != want {
			t.Errorf("classify(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestFatalErrorWrapsAndUnwraps(t *testing.T) {
	cause := errors.New("boom")
	fe := &FatalError{Stage: "parse", Err: cause}
	if !errors.Is(fe, cause) {
		t.Error("FatalError should unwrap to its cause via errors.Is")
	}
	if fe.Error() != "parse: boom" {
		t.Errorf("Error() = %q, want %q", fe.Error(), "parse: boom")
	}
}

func TestNonFatalErrorWrapsAndUnwraps(t *testing.T) {
	cause := errors.New("timed out")
	ne := &NonFatalError{Stage: "verify", Err: cause}
	if !errors.Is(ne, cause) {
		t.Error("NonFatalError should unwrap to its cause via errors.Is")
	}
	if ne.Error() != "verify: timed out" {
		t.Errorf("Error() = %q, want %q", ne.Error(), "verify: timed out")
	}
}

func TestFillMissingOnlyFillsAbsentKeys(t *testing.T) {
	dst := map[string]any{"title": "existing"}
	src := map[string]any{"title": "overwritten?", "author": "Jane"}
	fillMissing(dst, src)
	if dst["title"] != "existing" {
		t.Errorf("title = %v, want unchanged existing value", dst["title"])
	}
	if dst["author"] != "Jane" {
		t.Errorf("author = %v, want filled from src", dst["author"])
	}
}

func TestUnionTagsCaseInsensitiveDedups(t *testing.T) {
	got := unionTagsCaseInsensitive([]string{"Safety", "Recall"}, []string{"RECALL", "engine"})
	want := []string{"Safety", "Recall", "engine"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, v := range want {
		if got[i] != v {
			t.Errorf("got[%d] = %q, want %q", i, got[i], v)
		}
	}
}
