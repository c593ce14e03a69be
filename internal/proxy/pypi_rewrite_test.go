package proxy

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const (
	testUpstreamFiles = "https://files.pythonhosted.org/packages"
	testMirrorBase    = "http://localhost:9000/pypi/packages"
)

const simpleIndex = `<!DOCTYPE html>
<html>
  <head><meta name="pypi:repository-version" content="1.1"><title>Links for demo</title></head>
  <body>
    <h1>Links for demo</h1>
    <a href="https://files.pythonhosted.org/packages/ab/cd/ef01/demo-1.0.tar.gz#sha256=00ff" data-requires-python="&gt;=3.8">demo-1.0.tar.gz</a><br />
    <a href="https://files.pythonhosted.org/packages/12/34/5678/demo-1.0-py3-none-any.whl#sha256=11ee" data-dist-info-metadata="sha256=22dd">demo-1.0-py3-none-any.whl</a><br />
  </body>
</html>
`

func TestIndexRewriterReplacesEveryOccurrence(t *testing.T) {
	out := NewIndexRewriter(testUpstreamFiles).Rewrite(simpleIndex, testMirrorBase)

	if strings.Contains(out, testUpstreamFiles) {
		t.Fatalf("upstream base should not survive rewrite:\n%s", out)
	}
	hrefs := anchorHrefs(t, out)
	want := []string{
		testMirrorBase + "/ab/cd/ef01/demo-1.0.tar.gz#sha256=00ff",
		testMirrorBase + "/12/34/5678/demo-1.0-py3-none-any.whl#sha256=11ee",
	}
	if len(hrefs) != len(want) {
		t.Fatalf("expected %d anchors, got %v", len(want), hrefs)
	}
	for i := range want {
		if hrefs[i] != want[i] {
			t.Fatalf("anchor %d: expected %s, got %s", i, want[i], hrefs[i])
		}
	}
}

func TestIndexRewriterPreservesEverythingElse(t *testing.T) {
	out := NewIndexRewriter(testUpstreamFiles).Rewrite(simpleIndex, testMirrorBase)
	restored := strings.ReplaceAll(out, testMirrorBase, testUpstreamFiles)
	if restored != simpleIndex {
		t.Fatalf("rewrite changed more than the base url")
	}
}

func TestIndexRewriterLeavesUnrelatedLinks(t *testing.T) {
	body := `<a href="https://example.com/packages/x.whl">x</a>`
	if out := NewIndexRewriter(testUpstreamFiles).Rewrite(body, testMirrorBase); out != body {
		t.Fatalf("unexpected rewrite: %s", out)
	}
}

func TestIndexRewriterNoopCases(t *testing.T) {
	if out := NewIndexRewriter("").Rewrite(simpleIndex, testMirrorBase); out != simpleIndex {
		t.Fatalf("empty upstream base should leave body unchanged")
	}
	if out := NewIndexRewriter(testUpstreamFiles).Rewrite(simpleIndex, testUpstreamFiles); out != simpleIndex {
		t.Fatalf("identical bases should leave body unchanged")
	}
	if out := NewIndexRewriter(testUpstreamFiles).Rewrite("", testMirrorBase); out != "" {
		t.Fatalf("empty body should stay empty")
	}
}

func anchorHrefs(t *testing.T, body string) []string {
	t.Helper()
	var hrefs []string
	tokenizer := html.NewTokenizer(strings.NewReader(body))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return hrefs
		case html.StartTagToken:
			token := tokenizer.Token()
			if token.Data != "a" {
				continue
			}
			for _, attr := range token.Attr {
				if attr.Key == "href" {
					hrefs = append(hrefs, attr.Val)
				}
			}
		}
	}
}
