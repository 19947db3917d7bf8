package transcripts

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// speakerPrefix matches the "**Name:** said something" convention most
// recorders use when flattening a transcript to markdown.
var speakerPrefix = regexp.MustCompile(`^\*\*([^*]+?):?\*\*:?\s*(.*)$`)

// ParseMarkdown reconstructs a content tree from a flattened markdown
// transcript. Headings become section nodes; each paragraph or list
// item becomes one utterance leaf. Speaker attribution is recovered
// from bold name prefixes; the recorder labels the device wearer
// "You", which maps to the user role. Per-utterance timestamps are
// not recoverable from markdown and stay nil.
func ParseMarkdown(md string) []*ContentNode {
	src := []byte(md)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var nodes []*ContentNode
	var section *ContentNode

	appendLeaf := func(leaf *ContentNode) {
		if section != nil {
			section.Children = append(section.Children, leaf)
		} else {
			nodes = append(nodes, leaf)
		}
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch b := n.(type) {
		case *ast.Heading:
			section = &ContentNode{
				Type: "section",
				Text: string(rawText(b, src)),
			}
			nodes = append(nodes, section)
		case *ast.Paragraph:
			if leaf := utteranceNode(rawText(b, src)); leaf != nil {
				appendLeaf(leaf)
			}
		case *ast.List:
			for item := b.FirstChild(); item != nil; item = item.NextSibling() {
				if leaf := utteranceNode(rawText(item, src)); leaf != nil {
					appendLeaf(leaf)
				}
			}
		}
	}

	return nodes
}

// rawText collects the source lines underneath a block node, joined
// with spaces. Raw text keeps the bold markers so speaker prefixes
// survive to be matched.
func rawText(n ast.Node, src []byte) string {
	var parts []string
	var collect func(n ast.Node)
	collect = func(n ast.Node) {
		if n.Type() == ast.TypeBlock {
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				parts = append(parts, strings.TrimSpace(string(seg.Value(src))))
			}
		}
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			collect(c)
		}
	}
	collect(n)
	return strings.TrimSpace(strings.Join(parts, " "))
}

// utteranceNode builds a leaf node from one flattened line, peeling
// off the speaker prefix when present.
func utteranceNode(line string) *ContentNode {
	if line == "" {
		return nil
	}

	node := &ContentNode{Type: "utterance", SpeakerRole: RoleUnknown}

	if m := speakerPrefix.FindStringSubmatch(line); m != nil {
		name := strings.TrimSpace(m[1])
		node.SpeakerName = name
		node.Text = strings.TrimSpace(m[2])
		if strings.EqualFold(name, "you") {
			node.SpeakerRole = RoleUser
		} else {
			node.SpeakerRole = RoleOther
		}
	} else {
		node.Text = line
	}

	if node.Text == "" {
		return nil
	}
	return node
}
