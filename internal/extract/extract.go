// Package extract turns plain-text and Markdown documents into ordered blocks.
package extract

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/book-expert/narrator/internal/core"
)

// Extraction errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrCorruptFile       = errors.New("corrupt document")
)

// File reads path and extracts its blocks according to the file extension.
func File(path string) ([]core.Block, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".txt", ".md", ".markdown":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrCorruptFile, path)
	}

	if ext == ".txt" {
		return PlainText(string(data)), nil
	}

	return Markdown(string(data)), nil
}

// PlainText splits text into paragraphs on blank lines.
func PlainText(content string) []core.Block {
	var (
		blocks    []core.Block
		paragraph []string
	)

	flush := func() {
		if len(paragraph) > 0 {
			blocks = append(blocks, core.Block{Text: strings.Join(paragraph, " "), Kind: core.BlockParagraph})
			paragraph = nil
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), len(content)+1)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()

			continue
		}

		paragraph = append(paragraph, line)
	}

	flush()

	return blocks
}

// Markdown extracts headings, list items and paragraphs from CommonMark.
// Code blocks, HTML, images and horizontal rules are dropped; links keep their
// text. Emphasis is rewritten as *x* or **x** for the chunker, and literal
// asterisks are removed so they cannot be mistaken for emphasis.
func Markdown(content string) []core.Block {
	source := []byte(content)
	doc := markdownParser.Parser().Parse(text.NewReader(source))

	walker := blockWalker{source: source}
	walker.blocks(doc, core.BlockParagraph)

	return walker.out
}

var markdownParser = goldmark.New()

type blockWalker struct {
	source []byte
	out    []core.Block
}

// blocks emits the block-level children of parent. Paragraphs take kind, so
// paragraphs inside list items become list item blocks.
func (w *blockWalker) blocks(parent ast.Node, kind core.BlockKind) {
	for node := parent.FirstChild(); node != nil; node = node.NextSibling() {
		switch node.Kind() {
		case ast.KindHeading:
			w.add(node, core.BlockHeading)
		case ast.KindParagraph, ast.KindTextBlock:
			w.add(node, kind)
		case ast.KindListItem:
			w.blocks(node, core.BlockListItem)
		case ast.KindList, ast.KindBlockquote:
			w.blocks(node, kind)
		}
	}
}

func (w *blockWalker) add(node ast.Node, kind core.BlockKind) {
	var builder strings.Builder

	w.inline(&builder, node)

	line := strings.Join(strings.Fields(builder.String()), " ")
	if line != "" {
		w.out = append(w.out, core.Block{Text: line, Kind: kind})
	}
}

func (w *blockWalker) inline(builder *strings.Builder, parent ast.Node) {
	for node := parent.FirstChild(); node != nil; node = node.NextSibling() {
		switch inline := node.(type) {
		case *ast.Text:
			value := util.UnescapePunctuations(inline.Segment.Value(w.source))
			builder.WriteString(strings.ReplaceAll(string(value), "*", ""))

			if inline.SoftLineBreak() || inline.HardLineBreak() {
				builder.WriteByte(' ')
			}
		case *ast.String:
			builder.WriteString(strings.ReplaceAll(string(inline.Value), "*", ""))
		case *ast.Emphasis:
			marker := strings.Repeat("*", inline.Level)
			builder.WriteString(marker)
			w.inline(builder, inline)
			builder.WriteString(marker)
		case *ast.AutoLink:
			builder.Write(inline.Label(w.source))
		case *ast.Image, *ast.RawHTML:
		default:
			w.inline(builder, inline)
		}
	}
}
