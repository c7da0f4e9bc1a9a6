package feed

import (
	"bytes"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/mmcdole/gofeed"

	"github.com/couchcryptid/seismic-feed-service/internal/domain"
)

// Parser decodes Atom documents. The zero value is not usable; call NewParser.
type Parser struct {
	fp *gofeed.Parser
}

// NewParser returns a Parser backed by gofeed.
func NewParser() *Parser {
	return &Parser{fp: gofeed.NewParser()}
}

// Parse decodes raw and returns a single-use sequence over its entries in
// document order. Each step yields either a Quake with a nil error, or a zero
// Quake with a *domain.RecordError for an entry that was dropped. A document
// whose entries cannot be enumerated fails with *domain.ParseError.
func (p *Parser) Parse(raw []byte) (iter.Seq2[domain.Quake, error], error) {
	doc, err := p.fp.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, &domain.ParseError{Err: err}
	}

	var consumed atomic.Bool
	return func(yield func(domain.Quake, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			return
		}
		for i, item := range doc.Items {
			if item == nil {
				continue
			}
			q, err := domain.ParseEntry(rawEntry(item))
			if err != nil {
				err = &domain.RecordError{Index: i, Err: err}
			}
			if !yield(q, err) {
				return
			}
		}
	}, nil
}

// rawEntry pulls the untyped fields out of a decoded item.
func rawEntry(item *gofeed.Item) domain.RawEntry {
	return domain.RawEntry{
		Title:      item.Title,
		Point:      georssPoint(item),
		Updated:    item.Updated,
		HasUpdated: strings.TrimSpace(item.Updated) != "",
		Link:       itemLink(item),
	}
}

func georssPoint(item *gofeed.Item) string {
	ns, ok := item.Extensions["georss"]
	if !ok {
		return ""
	}
	points := ns["point"]
	if len(points) == 0 {
		return ""
	}
	return points[0].Value
}

func itemLink(item *gofeed.Item) string {
	if item.Link != "" {
		return item.Link
	}
	if len(item.Links) > 0 {
		return item.Links[0]
	}
	return ""
}
