package scraper

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// cardFixture describes a review card fixture.
type cardFixture struct {
	id         string
	author     string
	stars      int // filled stars out of five
	date       string
	likes      string
	comment    string
	noComment  bool
	expandable bool
	translated string // original-language text behind the toggle
	extra      [][2]string
}

func (c cardFixture) html() string {
	var b strings.Builder
	b.WriteString(`<div class="jJc9Ad"`)
	if c.id != "" {
		fmt.Fprintf(&b, ` data-review-id="%s"`, c.id)
	}
	b.WriteString(`><div class="jftiEf">`)
	if c.author != "" {
		fmt.Fprintf(&b, `<div class="d4r55 ">%s</div>`, c.author)
	}
	b.WriteString(`<span class="kvMYJc" role="img">`)
	for i := 0; i < 5; i++ {
		if i < c.stars {
			b.WriteString(`<img class="hCCjke elGi1d">`)
		} else {
			b.WriteString(`<img class="hCCjke">`)
		}
	}
	b.WriteString(`</span>`)
	if c.date != "" {
		fmt.Fprintf(&b, `<span class="rsqaWe">%s</span>`, c.date)
	}
	if !c.noComment {
		b.WriteString(`<div class="MyEned"><span class="wiI7pd">`)
		b.WriteString(c.comment)
		b.WriteString(`</span>`)
		if c.expandable {
			b.WriteString(`<button class="w8nwRe">More</button>`)
		}
		b.WriteString(`</div>`)
	}
	if c.translated != "" {
		b.WriteString(`<div class="oqftme"><button>See original</button></div>`)
	}
	if len(c.extra) > 0 {
		b.WriteString(`<div jslog='127691'>`)
		for _, kv := range c.extra {
			fmt.Fprintf(&b, `<div><span class="RfDO5c">%s</span><span class="RfDO5c">%s</span></div>`, kv[0], kv[1])
		}
		b.WriteString(`</div>`)
	}
	if c.likes != "" {
		fmt.Fprintf(&b, `<button><span class="pkWtMe">%s</span></button>`, c.likes)
	}
	b.WriteString(`</div></div>`)
	return b.String()
}

func (c cardFixture) snapshot(index int) CardSnapshot {
	snap := CardSnapshot{Index: index, HTML: c.html()}
	if c.translated != "" {
		orig := c
		orig.comment = c.translated
		snap.OriginalHTML = orig.html()
	}
	return snap
}

func simpleCards(n int) []cardFixture {
	cards := make([]cardFixture, n)
	for i := range cards {
		cards[i] = cardFixture{
			id:      fmt.Sprintf("r%02d", i),
			author:  fmt.Sprintf("Author %d", i),
			stars:   i % 6,
			date:    fmt.Sprintf("%d days ago", i+1),
			comment: fmt.Sprintf("comment %d", i),
		}
	}
	return cards
}

// fakeList renders a fixed set of cards, growBy more per scroll.
type fakeList struct {
	cards    []cardFixture
	rendered int
	growBy   int

	// staleAt makes Card(index) fail with ErrTransientStale that many times.
	staleAt map[int]int
	lenErr  error

	cardCalls []int
	scrolls   int
}

func (f *fakeList) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.lenErr != nil {
		err := f.lenErr
		f.lenErr = nil
		return 0, err
	}
	return f.rendered, nil
}

func (f *fakeList) Card(_ context.Context, index int) (CardSnapshot, error) {
	f.cardCalls = append(f.cardCalls, index)
	if f.staleAt[index] > 0 {
		f.staleAt[index]--
		return CardSnapshot{}, fmt.Errorf("card %d: %w", index, ErrTransientStale)
	}
	if index >= f.rendered {
		return CardSnapshot{}, ErrTransientStale
	}
	return f.cards[index].snapshot(index), nil
}

func (f *fakeList) ScrollToBottom(context.Context) error {
	f.scrolls++
	f.rendered += f.growBy
	if f.rendered > len(f.cards) {
		f.rendered = len(f.cards)
	}
	return nil
}

func fastCollector(keepOriginal bool) *Collector {
	c := NewCollector(NewParser(keepOriginal), CollectorOptions{
		RetryBudget:  3,
		RetryDelay:   time.Millisecond,
		WaitTimeout:  5 * time.Millisecond,
		PollInterval: time.Millisecond,
	}, quietLogger())
	return c
}
