package scraper

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

// cardScript re-resolves the card at an index on every call. Phases:
// "expand" clicks the comment's "more" button, "toggle" clicks "see original",
// anything else captures the card markup.
var cardScript = fmt.Sprintf(`(function(index, phase) {
	const cards = document.querySelectorAll(%q);
	if (index >= cards.length) {
		return {found: false};
	}
	const card = cards[index];
	const res = {found: true, id: card.getAttribute(%q) || ""};
	if (phase === "expand") {
		const more = card.querySelector(%q);
		if (more) { more.click(); }
	} else if (phase === "toggle") {
		const btn = card.querySelector(%q);
		res.toggled = !!btn;
		if (btn) { btn.click(); }
	} else {
		res.html = card.outerHTML;
	}
	return res;
})`, CardSelector, ReviewIDAttr, ExpandButton, TranslateButton)

var countScript = fmt.Sprintf(`document.querySelectorAll(%q).length`, CardSelector)

var scrollScript = fmt.Sprintf(`(function() {
	const el = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) { return false; }
	el.scrollTop = el.scrollHeight;
	return true;
})()`, ScrollContainerXPath)

type cardState struct {
	Found   bool   `json:"found"`
	ID      string `json:"id"`
	HTML    string `json:"html"`
	Toggled bool   `json:"toggled"`
}

// BrowserSession drives a local Chrome through chromedp.
type BrowserSession struct {
	ctx       context.Context
	cancel    context.CancelFunc
	opts      BrowserOptions
	logger    *logrus.Logger
	closeOnce sync.Once
}

func NewBrowserSession(opts BrowserOptions, logger *logrus.Logger) (*BrowserSession, error) {
	if !isChromeAvailable() {
		logger.Warn("No Chrome binary found on PATH, relying on chromedp's lookup")
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("lang", opts.Language),
		chromedp.WindowSize(1280, 900),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	ctx, cancelCtx := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Debugf),
		chromedp.WithErrorf(logger.Debugf),
	)
	cancel := func() {
		cancelCtx()
		cancelAlloc()
	}

	// start the browser now so a missing binary fails before any scraping
	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Infof("Using Chrome for browser automation (headless=%v, lang=%s)", opts.Headless, opts.Language)
	return &BrowserSession{
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
		logger: logger,
	}, nil
}

// run executes actions bounded by timeout and by the caller's ctx. An expired
// timeout is reported as ErrWaitTimeout.
func (bs *BrowserSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(bs.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if err == nil {
		return nil
	}
	if isContextDone(ctx, err) {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) && bs.ctx.Err() == nil {
		return fmt.Errorf("%w after %v: %v", ErrWaitTimeout, timeout, err)
	}
	return err
}

// waitElement is run for elements the page cannot do without: a timeout
// there means the element is missing.
func (bs *BrowserSession) waitElement(ctx context.Context, name string, actions ...chromedp.Action) error {
	err := bs.run(ctx, bs.opts.WaitTimeout, actions...)
	if errors.Is(err, ErrWaitTimeout) {
		return fmt.Errorf("%s: %w", name, ErrElementNotFound)
	}
	return err
}

func (bs *BrowserSession) Open(ctx context.Context, url string) error {
	headers := network.Headers{"Accept-Language": bs.opts.Language}
	return bs.run(ctx, 3*bs.opts.WaitTimeout,
		network.SetExtraHTTPHeaders(headers),
		chromedp.Navigate(url),
	)
}

func (bs *BrowserSession) AcceptCookies(ctx context.Context) error {
	return bs.waitElement(ctx, "cookie consent button",
		chromedp.Click(ConsentButtonXPath, chromedp.BySearch),
		chromedp.Sleep(bs.opts.ClickDelay),
	)
}

func (bs *BrowserSession) TotalReviewsText(ctx context.Context) (string, error) {
	var text string
	err := bs.waitElement(ctx, "total reviews",
		chromedp.Text(TotalReviewsXPath, &text, chromedp.BySearch),
	)
	return text, err
}

func (bs *BrowserSession) SortByNewest(ctx context.Context) error {
	if err := bs.waitElement(ctx, "sort button",
		chromedp.Click(SortButtonXPath, chromedp.BySearch),
	); err != nil {
		return err
	}
	return bs.waitElement(ctx, "sort by newest menu item",
		chromedp.Click(SortNewestXPath, chromedp.BySearch),
		chromedp.Sleep(bs.opts.ClickDelay),
	)
}

func (bs *BrowserSession) Reviews() ReviewList {
	return &browserReviewList{bs: bs}
}

// Close releases the browser. Safe to call more than once.
func (bs *BrowserSession) Close() {
	bs.closeOnce.Do(func() {
		bs.logger.Debug("Closing browser")
		bs.cancel()
	})
}

type browserReviewList struct {
	bs *BrowserSession
}

func (l *browserReviewList) Len(ctx context.Context) (int, error) {
	var n int
	err := l.bs.run(ctx, l.bs.opts.WaitTimeout,
		chromedp.WaitReady(ScrollContainerXPath, chromedp.BySearch),
		chromedp.Evaluate(countScript, &n),
	)
	return n, err
}

func (l *browserReviewList) step(ctx context.Context, index int, phase string) (cardState, error) {
	var st cardState
	script := fmt.Sprintf("%s(%d, %q)", cardScript, index, phase)
	if err := l.bs.run(ctx, l.bs.opts.WaitTimeout, chromedp.Evaluate(script, &st)); err != nil {
		return st, err
	}
	return st, nil
}

// sameCard fails with ErrTransientStale when the card at index is gone or is
// no longer the card first seen there.
func sameCard(index int, first, now cardState) error {
	if !now.Found || now.ID != first.ID {
		return fmt.Errorf("card %d: %w", index, ErrTransientStale)
	}
	return nil
}

func (l *browserReviewList) Card(ctx context.Context, index int) (CardSnapshot, error) {
	first, err := l.step(ctx, index, "expand")
	if err != nil {
		return CardSnapshot{}, err
	}
	if !first.Found {
		return CardSnapshot{}, fmt.Errorf("card %d: %w", index, ErrTransientStale)
	}
	if err := sleepCtx(ctx, l.bs.opts.ClickDelay); err != nil {
		return CardSnapshot{}, err
	}

	captured, err := l.step(ctx, index, "capture")
	if err != nil {
		return CardSnapshot{}, err
	}
	if err := sameCard(index, first, captured); err != nil {
		return CardSnapshot{}, err
	}
	snap := CardSnapshot{Index: index, HTML: captured.HTML}
	if !l.bs.opts.KeepOriginal {
		return snap, nil
	}

	toggled, err := l.step(ctx, index, "toggle")
	if err != nil {
		return CardSnapshot{}, err
	}
	if err := sameCard(index, first, toggled); err != nil {
		return CardSnapshot{}, err
	}
	if !toggled.Toggled {
		return snap, nil
	}
	if err := sleepCtx(ctx, l.bs.opts.ClickDelay); err != nil {
		return CardSnapshot{}, err
	}

	original, err := l.step(ctx, index, "capture")
	if err != nil {
		return CardSnapshot{}, err
	}
	if err := sameCard(index, first, original); err != nil {
		return CardSnapshot{}, err
	}
	snap.OriginalHTML = original.HTML
	return snap, nil
}

func (l *browserReviewList) ScrollToBottom(ctx context.Context) error {
	var ok bool
	if err := l.bs.run(ctx, l.bs.opts.WaitTimeout, chromedp.Evaluate(scrollScript, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("scroll container: %w", ErrTransientStale)
	}
	return nil
}

func isChromeAvailable() bool {
	paths := []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"}
	for _, path := range paths {
		if _, err := exec.LookPath(path); err == nil {
			return true
		}
	}
	return false
}
