package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
	"github.com/tebeka/selenium/firefox"
)

// SeleniumOptions selects the WebDriver binary behind a SeleniumSession.
type SeleniumOptions struct {
	Browser    string // "chrome" or "firefox"
	DriverPath string
	Port       int
}

// SeleniumSession drives a browser through a local chromedriver or
// geckodriver.
type SeleniumSession struct {
	driver    selenium.WebDriver
	service   *selenium.Service
	opts      BrowserOptions
	logger    *logrus.Logger
	closeOnce sync.Once
}

func NewSeleniumSession(sel SeleniumOptions, opts BrowserOptions, logger *logrus.Logger) (*SeleniumSession, error) {
	if sel.Port == 0 {
		sel.Port = 4444
	}
	caps := selenium.Capabilities{"browserName": sel.Browser}
	selenium.SetDebug(false)

	var (
		service *selenium.Service
		err     error
	)
	switch sel.Browser {
	case "firefox":
		args := []string{"--width=1280", "--height=900"}
		if opts.Headless {
			args = append(args, "--headless")
		}
		prefs := map[string]interface{}{
			"intl.accept_languages": opts.Language,
			"dom.webdriver.enabled": false,
		}
		if opts.UserAgent != "" {
			prefs["general.useragent.override"] = opts.UserAgent
		}
		caps.AddFirefox(firefox.Capabilities{Args: args, Prefs: prefs})
		if sel.DriverPath == "" {
			sel.DriverPath = "geckodriver"
		}
		service, err = selenium.NewGeckoDriverService(sel.DriverPath, sel.Port)
	case "chrome":
		args := []string{
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-gpu",
			"--window-size=1280,900",
			"--lang=" + opts.Language,
		}
		if opts.Headless {
			args = append(args, "--headless=new")
		}
		if opts.UserAgent != "" {
			args = append(args, "--user-agent="+opts.UserAgent)
		}
		caps.AddChrome(chrome.Capabilities{
			Args:  args,
			Prefs: map[string]interface{}{"intl.accept_languages": opts.Language},
		})
		if sel.DriverPath == "" {
			sel.DriverPath = "chromedriver"
		}
		service, err = selenium.NewChromeDriverService(sel.DriverPath, sel.Port)
	default:
		return nil, fmt.Errorf("unsupported selenium browser %q", sel.Browser)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start %s driver service: %w", sel.Browser, err)
	}

	driver, err := selenium.NewRemote(caps, fmt.Sprintf("http://localhost:%d", sel.Port))
	if err != nil {
		service.Stop()
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	logger.Infof("Using %s via %s for browser automation (headless=%v, lang=%s)",
		sel.Browser, sel.DriverPath, opts.Headless, opts.Language)
	return &SeleniumSession{
		driver:  driver,
		service: service,
		opts:    opts,
		logger:  logger,
	}, nil
}

// seleniumErr maps WebDriver error messages onto the scraper's sentinels.
func seleniumErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "stale element reference"):
		return fmt.Errorf("%w: %v", ErrTransientStale, err)
	case strings.Contains(msg, "no such element"):
		return fmt.Errorf("%w: %v", ErrElementNotFound, err)
	case strings.Contains(msg, "timeout"):
		return fmt.Errorf("%w: %v", ErrWaitTimeout, err)
	}
	return err
}

// waitFor polls until xpath resolves to an element.
func (ss *SeleniumSession) waitFor(ctx context.Context, xpath string) (selenium.WebElement, error) {
	var elem selenium.WebElement
	err := ss.driver.WaitWithTimeout(func(wd selenium.WebDriver) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		e, err := wd.FindElement(selenium.ByXPATH, xpath)
		if err != nil {
			return false, nil
		}
		elem = e
		return true, nil
	}, ss.opts.WaitTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrWaitTimeout, xpath, err)
	}
	return elem, nil
}

// clickRequired waits for a structural element and clicks it.
func (ss *SeleniumSession) clickRequired(ctx context.Context, name, xpath string) error {
	elem, err := ss.waitFor(ctx, xpath)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%s: %w", name, ErrElementNotFound)
	}
	if err := elem.Click(); err != nil {
		return fmt.Errorf("%s: %w", name, seleniumErr(err))
	}
	return sleepCtx(ctx, ss.opts.ClickDelay)
}

func (ss *SeleniumSession) Open(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ss.driver.Get(url)
}

func (ss *SeleniumSession) AcceptCookies(ctx context.Context) error {
	return ss.clickRequired(ctx, "cookie consent button", ConsentButtonXPath)
}

func (ss *SeleniumSession) TotalReviewsText(ctx context.Context) (string, error) {
	elem, err := ss.waitFor(ctx, TotalReviewsXPath)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", fmt.Errorf("total reviews: %w", ErrElementNotFound)
	}
	text, err := elem.Text()
	if err != nil {
		return "", seleniumErr(err)
	}
	return text, nil
}

func (ss *SeleniumSession) SortByNewest(ctx context.Context) error {
	if err := ss.clickRequired(ctx, "sort button", SortButtonXPath); err != nil {
		return err
	}
	return ss.clickRequired(ctx, "sort by newest menu item", SortNewestXPath)
}

func (ss *SeleniumSession) Reviews() ReviewList {
	return &seleniumReviewList{ss: ss}
}

// Close quits the browser and stops the driver service. Safe to call more
// than once.
func (ss *SeleniumSession) Close() {
	ss.closeOnce.Do(func() {
		if err := ss.driver.Quit(); err != nil {
			ss.logger.Warnf("Failed to quit browser: %v", err)
		}
		if err := ss.service.Stop(); err != nil {
			ss.logger.Warnf("Failed to stop driver service: %v", err)
		}
	})
}

type seleniumReviewList struct {
	ss *SeleniumSession
}

func (l *seleniumReviewList) cards(ctx context.Context) ([]selenium.WebElement, error) {
	if _, err := l.ss.waitFor(ctx, ScrollContainerXPath); err != nil {
		return nil, err
	}
	elems, err := l.ss.driver.FindElements(selenium.ByCSSSelector, CardSelector)
	if err != nil {
		return nil, seleniumErr(err)
	}
	return elems, nil
}

func (l *seleniumReviewList) Len(ctx context.Context) (int, error) {
	elems, err := l.cards(ctx)
	if err != nil {
		return 0, err
	}
	return len(elems), nil
}

// card re-fetches the card at index and checks it still carries wantID.
func (l *seleniumReviewList) card(ctx context.Context, index int, wantID *string) (selenium.WebElement, error) {
	elems, err := l.cards(ctx)
	if err != nil {
		return nil, err
	}
	if index >= len(elems) {
		return nil, fmt.Errorf("card %d: %w", index, ErrTransientStale)
	}
	card := elems[index]
	// a missing attribute comes back as an error
	id, _ := card.GetAttribute(ReviewIDAttr)
	if wantID != nil && id != *wantID {
		return nil, fmt.Errorf("card %d: %w", index, ErrTransientStale)
	}
	return card, nil
}

func (l *seleniumReviewList) outerHTML(card selenium.WebElement) (string, error) {
	res, err := l.ss.driver.ExecuteScript("return arguments[0].outerHTML;", []interface{}{card})
	if err != nil {
		return "", seleniumErr(err)
	}
	html, _ := res.(string)
	return html, nil
}

// clickWithin clicks the first element under card matching selector and
// reports whether there was one.
func clickWithin(card selenium.WebElement, selector string) (bool, error) {
	buttons, err := card.FindElements(selenium.ByCSSSelector, selector)
	if err != nil {
		return false, seleniumErr(err)
	}
	if len(buttons) == 0 {
		return false, nil
	}
	if err := buttons[0].Click(); err != nil {
		return false, seleniumErr(err)
	}
	return true, nil
}

func (l *seleniumReviewList) Card(ctx context.Context, index int) (CardSnapshot, error) {
	card, err := l.card(ctx, index, nil)
	if err != nil {
		return CardSnapshot{}, err
	}
	id, _ := card.GetAttribute(ReviewIDAttr)

	if _, err := clickWithin(card, ExpandButton); err != nil {
		return CardSnapshot{}, err
	}
	if err := sleepCtx(ctx, l.ss.opts.ClickDelay); err != nil {
		return CardSnapshot{}, err
	}

	card, err = l.card(ctx, index, &id)
	if err != nil {
		return CardSnapshot{}, err
	}
	html, err := l.outerHTML(card)
	if err != nil {
		return CardSnapshot{}, err
	}
	snap := CardSnapshot{Index: index, HTML: html}
	if !l.ss.opts.KeepOriginal {
		return snap, nil
	}

	toggled, err := clickWithin(card, TranslateButton)
	if err != nil || !toggled {
		return snap, err
	}
	if err := sleepCtx(ctx, l.ss.opts.ClickDelay); err != nil {
		return CardSnapshot{}, err
	}
	card, err = l.card(ctx, index, &id)
	if err != nil {
		return CardSnapshot{}, err
	}
	if snap.OriginalHTML, err = l.outerHTML(card); err != nil {
		return CardSnapshot{}, err
	}
	return snap, nil
}

func (l *seleniumReviewList) ScrollToBottom(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := l.ss.driver.ExecuteScript("return "+scrollScript+";", nil)
	if err != nil {
		return seleniumErr(err)
	}
	if ok, _ := res.(bool); !ok {
		return fmt.Errorf("scroll container: %w", ErrTransientStale)
	}
	return nil
}

var (
	_ Session = (*SeleniumSession)(nil)
	_ Session = (*BrowserSession)(nil)
)

