// Package publish sequences the bridge primitives into the actual
// form-filling workflow: wait for the operator to log in, fill the editor
// fields from an article, and save or publish. It contains no protocol
// logic; everything site-specific comes from the catalog.
package publish

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/inkpress/inkpress/internal/article"
	"github.com/inkpress/inkpress/internal/cdp"
	. "github.com/inkpress/inkpress/internal/logging"
	"github.com/inkpress/inkpress/internal/site"
)

// ErrLoginTimeout reports that the operator never completed the interactive
// login within the catalog's budget. Fatal for the run, but not a transport
// failure; the operator message differs.
var ErrLoginTimeout = errors.New("login wait timed out")

const clickRetries = 3

// Vars so tests can shrink the wait budgets.
var (
	sessionFindTimeout = 15 * time.Second
	editorReadyTimeout = 30 * time.Second
	newTabTimeout      = 30 * time.Second
	loginPollInterval  = 2 * time.Second
	readyPollInterval  = 500 * time.Millisecond
	clickRetryDelay    = time.Second
)

// Publisher drives one publish run over an already-open connection. The
// caller owns the connection and the browser process and releases both.
type Publisher struct {
	conn *cdp.Conn
	site *site.Site
}

// New creates a publisher for one site catalog.
func New(conn *cdp.Conn, s *site.Site) *Publisher {
	return &Publisher{conn: conn, site: s}
}

// Run publishes one article: find the editor tab, wait for login, fill
// title/body/tags, then press save-draft or publish per the article's draft
// flag. On failure a screenshot of the page is saved for diagnosis.
func (p *Publisher) Run(a *article.Article) (err error) {
	sess, err := p.findEditorSession()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			p.captureFailureShot(sess)
		}
	}()

	if err := p.waitForLogin(sess); err != nil {
		return err
	}

	// Login may have redirected; put the editor back in front.
	if err := sess.Navigate(p.site.EditorURL); err != nil {
		return err
	}
	if err := p.waitForEditor(sess); err != nil {
		return err
	}

	if err := p.fillFields(sess, a); err != nil {
		return err
	}

	return p.submit(sess, a)
}

// findEditorSession attaches to the editor tab. The initial tab may still be
// loading, so matching is retried briefly.
func (p *Publisher) findEditorSession() (*cdp.Session, error) {
	var sess *cdp.Session
	err := cdp.Poll(fmt.Sprintf("editor tab matching %q", p.site.URLMatch), sessionFindTimeout, readyPollInterval, func() (bool, error) {
		s, err := cdp.GetPageSession(p.conn, p.site.URLMatch)
		if err != nil {
			return false, err
		}
		sess = s
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// waitForLogin polls the catalog's logged-in expression until the operator
// has a session. This is a human-paced wait with a multi-minute budget.
func (p *Publisher) waitForLogin(sess *cdp.Session) error {
	budget := p.site.ResolveLoginTimeout()
	L_info("publish: waiting for login", "site", p.site.Name, "budget", budget)

	err := sess.WaitFor("operator login", p.site.LoggedInExpr, budget, loginPollInterval)
	if err != nil {
		var wt *cdp.WaitTimeoutError
		if errors.As(err, &wt) {
			return fmt.Errorf("%w after %s: log in to %s in the opened browser window and retry", ErrLoginTimeout, budget, p.site.Name)
		}
		return err
	}

	L_info("publish: logged in", "site", p.site.Name)
	return nil
}

func (p *Publisher) waitForEditor(sess *cdp.Session) error {
	expr := p.site.EditorReadyExpr
	if expr == "" {
		expr = fmt.Sprintf(`document.querySelector(%q) !== null`, p.site.Selectors.Title)
	}
	return sess.WaitFor("editor ready", expr, editorReadyTimeout, readyPollInterval)
}

func (p *Publisher) fillFields(sess *cdp.Session, a *article.Article) error {
	L_info("publish: filling editor", "title", a.Title, "tags", len(a.Tags), "draft", a.Draft)

	if err := p.clickWithRetry(sess, p.site.Selectors.Title); err != nil {
		return fmt.Errorf("title field: %w", err)
	}
	if err := sess.TypeText(a.Title); err != nil {
		return err
	}

	body := a.Content
	if p.site.BodyFormat == "html" {
		html, err := a.HTML()
		if err != nil {
			return err
		}
		body = html
	}
	if err := p.clickWithRetry(sess, p.site.Selectors.Body); err != nil {
		return fmt.Errorf("body field: %w", err)
	}
	if err := sess.TypeText(body); err != nil {
		return err
	}

	if p.site.Selectors.TagsInput != "" && len(a.Tags) > 0 {
		if err := p.clickWithRetry(sess, p.site.Selectors.TagsInput); err != nil {
			return fmt.Errorf("tags field: %w", err)
		}
		for _, tag := range a.Tags {
			// Trailing newline commits each tag with one Enter pair.
			if err := sess.TypeText(tag + "\n"); err != nil {
				return err
			}
		}
	}

	if p.site.Selectors.CategoryInput != "" && a.Category != "" {
		if err := p.clickWithRetry(sess, p.site.Selectors.CategoryInput); err != nil {
			return fmt.Errorf("category field: %w", err)
		}
		if err := sess.TypeText(a.Category); err != nil {
			return err
		}
	}

	return nil
}

func (p *Publisher) submit(sess *cdp.Session, a *article.Article) error {
	button := p.site.Selectors.Publish
	action := "publish"
	if a.Draft && p.site.Selectors.SaveDraft != "" {
		button = p.site.Selectors.SaveDraft
		action = "save draft"
	}

	if err := p.clickWithRetry(sess, button); err != nil {
		return fmt.Errorf("%s button: %w", action, err)
	}
	L_info("publish: pressed", "action", action)

	if a.Draft || p.site.Selectors.Confirm == "" {
		return nil
	}

	if p.site.ConfirmOpensTab {
		known, err := cdp.KnownTargetIDs(p.conn)
		if err != nil {
			return err
		}
		if err := p.clickWithRetry(sess, p.site.Selectors.Confirm); err != nil {
			return fmt.Errorf("confirm button: %w", err)
		}
		tabID, err := cdp.WaitForNewTab(p.conn, known, p.site.ConfirmTabMatch, newTabTimeout)
		if err != nil {
			return err
		}
		L_info("publish: confirmation tab opened", "target", tabID)
		return nil
	}

	if err := p.clickWithRetry(sess, p.site.Selectors.Confirm); err != nil {
		return fmt.Errorf("confirm button: %w", err)
	}
	return nil
}

// clickWithRetry retries element-not-found a bounded number of times; pages
// render fields lazily. Transport failures are not retried.
func (p *Publisher) clickWithRetry(sess *cdp.Session, selector string) error {
	var err error
	for attempt := 0; attempt < clickRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(clickRetryDelay)
		}
		err = sess.ClickElement(selector)
		if err == nil || !errors.Is(err, cdp.ErrElementNotFound) {
			return err
		}
	}
	return err
}

// captureFailureShot saves a screenshot of the page for diagnosis. Best
// effort: a failure here is logged and ignored.
func (p *Publisher) captureFailureShot(sess *cdp.Session) {
	png, err := sess.CaptureScreenshot()
	if err != nil {
		L_debug("publish: failure screenshot unavailable", "error", err)
		return
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("inkpress-%s.png", uuid.NewString()))
	if err := os.WriteFile(path, png, 0600); err != nil {
		L_debug("publish: failed to save screenshot", "error", err)
		return
	}
	L_info("publish: saved failure screenshot", "path", path)
}
