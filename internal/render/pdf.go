package render

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const pdfFooterTemplate = `<div style="font-size:8px;width:100%;text-align:center;color:#7b8794;">Page <span class="pageNumber"></span> of <span class="totalPages"></span></div>`

// PDFRenderer rasterizes rendered manuals with headless Chromium. It waits for
// the page's diagram-ready signal, bounded by DiagramWait, before printing.
type PDFRenderer struct {
	Timeout     time.Duration
	DiagramWait time.Duration
	lookPath    func(string) (string, error)
}

func NewPDFRenderer(timeout time.Duration) *PDFRenderer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &PDFRenderer{Timeout: timeout, DiagramWait: 15 * time.Second, lookPath: exec.LookPath}
}

func (p *PDFRenderer) chromiumPath() (string, error) {
	for _, candidate := range []string{"chromium-browser", "chromium", "google-chrome"} {
		if path, err := p.lookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
}

func (p *PDFRenderer) Render(ctx context.Context, html, filename string) (*Result, error) {
	execPath, err := p.chromiumPath()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	dataURL := "data:text/html;charset=utf-8," + percentEncodeForDataURL(html)

	var pdfData []byte
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			// Diagrams that never report ready still print; the page is otherwise complete.
			var ready bool
			err := chromedp.Poll(`window.__manualDiagramsReady === true`, &ready,
				chromedp.WithPollingTimeout(p.DiagramWait)).Do(ctx)
			if err != nil && !errors.Is(err, chromedp.ErrPollingTimeout) {
				return err
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfData, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.5).
				WithPaperHeight(11.0).
				WithMarginTop(0.9).
				WithMarginBottom(0.9).
				WithMarginLeft(0.75).
				WithMarginRight(0.75).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<span></span>`).
				WithFooterTemplate(pdfFooterTemplate).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chrome pdf generation failed: %w", err)
	}

	return &Result{
		Data:     pdfData,
		Filename: filename,
		MimeType: "application/pdf",
	}, nil
}

// percentEncodeForDataURL encodes spaces as %20 rather than "+".
func percentEncodeForDataURL(s string) string {
	var result strings.Builder
	for _, b := range []byte(s) {
		switch {
		case b >= 'a' && b <= 'z',
			b >= 'A' && b <= 'Z',
			b >= '0' && b <= '9',
			b == '-', b == '_', b == '.', b == '~':
			result.WriteByte(b)
		default:
			fmt.Fprintf(&result, "%%%02X", b)
		}
	}
	return result.String()
}
