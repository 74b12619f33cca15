// Package wiki scrapes the population domain from a rendered Wikipedia list
// page using headless Chrome.
package wiki

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"insights-pipeline/models"
	"insights-pipeline/utils"
)

// DefaultPopulationURL lists countries and dependencies by population.
const DefaultPopulationURL = "https://en.wikipedia.org/wiki/List_of_countries_by_population"

// Options configures a PopulationSource.
type Options struct {
	URL        string
	ChromeBin  string
	Limit      int
	MaxRetries int
	Timeout    time.Duration
}

// PopulationSource extracts (entity, population) pairs from the first
// wikitable of the configured page.
type PopulationSource struct {
	opts   Options
	logger *utils.Logger
	retry  *utils.RetryConfig
	now    func() time.Time
}

func NewPopulationSource(opts Options, logger *utils.Logger) *PopulationSource {
	if opts.URL == "" {
		opts.URL = DefaultPopulationURL
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &PopulationSource{
		opts:   opts,
		logger: logger,
		retry: &utils.RetryConfig{
			MaxAttempts: opts.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
		now: time.Now,
	}
}

func (s *PopulationSource) Domain() models.Domain { return models.DomainPopulation }

// Collect renders the page and returns one row per distinct entity, stamped
// with the scrape date.
func (s *PopulationSource) Collect(ctx context.Context) (*models.Table, error) {
	chromeBin := findChromeBinary(s.opts.ChromeBin)
	s.logger.Info("[population] using browser binary: %q", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...any) {}))
	defer cancelBrowser()

	var cells [][]string
	err := s.retry.Do(ctx, "population-page", func(context.Context) error {
		tabCtx, cancel := chromedp.NewContext(browserCtx)
		defer cancel()
		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, s.opts.Timeout)
		defer cancelTimeout()

		cells = nil
		err := chromedp.Run(tabCtx,
			chromedp.Navigate(s.opts.URL),
			chromedp.WaitReady("table.wikitable", chromedp.ByQuery),
			chromedp.Evaluate(extractTableJS, &cells),
		)
		if err != nil {
			return fmt.Errorf("chromedp population table: %w", err)
		}
		if len(cells) == 0 {
			return fmt.Errorf("no rows in the population table")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows := parseRows(cells, s.opts.Limit)
	s.logger.Info("[population] scraped %d entities from %d table rows", len(rows), len(cells))
	return s.table(rows), nil
}

// extractTableJS returns the cell texts of every body row of the first wikitable.
const extractTableJS = `
(function() {
	var table = document.querySelector('table.wikitable');
	if (!table) return [];
	var out = [];
	var rows = table.querySelectorAll('tr');
	for (var i = 0; i < rows.length; i++) {
		var cells = rows[i].querySelectorAll('td, th');
		if (rows[i].querySelectorAll('td').length === 0) continue;
		var texts = [];
		for (var j = 0; j < cells.length; j++) {
			texts.push((cells[j].innerText || '').trim());
		}
		out.push(texts);
	}
	return out;
})()
`

type populationRow struct {
	entity     string
	population float64
}

var (
	footnotePattern = regexp.MustCompile(`\[[^\]]*\]`)
	numberPattern   = regexp.MustCompile(`^[\d,\s.]+$`)
	letterPattern   = regexp.MustCompile(`\p{L}`)
)

// parseRows picks the entity and population out of each table row: the entity
// is the first cell containing a letter (rank columns are skipped), the
// population the first numeric cell after it. Rows without both, aggregate
// rows such as "World", and repeated entities are dropped.
func parseRows(cells [][]string, limit int) []populationRow {
	seen := utils.NewKeySet()
	var out []populationRow
	for _, row := range cells {
		if seen.Size() >= limit {
			break
		}
		entityIdx := -1
		for i, c := range row {
			if letterPattern.MatchString(cleanEntity(c)) {
				entityIdx = i
				break
			}
		}
		if entityIdx < 0 {
			continue
		}
		entity := cleanEntity(row[entityIdx])
		key := strings.ToLower(entity)
		if key == "world" || seen.Contains(key) {
			continue
		}
		pop, ok := 0.0, false
		for _, c := range row[entityIdx+1:] {
			if pop, ok = parsePopulation(c); ok {
				break
			}
		}
		if !ok {
			continue
		}
		seen.Add(key)
		out = append(out, populationRow{entity: entity, population: pop})
	}
	return out
}

func stripFootnotes(s string) string {
	return strings.TrimSpace(footnotePattern.ReplaceAllString(s, ""))
}

// cleanEntity removes footnote markers and surrounding punctuation.
func cleanEntity(s string) string {
	return strings.Trim(stripFootnotes(s), " \t\n*†‡")
}

// parsePopulation parses an integer count written with thousands separators.
func parsePopulation(s string) (float64, bool) {
	s = stripFootnotes(s)
	if !numberPattern.MatchString(s) {
		return 0, false
	}
	digits := strings.NewReplacer(",", "", " ", "").Replace(s)
	if i := strings.IndexByte(digits, '.'); i >= 0 {
		digits = digits[:i]
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return float64(n), true
}

func (s *PopulationSource) table(rows []populationRow) *models.Table {
	t := models.NewTable("date")
	y, m, d := s.now().UTC().Date()
	scraped := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for _, r := range rows {
		t.AppendRow(scraped, map[string]float64{"population": r.population}, map[string]string{"entity": r.entity})
	}
	return t
}

// findChromeBinary locates Chrome/Chromium, preferring the configured path.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
