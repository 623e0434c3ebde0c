/*
Copyright 2025 Pacewatch Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package parsers

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pacewatch/pacewatch/lib/utils"
)

var parenRx = regexp.MustCompile(`\(([^)]*)\)`)

// spctParser handles spct.co.kr pages: a summary block with the total
// and start/finish clocks, and a section table whose second cell reads
// "HH:MM:SS (HH:MM:SS)" — pass clock outside the parentheses, net time
// inside.
type spctParser struct{}

func (p *spctParser) CanParse(host string) bool {
	return strings.Contains(strings.ToLower(host), "spct.co.kr")
}

func (p *spctParser) Parse(ctx context.Context, body string, pctx Context) (*Result, error) {
	doc, err := docFrom(body)
	if err != nil {
		return nil, err
	}
	summary := extractSPCTSummary(doc)
	splits := extractSPCTSplits(doc)
	splits = ensureFinishSplit(splits, summary)

	res := &Result{
		Splits:  splits,
		Summary: summary,
		Assets:  extractSPCTCertificate(doc, pctx.Host),
	}
	res.RaceLabel, res.RaceTotalKm = distanceFromFullText(doc)
	return res, nil
}

func extractSPCTSummary(doc *goquery.Document) Summary {
	var s Summary
	s.TotalNet = cellText(doc.Find(".record .time").First())
	doc.Find(".record p").Each(func(_ int, p *goquery.Selection) {
		text := cellText(p)
		switch {
		case strings.Contains(text, "Start Time"):
			if t := utils.FirstTime(text); t != "" {
				s.StartTime = t
			}
		case strings.Contains(text, "Finish Time"):
			if t := utils.FirstTime(text); t != "" {
				s.FinishTime = t
			}
		}
	})
	return s
}

func extractSPCTSplits(doc *goquery.Document) []Split {
	splits := []Split{}
	doc.Find("table tbody tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() < 2 {
			return
		}
		label := cellText(tds.Eq(0))
		value := cellText(tds.Eq(1))

		var net string
		if m := parenRx.FindStringSubmatch(value); m != nil {
			net = utils.FirstTime(m[1])
		}
		clock := utils.FirstTime(parenRx.ReplaceAllString(value, " "))
		if net == "" && clock == "" {
			return
		}
		splits = append(splits, Split{
			PointLabel: label,
			PointKm:    kmOf(label),
			NetTime:    net,
			PassClock:  clock,
		})
	})
	return splits
}

// ensureFinishSplit appends a synthetic Finish row when the summary
// carries a total the split table does not.
func ensureFinishSplit(splits []Split, summary Summary) []Split {
	for _, s := range splits {
		label := strings.ToLower(s.PointLabel)
		if strings.Contains(label, "finish") || strings.Contains(s.PointLabel, "도착") {
			return splits
		}
	}
	if summary.TotalNet == "" && summary.FinishTime == "" {
		return splits
	}
	return append(splits, Split{
		PointLabel: "Finish",
		NetTime:    summary.TotalNet,
		PassClock:  summary.FinishTime,
	})
}

func extractSPCTCertificate(doc *goquery.Document, host string) []Asset {
	img := doc.Find(".image-container img").First()
	if img.Length() == 0 {
		img = doc.Find(`img[src*="/PhotoResultsJPG/images/"]`).First()
	}
	src, ok := img.Attr("src")
	if !ok || src == "" {
		return []Asset{}
	}
	return []Asset{{Kind: KindCertificate, Host: host, URL: src}}
}

// distanceFromFullText extracts the race distance from the page's
// whole text, snapped and categorized. Shared by the spct and myresult
// parsers.
func distanceFromFullText(doc *goquery.Document) (string, float64) {
	_, km, ok := utils.ExtractDistanceFromText(utils.CleanLabel(doc.Text()))
	if !ok {
		return "", 0
	}
	km = utils.SnapDistance(km)
	return utils.CategoryFromKm(km), km
}

// ExtractEventNo reduces an spct usedata value to the bare event
// number: "EVENT_NO=2025092102&TargetYear=2025" becomes "2025092102".
func ExtractEventNo(usedata string) string {
	ev := strings.TrimSpace(usedata)
	ev = strings.ReplaceAll(ev, "EVENT_NO=", "")
	ev, _, _ = strings.Cut(ev, "&")
	return strings.TrimSpace(ev)
}

// BibVariants generates the bib formats the spct upstream may require,
// in try order and deduplicated: raw, zero-stripped, 6-padded raw,
// 6-padded stripped. Non-numeric bibs yield only the raw form.
func BibVariants(bib string) []string {
	b := strings.TrimSpace(bib)
	if b == "" {
		return nil
	}
	candidates := []string{b}
	if isAllDigits(b) {
		stripped := strings.TrimLeft(b, "0")
		if stripped == "" {
			stripped = "0"
		}
		candidates = append(candidates, stripped, utils.PadBib6(b), utils.PadBib6(stripped))
	}
	seen := map[string]bool{}
	variants := make([]string, 0, len(candidates))
	for _, v := range candidates {
		if v != "" && !seen[v] {
			seen[v] = true
			variants = append(variants, v)
		}
	}
	return variants
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
