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
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pacewatch/pacewatch/lib/defaults"
	"github.com/pacewatch/pacewatch/lib/utils"
)

// Smartchip progress states.
const (
	StateInProgress        = "in_progress"
	StateFinished          = "finished"
	StateInProgressNoTable = "in_progress_no_table"
	StateFallback          = "fallback"
	StateUnknown           = "unknown"
)

var kmPointRx = regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s*(?:km|k)\b`)

// v2TableHeaders identify the in-progress result table.
var v2TableHeaders = []string{"POINT", "TIME", "TIME OF DAY", "PACE"}

// smartchipParser handles smartchip.co.kr pages. The provider serves
// three table formats and splits results over an in-progress page and
// a finished page; when the race identifiers are known the parser
// resolves the right page itself.
type smartchipParser struct{}

func (p *smartchipParser) CanParse(host string) bool {
	return strings.Contains(strings.ToLower(host), "smartchip.co.kr")
}

func (p *smartchipParser) Parse(ctx context.Context, body string, pctx Context) (*Result, error) {
	var doc *goquery.Document
	state := StateUnknown
	resolved := false
	if pctx.Usedata != "" && pctx.Bib != "" && pctx.Fetch != nil {
		doc, state = p.resolveDetail(ctx, pctx)
		resolved = true
	}
	if doc == nil {
		d, err := docFrom(body)
		if err != nil {
			return nil, err
		}
		doc = d
		if resolved {
			state = StateFallback
		}
	}

	res := p.parseTable(doc)
	res.Assets = p.extractAssets(doc, pctx.Host)
	res.RaceLabel, res.RaceTotalKm = p.inferDistance(doc, res.Splits)
	res.State = state
	return res, nil
}

// resolveDetail fetches the in-progress page and then the finished
// page, each over https and then http; the first one carrying a split
// table wins.
func (p *smartchipParser) resolveDetail(ctx context.Context, pctx Context) (*goquery.Document, string) {
	host := pctx.Host
	if host == "" {
		host = "smartchip.co.kr"
	}
	inProgress := fmt.Sprintf("/Expectedrecord_data.asp?usedata=%s&nameorbibno=%s",
		url.QueryEscape(pctx.Usedata), url.QueryEscape(pctx.Bib))
	finished := fmt.Sprintf("/return_data_livephoto.asp?usedata=%s&nameorbibno=%s",
		url.QueryEscape(pctx.Usedata), url.QueryEscape(pctx.Bib))

	doc1 := p.fetchBothSchemes(ctx, host, inProgress, pctx.Fetch)
	if doc1 != nil && hasSplitTable(doc1) {
		return doc1, StateInProgress
	}
	doc2 := p.fetchBothSchemes(ctx, host, finished, pctx.Fetch)
	if doc2 != nil && hasSplitTable(doc2) {
		return doc2, StateFinished
	}
	if doc1 != nil {
		return doc1, StateInProgressNoTable
	}
	if doc2 != nil {
		return doc2, StateInProgressNoTable
	}
	return nil, StateUnknown
}

func (p *smartchipParser) fetchBothSchemes(ctx context.Context, host, path string, fetch FetchFunc) *goquery.Document {
	for _, scheme := range []string{"https://", "http://"} {
		body, err := fetch(ctx, scheme+host+path, defaults.FetchTimeout)
		if err != nil || body == "" {
			continue
		}
		doc, err := docFrom(body)
		if err != nil {
			continue
		}
		return doc
	}
	return nil
}

// parseTable tries the three table formats in priority order.
func (p *smartchipParser) parseTable(doc *goquery.Document) *Result {
	if res := p.parseTableV1(doc); len(res.Splits) > 0 {
		return res
	}
	if res := p.parseTableV2(doc); len(res.Splits) > 0 {
		return res
	}
	return p.parseTableV3(doc)
}

// parseTableV1 handles the classic format: table.result-table with a
// positional header row POINT | TIME | PASS TIME | PACE.
func (p *smartchipParser) parseTableV1(doc *goquery.Document) *Result {
	res := &Result{Splits: []Split{}, Assets: []Asset{}}
	table := doc.Find("table.result-table").First()
	if table.Length() == 0 {
		return res
	}
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return // header
		}
		tds := tr.Find("td")
		if tds.Length() < 4 {
			return
		}
		point := cellText(tds.Eq(0))
		res.Splits = append(res.Splits, Split{
			PointLabel: point,
			PointKm:    kmOf(point),
			NetTime:    cellText(tds.Eq(1)),
			PassClock:  cellText(tds.Eq(2)),
			Pace:       cellText(tds.Eq(3)),
		})
	})
	return res
}

// parseTableV2 handles the in-progress format: columns located by a
// POINT | TIME | TIME OF DAY | PACE header row.
func (p *smartchipParser) parseTableV2(doc *goquery.Document) *Result {
	res := &Result{Splits: []Split{}, Assets: []Asset{}}
	table, header := findTableWithHeaders(doc, v2TableHeaders)
	if table == nil {
		return res
	}
	colIdx := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		return -1
	}
	pointCol, netCol := colIdx("POINT"), colIdx("TIME")
	clockCol, paceCol := colIdx("TIME OF DAY"), colIdx("PACE")

	dataStarted := false
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cols := rowCells(tr)
		if !dataStarted {
			for _, c := range cols {
				if isV2Header(strings.ToUpper(c)) {
					dataStarted = true
					break
				}
			}
			return
		}
		if len(cols) == 0 {
			return
		}
		point := colValue(cols, pointCol)
		net := colValue(cols, netCol)
		clock := colValue(cols, clockCol)
		pace := colValue(cols, paceCol)
		if point == "" || (net == "" && clock == "" && pace == "") {
			return
		}
		res.Splits = append(res.Splits, Split{
			PointLabel: point,
			PointKm:    kmOf(point),
			NetTime:    net,
			PassClock:  clock,
			Pace:       pace,
		})
	})
	return res
}

// parseTableV3 handles rows of td.userinfo cells whose first cell is a
// km-shaped label.
func (p *smartchipParser) parseTableV3(doc *goquery.Document) *Result {
	res := &Result{Splits: []Split{}, Assets: []Asset{}}
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td.userinfo")
		if tds.Length() < 4 {
			return
		}
		point := cellText(tds.Eq(0))
		if !kmPointRx.MatchString(point) {
			return
		}
		net := cellText(tds.Eq(1))
		clock := cellText(tds.Eq(2))
		res.Splits = append(res.Splits, Split{
			PointLabel: point,
			PointKm:    kmOf(point),
			NetTime:    firstTimeOr(net),
			PassClock:  firstTimeOr(clock),
			Pace:       cellText(tds.Eq(3)),
		})
	})
	return res
}

func (p *smartchipParser) extractAssets(doc *goquery.Document, host string) []Asset {
	if host == "" {
		host = "smartchip.co.kr"
	}
	assets := []Asset{}
	seen := map[string]bool{}
	doc.Find(`a[href*="certificate"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		u := joinURL("https://"+host, href)
		if u != "" && !seen[u] {
			seen[u] = true
			assets = append(assets, Asset{Kind: KindCertificate, Host: host, URL: u})
		}
	})
	doc.Find(`img[src*="livephoto"]`).Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		u := joinURL("https://"+host, src)
		if u != "" && !seen[u] {
			seen[u] = true
			assets = append(assets, Asset{Kind: KindLivephoto, Host: host, URL: u})
		}
	})
	return assets
}

// inferDistance tries the page header, the map iframe's rallyname
// parameter and finally the table's maximum point km. Values under
// 1 km mean a start-only table and are discarded.
func (p *smartchipParser) inferDistance(doc *goquery.Document, splits []Split) (string, float64) {
	label, km := distanceFromHeader(doc)
	if km == 0 {
		label, km = distanceFromIframe(doc)
	}
	if km == 0 {
		for _, s := range splits {
			if s.PointKm > km {
				km = s.PointKm
			}
		}
		if km > 0 && label == "" {
			label = fmt.Sprintf("%gK", km)
		}
	}
	if km > 0 && km < 1.0 {
		return "", 0
	}
	if km > 0 {
		km = utils.SnapDistance(km)
		label = utils.CategoryFromKm(km)
	}
	return label, km
}

func distanceFromHeader(doc *goquery.Document) (string, float64) {
	var label string
	var km float64
	doc.Find("h6.green, .green, h6").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		l, k, ok := utils.ExtractDistanceFromText(cellText(el))
		if ok {
			label, km = l, k
			return false
		}
		return true
	})
	return label, km
}

func distanceFromIframe(doc *goquery.Document) (string, float64) {
	iframe := doc.Find(`iframe#main_frame[src*="rallyname="], iframe[src*="rallyname="]`).First()
	src, ok := iframe.Attr("src")
	if !ok {
		return "", 0
	}
	u, err := url.Parse(src)
	if err != nil {
		return "", 0
	}
	label, km, ok := utils.ExtractDistanceFromText(u.Query().Get("rallyname"))
	if !ok {
		return "", 0
	}
	return label, km
}

// hasSplitTable reports whether any of the three table formats is
// present with at least one data row.
func hasSplitTable(doc *goquery.Document) bool {
	if doc.Find("table.result-table").Length() > 0 {
		return doc.Find("table.result-table tr").Length() >= 2
	}
	found := false
	doc.Find("table tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		headers := map[string]bool{}
		tr.Find("td,th").Each(func(_ int, c *goquery.Selection) {
			headers[strings.ToUpper(cellText(c))] = true
		})
		all := true
		for _, h := range v2TableHeaders {
			if !headers[h] {
				all = false
				break
			}
		}
		if all {
			found = true
			return false
		}
		tds := tr.Find("td.userinfo")
		if tds.Length() >= 4 && kmPointRx.MatchString(cellText(tds.Eq(0))) {
			found = true
			return false
		}
		return true
	})
	return found
}

// findTableWithHeaders locates the first table whose header row carries
// all required headers, returning the table and the uppercased header
// cells in order.
func findTableWithHeaders(doc *goquery.Document, required []string) (*goquery.Selection, []string) {
	var table *goquery.Selection
	var header []string
	doc.Find("table tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cols := rowCells(tr)
		upper := make([]string, len(cols))
		set := map[string]bool{}
		for i, c := range cols {
			upper[i] = strings.ToUpper(c)
			set[upper[i]] = true
		}
		for _, r := range required {
			if !set[r] {
				return true
			}
		}
		table = tr.Closest("table")
		header = upper
		return false
	})
	return table, header
}

func rowCells(tr *goquery.Selection) []string {
	var cols []string
	tr.Find("td,th").Each(func(_ int, c *goquery.Selection) {
		cols = append(cols, cellText(c))
	})
	return cols
}

func colValue(cols []string, idx int) string {
	if idx < 0 || idx >= len(cols) {
		return ""
	}
	return cols[idx]
}

func isV2Header(s string) bool {
	for _, h := range v2TableHeaders {
		if s == h {
			return true
		}
	}
	return false
}

// firstTimeOr returns the first time token in s, or s itself.
func firstTimeOr(s string) string {
	if t := utils.FirstTime(s); t != "" {
		return t
	}
	return strings.TrimSpace(s)
}

// joinURL resolves a possibly relative reference against a base URL.
func joinURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
