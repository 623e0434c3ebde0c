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
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pacewatch/pacewatch/lib/browser"
	"github.com/pacewatch/pacewatch/lib/utils"
)

// JSON node keys matched case-insensitively by substring. Label keys
// never contain "name" — participant names would match otherwise.
var (
	jsonLabelKeys = []string{"구간명", "섹션", "지점", "label", "section"}
	jsonClockKeys = []string{"통과시간", "시각", "clock", "passtime", "pass_time"}
	jsonAccKeys   = []string{"누적기록", "누적", "acc", "acctime", "total", "cumulative"}
)

// myresultParser handles myresult.co.kr, an Ant Design app whose rows
// are rendered client side. The browser worker may hand back the DOM
// or a captured JSON payload; both paths converge on the same splits.
type myresultParser struct{}

func (p *myresultParser) CanParse(host string) bool {
	return strings.Contains(strings.ToLower(host), "myresult.co.kr")
}

func (p *myresultParser) Parse(ctx context.Context, body string, pctx Context) (*Result, error) {
	if strings.HasPrefix(body, browser.JSONPrefix) {
		return parseMyresultJSON(strings.TrimPrefix(body, browser.JSONPrefix)), nil
	}
	return p.parseHTML(body, pctx.Host)
}

func (p *myresultParser) parseHTML(body, host string) (*Result, error) {
	doc, err := docFrom(body)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Splits: extractMyresultRows(doc),
		Assets: extractMyresultCertificates(doc, host),
	}
	res.RaceLabel, res.RaceTotalKm = distanceFromFullText(doc)
	return res, nil
}

// extractMyresultRows reads the Ant Design table: each row carries
// label, pass clock, segment time and cumulative time columns; the
// cumulative column is the net time.
func extractMyresultRows(doc *goquery.Document) []Split {
	splits := []Split{}
	doc.Find(".table-row.ant-row").Each(func(_ int, row *goquery.Selection) {
		cols := row.Find(".ant-col")
		if cols.Length() < 4 {
			return
		}
		label := cleanCell(cellText(cols.Eq(0)))
		clock := utils.FirstTime(cleanCell(cellText(cols.Eq(1))))
		net := utils.FirstTime(cleanCell(cellText(cols.Eq(3))))
		if clock == "" && net == "" {
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

// cleanCell drops the placeholder dashes empty cells render as.
func cleanCell(s string) string {
	switch strings.TrimSpace(s) {
	case "-", "—", "–":
		return ""
	}
	return strings.TrimSpace(s)
}

// parseMyresultJSON walks a captured JSON payload for split-shaped
// objects. The payload's shape varies by event, so any object carrying
// a label key and a time key counts as a split.
func parseMyresultJSON(payload string) *Result {
	res := &Result{Splits: []Split{}, Assets: []Asset{}}
	var root any
	if err := json.Unmarshal([]byte(payload), &root); err != nil {
		return res
	}
	walkJSON(root, func(obj map[string]any) {
		label := labelFromObject(obj)
		clock := timeFromObject(obj, jsonClockKeys)
		acc := timeFromObject(obj, jsonAccKeys)
		if label == "" || (clock == "" && acc == "") {
			return
		}
		res.Splits = append(res.Splits, Split{
			PointLabel: label,
			PointKm:    kmOf(label),
			NetTime:    acc,
			PassClock:  clock,
		})
	})
	seen := map[string]bool{}
	walkJSON(root, func(obj map[string]any) {
		for _, k := range sortedKeys(obj) {
			if s, ok := obj[k].(string); ok && strings.Contains(s, "/upload/certificate/") && !seen[s] {
				seen[s] = true
				res.Assets = append(res.Assets, Asset{
					Kind: KindCertificate,
					Host: "myresult.co.kr",
					URL:  s,
				})
			}
		}
	})
	return res
}

// walkJSON visits every object in a decoded JSON tree. Object keys are
// visited in sorted order so extraction is deterministic.
func walkJSON(node any, visit func(map[string]any)) {
	switch v := node.(type) {
	case map[string]any:
		visit(v)
		for _, k := range sortedKeys(v) {
			walkJSON(v[k], visit)
		}
	case []any:
		for _, item := range v {
			walkJSON(item, visit)
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func labelFromObject(obj map[string]any) string {
	for _, k := range sortedKeys(obj) {
		v, ok := obj[k].(string)
		if !ok {
			continue
		}
		low := strings.ToLower(k)
		if strings.Contains(low, "name") {
			continue
		}
		for _, want := range jsonLabelKeys {
			if strings.Contains(low, want) {
				return v
			}
		}
	}
	return ""
}

func timeFromObject(obj map[string]any, wanted []string) string {
	for _, k := range sortedKeys(obj) {
		low := strings.ToLower(k)
		for _, want := range wanted {
			if strings.Contains(low, want) {
				if t := utils.FirstTime(fmt.Sprint(obj[k])); t != "" {
					return t
				}
			}
		}
	}
	return ""
}

func extractMyresultCertificates(doc *goquery.Document, host string) []Asset {
	base := "https://www.myresult.co.kr"
	if host != "" {
		base = "https://" + host
	}
	assets := []Asset{}
	seen := map[string]bool{}
	add := func(ref string) {
		u := joinURL(base, ref)
		if u != "" && !seen[u] {
			seen[u] = true
			assets = append(assets, Asset{Kind: KindCertificate, Host: host, URL: u})
		}
	}
	doc.Find(`img[src*="/upload/certificate/"]`).Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok {
			add(src)
		}
	})
	doc.Find(`a[href*="/upload/certificate/"]`).Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok {
			add(href)
		}
	})
	return assets
}

// ExtractTotalNetTime reads the race-total statistic from a myresult
// page: the ant-statistic block titled 대회기록.
func ExtractTotalNetTime(body string) string {
	doc, err := docFrom(body)
	if err != nil {
		return ""
	}
	total := ""
	doc.Find(".ant-statistic").EachWithBreak(func(_ int, stat *goquery.Selection) bool {
		title := cellText(stat.Find(".ant-statistic-title").First())
		if !strings.Contains(title, "대회기록") {
			return true
		}
		value := cellText(stat.Find(".ant-statistic-content .ant-statistic-content-value").First())
		if t := utils.FirstTime(value); t != "" {
			total = t
			return false
		}
		return true
	})
	return total
}

// ExtractFinishClock reads the 도착 row's pass clock from a myresult
// page, or "".
func ExtractFinishClock(body string) string {
	doc, err := docFrom(body)
	if err != nil {
		return ""
	}
	clock := ""
	doc.Find(".table-row.ant-row").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cols := row.Find(".ant-col")
		if cols.Length() < 4 {
			return true
		}
		if !strings.Contains(cellText(cols.Eq(0)), "도착") {
			return true
		}
		clock = utils.FirstTime(cellText(cols.Eq(1)))
		return false
	})
	return clock
}

// HasFinishRow reports whether a split set already carries a Finish
// row.
func HasFinishRow(splits []Split) bool {
	for _, s := range splits {
		if strings.EqualFold(strings.TrimSpace(s.PointLabel), "finish") {
			return true
		}
	}
	return false
}
