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
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pacewatch/pacewatch/lib/utils"
)

// ParseGenericTable extracts splits from arbitrary result tables: the
// first cell is the label, the first time-shaped token in the rest is
// the net time and the second the pass clock. Used for hosts without a
// dedicated parser and as the error fallback.
func ParseGenericTable(body string) *Result {
	res := &Result{Splits: []Split{}, Assets: []Asset{}}
	doc, err := docFrom(body)
	if err != nil {
		return res
	}
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("th, td")
		if cells.Length() < 2 {
			return
		}
		label := cellText(cells.First())
		var rest []string
		cells.Slice(1, cells.Length()).Each(func(_ int, c *goquery.Selection) {
			rest = append(rest, cellText(c))
		})
		times := utils.AllTimes(strings.Join(rest, " "))
		if len(times) == 0 {
			return
		}
		split := Split{
			PointLabel: label,
			PointKm:    kmOf(label),
			NetTime:    times[0],
		}
		if len(times) > 1 {
			split.PassClock = times[1]
		}
		res.Splits = append(res.Splits, split)
	})
	return res
}
