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

package engine

import (
	"fmt"
	"strings"

	"github.com/pacewatch/pacewatch/lib/parsers"
	"github.com/pacewatch/pacewatch/lib/utils"
)

// BuildURL expands a marathon URL template. Supported placeholders:
//
//	{nameorbibno}  the participant's bib or name
//	{usedata}      the upstream race identifier
//	{bib_spct6}    the bib zero padded to six digits (digit bibs only)
func BuildURL(template, nameOrBib, usedata string) string {
	u := strings.ReplaceAll(template, "{nameorbibno}", nameOrBib)
	u = strings.ReplaceAll(u, "{usedata}", usedata)
	if strings.Contains(u, "{bib_spct6}") {
		u = strings.ReplaceAll(u, "{bib_spct6}", utils.PadBib6(nameOrBib))
	}
	return u
}

// InferAssets derives the well-known certificate URLs for providers
// whose result pages do not link them. Needs both the race identifier
// and the bib.
func InferAssets(host, usedata, bib string) []parsers.Asset {
	h := strings.ToLower(host)
	u := strings.TrimSpace(usedata)
	b := strings.TrimSpace(bib)
	if u == "" || b == "" {
		return nil
	}
	switch {
	case strings.Contains(h, "myresult.co.kr"):
		return []parsers.Asset{{
			Kind: parsers.KindCertificate,
			Host: "www.myresult.co.kr",
			URL:  fmt.Sprintf("https://www.myresult.co.kr/upload/certificate/%s/%s.jpg", u, b),
		}}
	case strings.Contains(h, "smartchip.co.kr"):
		return []parsers.Asset{{
			Kind: parsers.KindCertificate,
			Host: "image.smartchip.co.kr",
			URL:  fmt.Sprintf("https://image.smartchip.co.kr/record_data/TriRun_Record.php?Rally_id=%s&Bally_no=%s", u, b),
		}}
	case strings.Contains(h, "spct"):
		// The photo host names certificates by event number, not the
		// full EVENT_NO=... usedata, and the stored bib format varies
		// per event, so every variant is a candidate. Hotlink
		// protection on img.spct.kr wants a referer; the engine passes
		// the results page along with each download job.
		ev := parsers.ExtractEventNo(u)
		if ev == "" {
			return nil
		}
		variants := parsers.BibVariants(b)
		assets := make([]parsers.Asset, 0, len(variants))
		for _, v := range variants {
			assets = append(assets, parsers.Asset{
				Kind: parsers.KindCertificate,
				Host: "img.spct.kr",
				URL:  fmt.Sprintf("https://img.spct.kr/PhotoResultsJPG/images/%s/%s-%s.jpg", ev, ev, v),
			})
		}
		return assets
	}
	return nil
}
