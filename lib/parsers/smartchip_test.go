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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const smartchipV1Page = `
<html><body>
<h6 class="green">Half Course 21km</h6>
<table class="result-table">
  <tr><td>POINT</td><td>TIME</td><td>PASS TIME</td><td>PACE</td></tr>
  <tr><td>5.0km</td><td>00:25:30</td><td>09:25:30</td><td>05:06</td></tr>
  <tr><td>10.0km</td><td>00:51:00</td><td>09:51:00</td><td>05:06</td></tr>
  <tr><td>21.0km</td><td>01:45:00</td><td>10:45:00</td><td>05:00</td></tr>
</table>
<a href="/certificate.asp?bib=10396">기록증</a>
<img src="/photos/livephoto_10396.jpg">
</body></html>`

const smartchipV2Page = `
<html><body><table>
  <tr><th>POINT</th><th>TIME</th><th>TIME OF DAY</th><th>PACE</th></tr>
  <tr><td>5km</td><td>00:26:00</td><td>09:26:00</td><td>05:12</td></tr>
  <tr><td>10km</td><td>00:52:00</td><td>09:52:00</td><td>05:12</td></tr>
</table></body></html>`

const smartchipV3Page = `
<html><body><table>
  <tr><td class="userinfo">43.0Km</td><td class="userinfo">03:40:00</td>
      <td class="userinfo">12:40:00</td><td class="userinfo">05:07</td></tr>
  <tr><td class="userinfo">반환점</td><td class="userinfo">01:50:00</td>
      <td class="userinfo">10:50:00</td><td class="userinfo">05:07</td></tr>
</table></body></html>`

func TestSmartchipV1(t *testing.T) {
	p := &smartchipParser{}
	res, err := p.Parse(context.Background(), smartchipV1Page, Context{Host: "smartchip.co.kr"})
	require.NoError(t, err)
	require.Len(t, res.Splits, 3)
	require.Equal(t, "5.0km", res.Splits[0].PointLabel)
	require.InDelta(t, 5.0, res.Splits[0].PointKm, 1e-9)
	require.Equal(t, "00:25:30", res.Splits[0].NetTime)
	require.Equal(t, "09:25:30", res.Splits[0].PassClock)
	require.Equal(t, "05:06", res.Splits[0].Pace)
	require.Equal(t, StateUnknown, res.State)

	// header says 21km; snapped to the half standard and categorized
	require.InDelta(t, 21.1, res.RaceTotalKm, 1e-9)
	require.Equal(t, "Half", res.RaceLabel)

	require.Len(t, res.Assets, 2)
	require.Equal(t, KindCertificate, res.Assets[0].Kind)
	require.Equal(t, "https://smartchip.co.kr/certificate.asp?bib=10396", res.Assets[0].URL)
	require.Equal(t, KindLivephoto, res.Assets[1].Kind)
}

func TestSmartchipV2HeaderIndexed(t *testing.T) {
	p := &smartchipParser{}
	res, err := p.Parse(context.Background(), smartchipV2Page, Context{Host: "smartchip.co.kr"})
	require.NoError(t, err)
	require.Len(t, res.Splits, 2)
	require.Equal(t, "5km", res.Splits[0].PointLabel)
	require.Equal(t, "00:26:00", res.Splits[0].NetTime)
	require.Equal(t, "09:26:00", res.Splits[0].PassClock)
	// distance falls back to the table maximum
	require.InDelta(t, 10, res.RaceTotalKm, 1e-9)
	require.Equal(t, "10km", res.RaceLabel)
}

func TestSmartchipV3UserinfoRows(t *testing.T) {
	p := &smartchipParser{}
	res, err := p.Parse(context.Background(), smartchipV3Page, Context{Host: "smartchip.co.kr"})
	require.NoError(t, err)
	// the non-km row is dropped
	require.Len(t, res.Splits, 1)
	require.Equal(t, "43.0Km", res.Splits[0].PointLabel)
	require.InDelta(t, 43.0, res.Splits[0].PointKm, 1e-9)
	// 43.0 is within 0.6 of no standard; kept as observed
	require.InDelta(t, 43.0, res.RaceTotalKm, 1e-9)
	require.Equal(t, "Full", res.RaceLabel)
}

func TestSmartchipDistanceFromIframe(t *testing.T) {
	page := `<html><body>
	<iframe id="main_frame" src="/mapsub/nogpx_map_marathon.html?rallyname=10K%20Race&bib=1"></iframe>
	</body></html>`
	p := &smartchipParser{}
	res, err := p.Parse(context.Background(), page, Context{Host: "smartchip.co.kr"})
	require.NoError(t, err)
	require.InDelta(t, 10, res.RaceTotalKm, 1e-9)
	require.Equal(t, "10km", res.RaceLabel)
}

func TestSmartchipStartOnlyDistanceDiscarded(t *testing.T) {
	page := `<html><body><table class="result-table">
	<tr><td>POINT</td><td>TIME</td><td>PASS TIME</td><td>PACE</td></tr>
	<tr><td>0.0km</td><td>00:00:00</td><td>09:00:00</td><td></td></tr>
	</table></body></html>`
	p := &smartchipParser{}
	res, err := p.Parse(context.Background(), page, Context{Host: "smartchip.co.kr"})
	require.NoError(t, err)
	require.Zero(t, res.RaceTotalKm)
	require.Empty(t, res.RaceLabel)
}

func TestSmartchipDualPathResolution(t *testing.T) {
	fetched := []string{}
	fetch := func(ctx context.Context, url string, timeout time.Duration) (string, error) {
		fetched = append(fetched, url)
		// only the finished page carries a split table
		if strings.Contains(url, "return_data_livephoto") {
			return smartchipV1Page, nil
		}
		return "<html><body>no table yet</body></html>", nil
	}
	p := &smartchipParser{}
	res, err := p.Parse(context.Background(), "", Context{
		Host:    "smartchip.co.kr",
		Usedata: "202550000158",
		Bib:     "10396",
		Fetch:   fetch,
	})
	require.NoError(t, err)
	require.Equal(t, StateFinished, res.State)
	require.Len(t, res.Splits, 3)
	require.Len(t, fetched, 2)
	require.Contains(t, fetched[0], "https://smartchip.co.kr/Expectedrecord_data.asp")
	require.Contains(t, fetched[0], "usedata=202550000158")
	require.Contains(t, fetched[0], "nameorbibno=10396")
	require.Contains(t, fetched[1], "https://smartchip.co.kr/return_data_livephoto.asp")
}

func TestSmartchipDualPathNoTable(t *testing.T) {
	fetch := func(ctx context.Context, url string, timeout time.Duration) (string, error) {
		return "<html><body>nothing here</body></html>", nil
	}
	p := &smartchipParser{}
	res, err := p.Parse(context.Background(), "", Context{
		Host:    "smartchip.co.kr",
		Usedata: "1",
		Bib:     "2",
		Fetch:   fetch,
	})
	require.NoError(t, err)
	require.Equal(t, StateInProgressNoTable, res.State)
	require.Empty(t, res.Splits)
}

func TestHasSplitTable(t *testing.T) {
	for _, page := range []string{smartchipV1Page, smartchipV2Page, smartchipV3Page} {
		doc, err := docFrom(page)
		require.NoError(t, err)
		require.True(t, hasSplitTable(doc))
	}
	doc, err := docFrom("<html><body><table><tr><td>x</td></tr></table></body></html>")
	require.NoError(t, err)
	require.False(t, hasSplitTable(doc))
}
