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
	"testing"

	"github.com/stretchr/testify/require"
)

const spctPage = `
<html><body>
<div class="record">
  <div class="time">03:53:41.25</div>
  <p>Start Time 08:00:05.12</p>
  <p>Finish Time 11:53:46.37</p>
</div>
<p>Marathon Full Course</p>
<table><tbody>
  <tr><td>Section 1</td><td>09:27:56.78 (00:26:16.51)</td></tr>
  <tr><td>Section 2</td><td>10:30:00.00 (01:28:19.73)</td></tr>
</tbody></table>
<div class="image-container">
  <img src="https://img.spct.kr/PhotoResultsJPG/images/2025092102/2025092102-045155.jpg">
</div>
</body></html>`

func TestSPCTParse(t *testing.T) {
	p := &spctParser{}
	res, err := p.Parse(context.Background(), spctPage, Context{Host: "time.spct.co.kr"})
	require.NoError(t, err)

	require.Equal(t, "03:53:41.25", res.Summary.TotalNet)
	require.Equal(t, "08:00:05.12", res.Summary.StartTime)
	require.Equal(t, "11:53:46.37", res.Summary.FinishTime)

	// two sections plus the synthesized Finish
	require.Len(t, res.Splits, 3)
	require.Equal(t, "Section 1", res.Splits[0].PointLabel)
	require.Equal(t, "09:27:56.78", res.Splits[0].PassClock)
	require.Equal(t, "00:26:16.51", res.Splits[0].NetTime)

	finish := res.Splits[2]
	require.Equal(t, "Finish", finish.PointLabel)
	require.Equal(t, "03:53:41.25", finish.NetTime)
	require.Equal(t, "11:53:46.37", finish.PassClock)

	require.Len(t, res.Assets, 1)
	require.Equal(t, KindCertificate, res.Assets[0].Kind)
	require.Contains(t, res.Assets[0].URL, "/PhotoResultsJPG/images/")

	require.Equal(t, "Full", res.RaceLabel)
	// 42.1 in the banner snaps to the 42.2 standard
	require.InDelta(t, 42.2, res.RaceTotalKm, 1e-9)
}

func TestSPCTNoSyntheticFinishWhenPresent(t *testing.T) {
	page := `<html><body>
	<div class="record"><div class="time">01:45:00</div></div>
	<table><tbody>
	  <tr><td>Finish</td><td>10:45:00 (01:45:00)</td></tr>
	</tbody></table>
	</body></html>`
	p := &spctParser{}
	res, err := p.Parse(context.Background(), page, Context{Host: "spct.co.kr"})
	require.NoError(t, err)
	require.Len(t, res.Splits, 1)
}

func TestSPCTSkipsTimelessRows(t *testing.T) {
	page := `<html><body><table><tbody>
	  <tr><td>Section 1</td><td>DNS</td></tr>
	</tbody></table></body></html>`
	p := &spctParser{}
	res, err := p.Parse(context.Background(), page, Context{Host: "spct.co.kr"})
	require.NoError(t, err)
	require.Empty(t, res.Splits)
}

func TestExtractEventNo(t *testing.T) {
	require.Equal(t, "2025092102", ExtractEventNo("EVENT_NO=2025092102&TargetYear=2025"))
	require.Equal(t, "2025092102", ExtractEventNo("2025092102"))
	require.Equal(t, "", ExtractEventNo(""))
}

func TestBibVariants(t *testing.T) {
	require.Equal(t, []string{"123", "000123"}, BibVariants("123"))
	require.Equal(t, []string{"001234", "1234"}, BibVariants("001234"))
	require.Equal(t, []string{"ABC123"}, BibVariants("ABC123"))
	require.Empty(t, BibVariants(""))
}
