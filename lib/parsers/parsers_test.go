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

// Every registered host must yield a non-nil, fully shaped result on
// input it cannot make sense of.
func TestParseNeverNil(t *testing.T) {
	bodies := []string{"", "<html><body></body></html>", "not html at all"}
	hosts := append(SupportedHosts(), "unknown.example.com")
	for _, host := range hosts {
		for _, body := range bodies {
			res := Parse(context.Background(), body, Context{Host: host})
			require.NotNil(t, res, "host %q body %q", host, body)
			require.NotNil(t, res.Splits, "host %q body %q", host, body)
			require.NotNil(t, res.Assets, "host %q body %q", host, body)
			require.Empty(t, res.Splits, "host %q body %q", host, body)
		}
	}
}

func TestParserFor(t *testing.T) {
	require.IsType(t, &smartchipParser{}, ParserFor("www.smartchip.co.kr"))
	require.IsType(t, &spctParser{}, ParserFor("time.spct.co.kr"))
	require.IsType(t, &myresultParser{}, ParserFor("MyResult.co.kr"))
	require.Nil(t, ParserFor("example.com"))
}

func TestParseGenericTable(t *testing.T) {
	body := `<html><body><table>
	  <tr><th>Point</th><th>Net</th><th>Clock</th></tr>
	  <tr><td>10km</td><td>00:51:00</td><td>09:51:00</td></tr>
	  <tr><td>Note</td><td>no times here</td></tr>
	</table></body></html>`
	res := Parse(context.Background(), body, Context{Host: "example.com"})
	require.Len(t, res.Splits, 1)
	require.Equal(t, "10km", res.Splits[0].PointLabel)
	require.InDelta(t, 10, res.Splits[0].PointKm, 1e-9)
	require.Equal(t, "00:51:00", res.Splits[0].NetTime)
	require.Equal(t, "09:51:00", res.Splits[0].PassClock)
}

func TestEnsureFinishLabelWithTotal(t *testing.T) {
	// a half marathon's 21.0km split is the finish line
	splits := []Split{
		{PointLabel: "10km", PointKm: 10},
		{PointLabel: "21.0km", PointKm: 21.0},
	}
	out := EnsureFinishLabel(splits, 21.1)
	require.Equal(t, "Finish", out[1].PointLabel)
	require.Equal(t, "10km", out[0].PointLabel)

	// idempotent
	out = EnsureFinishLabel(out, 21.1)
	require.Equal(t, "Finish", out[1].PointLabel)
}

func TestEnsureFinishLabelWithoutTotal(t *testing.T) {
	splits := []Split{{PointLabel: "42.0km", PointKm: 42.0}}
	out := EnsureFinishLabel(splits, 0)
	require.Equal(t, "Finish", out[0].PointLabel)

	// below the marathon band nothing is promoted
	splits = []Split{{PointLabel: "30km", PointKm: 30}}
	out = EnsureFinishLabel(splits, 0)
	require.Equal(t, "30km", out[0].PointLabel)
}

func TestEnsureFinishLabelMidCourse(t *testing.T) {
	// far from the total: no promotion
	splits := []Split{{PointLabel: "10km", PointKm: 10}}
	out := EnsureFinishLabel(splits, 42.2)
	require.Equal(t, "10km", out[0].PointLabel)
}

func TestEnsureFinishLabelKeepsKoreanFinish(t *testing.T) {
	splits := []Split{{PointLabel: "도착", PointKm: 42.2}}
	out := EnsureFinishLabel(splits, 42.2)
	require.Equal(t, "도착", out[0].PointLabel)
}

func TestEnsureFinishLabelEmpty(t *testing.T) {
	require.Empty(t, EnsureFinishLabel(nil, 42.2))
}
