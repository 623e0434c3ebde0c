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

	"github.com/pacewatch/pacewatch/lib/browser"
)

const myresultPage = `
<html><body>
<div class="ant-statistic">
  <div class="ant-statistic-title">대회기록</div>
  <div class="ant-statistic-content"><span class="ant-statistic-content-value">03:10:00</span></div>
</div>
<div class="table-row ant-row">
  <div class="ant-col">5km</div><div class="ant-col">09:25:30</div>
  <div class="ant-col">00:25:30</div><div class="ant-col">00:25:30</div>
</div>
<div class="table-row ant-row">
  <div class="ant-col">10km</div><div class="ant-col">09:51:00</div>
  <div class="ant-col">00:25:30</div><div class="ant-col">00:51:00</div>
</div>
<div class="table-row ant-row">
  <div class="ant-col">반환점</div><div class="ant-col">-</div>
  <div class="ant-col">-</div><div class="ant-col">-</div>
</div>
<div class="table-row ant-row">
  <div class="ant-col">도착</div><div class="ant-col">12:10:00</div>
  <div class="ant-col">01:19:00</div><div class="ant-col">03:10:00</div>
</div>
<img src="/upload/certificate/202504m/10396">
</body></html>`

func TestMyresultHTML(t *testing.T) {
	p := &myresultParser{}
	res, err := p.Parse(context.Background(), myresultPage, Context{Host: "myresult.co.kr"})
	require.NoError(t, err)

	// the dash-only row carries no times and is dropped
	require.Len(t, res.Splits, 3)

	first := res.Splits[0]
	require.Equal(t, "5km", first.PointLabel)
	require.InDelta(t, 5.0, first.PointKm, 1e-9)
	require.Equal(t, "09:25:30", first.PassClock)
	// net time comes from the cumulative column, not the segment one
	require.Equal(t, "00:25:30", first.NetTime)

	last := res.Splits[2]
	require.Equal(t, "도착", last.PointLabel)
	require.Equal(t, "12:10:00", last.PassClock)
	require.Equal(t, "03:10:00", last.NetTime)

	require.Len(t, res.Assets, 1)
	require.Equal(t, KindCertificate, res.Assets[0].Kind)
	require.Equal(t, "https://myresult.co.kr/upload/certificate/202504m/10396", res.Assets[0].URL)
}

func TestMyresultJSONCapture(t *testing.T) {
	payload := browser.JSONPrefix + `{
		"runner": {"name": "홍길동"},
		"records": [
			{"label": "5km", "clock": "09:25:30", "acc": "00:25:30"},
			{"section": "반환점", "passtime": "10:50:00", "acctime": "01:50:00"},
			{"label": "Finish", "clock": "12:10:00", "total": "03:10:00"}
		],
		"cert": {"url": "https://myresult.co.kr/upload/certificate/202504m/10396"}
	}`
	p := &myresultParser{}
	res, err := p.Parse(context.Background(), payload, Context{Host: "myresult.co.kr"})
	require.NoError(t, err)

	require.Len(t, res.Splits, 3)
	require.Equal(t, "5km", res.Splits[0].PointLabel)
	require.Equal(t, "09:25:30", res.Splits[0].PassClock)
	require.Equal(t, "00:25:30", res.Splits[0].NetTime)
	require.Equal(t, "반환점", res.Splits[1].PointLabel)
	require.Equal(t, "01:50:00", res.Splits[1].NetTime)
	require.Equal(t, "Finish", res.Splits[2].PointLabel)
	require.Equal(t, "03:10:00", res.Splits[2].NetTime)

	require.Len(t, res.Assets, 1)
	require.Contains(t, res.Assets[0].URL, "/upload/certificate/")
}

func TestMyresultJSONIgnoresNameKeys(t *testing.T) {
	// "name" keys never become labels even when a label key is absent
	payload := browser.JSONPrefix + `[{"name": "5km", "clock": "09:25:30"}]`
	p := &myresultParser{}
	res, err := p.Parse(context.Background(), payload, Context{})
	require.NoError(t, err)
	require.Empty(t, res.Splits)
}

func TestMyresultJSONMalformed(t *testing.T) {
	p := &myresultParser{}
	res, err := p.Parse(context.Background(), browser.JSONPrefix+`{not json`, Context{})
	require.NoError(t, err)
	require.NotNil(t, res.Splits)
	require.Empty(t, res.Splits)
}

func TestExtractTotalNetTime(t *testing.T) {
	require.Equal(t, "03:10:00", ExtractTotalNetTime(myresultPage))
	require.Empty(t, ExtractTotalNetTime("<html><body></body></html>"))
}

func TestExtractFinishClock(t *testing.T) {
	require.Equal(t, "12:10:00", ExtractFinishClock(myresultPage))
	require.Empty(t, ExtractFinishClock("<html><body></body></html>"))
}

func TestHasFinishRow(t *testing.T) {
	require.True(t, HasFinishRow([]Split{{PointLabel: "Finish"}}))
	require.True(t, HasFinishRow([]Split{{PointLabel: " finish "}}))
	require.False(t, HasFinishRow([]Split{{PointLabel: "도착"}}))
	require.False(t, HasFinishRow(nil))
}
