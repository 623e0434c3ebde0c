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

package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/pacewatch/pacewatch/lib/defaults"
)

// GenJoinCode generates a join code of the given length from the
// confusion-safe alphabet using a cryptographic source.
func GenJoinCode(length int) (string, error) {
	if length <= 0 {
		length = defaults.JoinCodeLength
	}
	out := make([]byte, length)
	max := big.NewInt(int64(len(defaults.JoinCodeAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", trace.Wrap(err)
		}
		out[i] = defaults.JoinCodeAlphabet[n.Int64()]
	}
	return string(out), nil
}

// JoinCodeExpiry returns the expiry instant for a code issued now.
func JoinCodeExpiry(now time.Time) time.Time {
	return now.UTC().Add(defaults.JoinCodeTTL)
}

// NormalizeBibForHost applies the spct bib rule: numeric bibs on spct
// hosts are stored zero-padded to six digits; everything else is kept
// verbatim. Idempotent.
func NormalizeBibForHost(host, bib string) string {
	if !strings.Contains(strings.ToLower(host), "spct") {
		return bib
	}
	return PadBib6(bib)
}

// PadBib6 left-pads an all-digit bib to six characters; non-numeric bibs
// pass through unchanged.
func PadBib6(bib string) string {
	if bib == "" || !isDigits(bib) {
		return bib
	}
	for len(bib) < 6 {
		bib = "0" + bib
	}
	return bib
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
