/*
Copyright (c) The SIL Kit-Go Authors.

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

// Package label implements the discovery-time label and media-type
// matching predicates shared by pub/sub and RPC routing.
package label

import "github.com/silkit/ib/wire"

// Match returns true iff every Mandatory label in subLabels appears with
// a matching value in pubLabels, and every Optional label in subLabels
// that also appears in pubLabels matches its value. Publisher-only labels
// never cause a mismatch. A label value of "" matches any value for that
// key, on either side.
func Match(subLabels, pubLabels []wire.MatchingLabel) bool {
	pubByKey := make(map[string]string, len(pubLabels))
	for _, l := range pubLabels {
		pubByKey[l.Key] = l.Value
	}
	for _, sub := range subLabels {
		pubValue, present := pubByKey[sub.Key]
		switch sub.Kind {
		case wire.LabelMandatory:
			if !present {
				return false
			}
			if !valuesMatch(sub.Value, pubValue) {
				return false
			}
		case wire.LabelOptional:
			if present && !valuesMatch(sub.Value, pubValue) {
				return false
			}
		}
	}
	return true
}

func valuesMatch(subValue, pubValue string) bool {
	if subValue == "" || pubValue == "" {
		return true
	}
	return subValue == pubValue
}

// MatchMediaType implements the media-type wildcard rule: an empty subscriber
// media type matches anything; otherwise it must equal the publisher's
// (always-literal) media type exactly.
func MatchMediaType(subscriberMT, publisherMT string) bool {
	return subscriberMT == "" || subscriberMT == publisherMT
}

// Encode packs a label list into a single string suitable for a
// ServiceDescriptor.SupplementalData value (the wire map type is
// string-to-string, so the label list itself needs a flat encoding).
func Encode(labels []wire.MatchingLabel) string {
	var out []byte
	for i, l := range labels {
		if i > 0 {
			out = append(out, ';')
		}
		kind := "o"
		if l.Kind == wire.LabelMandatory {
			kind = "m"
		}
		out = append(out, escape(l.Key)...)
		out = append(out, '=')
		out = append(out, escape(l.Value)...)
		out = append(out, ':')
		out = append(out, kind...)
	}
	return string(out)
}

// Decode is the inverse of Encode.
func Decode(s string) []wire.MatchingLabel {
	if s == "" {
		return nil
	}
	var labels []wire.MatchingLabel
	for _, term := range splitUnescaped(s, ';') {
		kv := splitUnescaped(term, ':')
		if len(kv) != 2 {
			continue
		}
		kind := wire.LabelOptional
		if kv[1] == "m" {
			kind = wire.LabelMandatory
		}
		parts := splitUnescaped(kv[0], '=')
		if len(parts) != 2 {
			continue
		}
		labels = append(labels, wire.MatchingLabel{Key: unescape(parts[0]), Value: unescape(parts[1]), Kind: kind})
	}
	return labels
}

func escape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', ';', ':', '=':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func unescape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		out = append(out, s[i])
	}
	return string(out)
}

func splitUnescaped(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
