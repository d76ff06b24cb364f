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

package label

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/silkit/ib/wire"
)

func TestMatchMandatoryAndOptional(t *testing.T) {
	subLabels := []wire.MatchingLabel{
		{Key: "k1", Value: "v1", Kind: wire.LabelMandatory},
		{Key: "k2", Value: "v2", Kind: wire.LabelOptional},
	}

	require.True(t, Match(subLabels, []wire.MatchingLabel{{Key: "k1", Value: "v1"}, {Key: "k2", Value: "v2"}}))
	require.True(t, Match(subLabels, []wire.MatchingLabel{{Key: "k1", Value: "v1"}}))
	require.False(t, Match(subLabels, []wire.MatchingLabel{{Key: "k1", Value: "v1"}, {Key: "k2", Value: "wrong"}}))
	require.False(t, Match(subLabels, []wire.MatchingLabel{{Key: "k2", Value: "v2"}}))
	require.True(t, Match(subLabels, []wire.MatchingLabel{{Key: "k1", Value: "v1"}, {Key: "extra", Value: "anything"}}))
}

func TestMatchEmptyValueIsWildcard(t *testing.T) {
	subLabels := []wire.MatchingLabel{{Key: "k1", Value: "", Kind: wire.LabelMandatory}}
	require.True(t, Match(subLabels, []wire.MatchingLabel{{Key: "k1", Value: "anything"}}))
}

func TestMatchMediaType(t *testing.T) {
	require.True(t, MatchMediaType("", "A"))
	require.True(t, MatchMediaType("A", "A"))
	require.False(t, MatchMediaType("A", "B"))
	require.False(t, MatchMediaType("B", ""))
}
